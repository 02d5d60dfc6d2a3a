// Package audit dispatches analysis strategies against the elements of a page
// and funnels the resulting issues, deduplicated and rate-limited, to a
// results sink.
package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spaolacci/murmur3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
	"github.com/xkilldash9x/scalpel-audit/internal/analysis/active/differential"
	"github.com/xkilldash9x/scalpel-audit/internal/analysis/active/taint"
	"github.com/xkilldash9x/scalpel-audit/internal/analysis/active/timing"
	"github.com/xkilldash9x/scalpel-audit/internal/analysis/core"
	"github.com/xkilldash9x/scalpel-audit/internal/element"
	"github.com/xkilldash9x/scalpel-audit/internal/network"
	"github.com/xkilldash9x/scalpel-audit/internal/observability"
)

// DefaultConcurrency bounds how many candidates one Audit call analyzes at once.
const DefaultConcurrency = 10

var (
	// ErrUnknownElementKind is returned when an element-kind filter names a
	// kind that does not exist.
	ErrUnknownElementKind = schemas.ErrUnknownElementKind
	// ErrNoCustomHandler is returned when the custom strategy is selected
	// without a handler, or a handler is supplied to another strategy.
	ErrNoCustomHandler = errors.New("audit: custom strategy requires exactly one handler")
)

// Skip reasons reported to metrics.
const (
	skipAudited   = "already_audited"
	skipPreferred = "already_logged"
	skipCeiling   = "issue_ceiling"
	skipDOMState  = "dom_state_audited"
)

// Deps are the collaborators an Auditor works with.
type Deps struct {
	Sink      ResultsSink
	Transport Transport
	// Trainer is optional.
	Trainer Trainer
	Logger  *zap.Logger
	// Metrics is optional.
	Metrics *observability.Metrics

	// Element-level primitives for the built-in strategies. Nil fields get
	// the reference implementations.
	Taint        core.Primitive
	Differential core.Primitive
	Timing       core.Primitive

	// Concurrency bounds per-call parallelism. Zero uses DefaultConcurrency.
	Concurrency int
}

// Auditor is the audit capability a check composes with. It is bound to one
// check and one page; the Session carries state across them.
type Auditor struct {
	check   core.Check
	page    Page
	session *Session
	deps    Deps
	logger  *zap.Logger
	ceiling int
}

// New binds check to page under session.
func New(check core.Check, page Page, session *Session, deps Deps) *Auditor {
	if deps.Logger == nil {
		deps.Logger = observability.GetLogger()
	}
	if deps.Taint == nil {
		deps.Taint = taint.NewPatternAnalyzer()
	}
	if deps.Differential == nil {
		deps.Differential = differential.NewAnalyzer(nil, 0)
	}
	if deps.Timing == nil {
		deps.Timing = timing.NewAnalyzer(timing.Config{})
	}
	if deps.Concurrency <= 0 {
		deps.Concurrency = DefaultConcurrency
	}
	return &Auditor{
		check:   check,
		page:    page,
		session: session,
		deps:    deps,
		logger:  deps.Logger.Named("audit").With(zap.String("check", check.Name()), zap.String("page", page.URL())),
		ceiling: session.Ceiling(check.Name(), check.MaxIssues()),
	}
}

func (a *Auditor) Check() core.Check   { return a.check }
func (a *Auditor) Page() Page          { return a.page }
func (a *Auditor) Session() *Session   { return a.session }
func (a *Auditor) Logger() *zap.Logger { return a.logger }

// SelectCandidates returns one detached copy of every page element of the
// requested kinds, in kind order and then page order. Without kinds the
// check's declared kinds are used, and without those DefaultElementKinds.
// Kinds the scan policy disables are dropped silently, as are elements
// without inputs. The body kind yields a single pseudo-element holding the
// page body.
func (a *Auditor) SelectCandidates(kinds ...schemas.ElementKind) ([]*element.Element, error) {
	if len(kinds) == 0 {
		kinds = a.check.Elements()
	}
	if len(kinds) == 0 {
		kinds = schemas.DefaultElementKinds
	}
	for _, k := range kinds {
		if !k.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownElementKind, k)
		}
	}

	var candidates []*element.Element
	for _, k := range kinds {
		if !a.session.ElementEnabled(k) {
			continue
		}

		var source []*element.Element
		if k == schemas.ElementBody {
			source = []*element.Element{a.bodyElement()}
		} else {
			source = a.page.Elements(k)
		}

		for _, el := range source {
			if el == nil || !el.HasInputs() {
				continue
			}
			c := el.Clone()
			c.Auditor = a.check.Name()
			candidates = append(candidates, c)
		}
	}
	return candidates, nil
}

func (a *Auditor) bodyElement() *element.Element {
	if a.page.Body() == "" {
		return element.New(schemas.ElementBody, a.page.URL(), "")
	}
	return element.New(schemas.ElementBody, a.page.URL(), "", element.Input{Name: "body", Value: a.page.Body()})
}

// Audit runs opts.Strategy over every candidate. Candidates already proven
// vulnerable by this check or a preferred one are skipped, as is anything
// this check already audited with the same strategy and payloads. A page
// whose document digest this check already audited that way is skipped
// whole.
func (a *Auditor) Audit(ctx context.Context, payloads []string, opts Options) error {
	prim, err := a.primitive(opts)
	if err != nil {
		return err
	}
	candidates, err := a.SelectCandidates(opts.Elements...)
	if err != nil {
		return err
	}

	name := a.check.Name()
	if a.session.CeilingReached(name, a.ceiling) {
		a.logger.Debug("Issue ceiling reached, not auditing.", zap.Int("ceiling", a.ceiling))
		a.deps.Metrics.ElementSkipped(name, skipCeiling)
		return nil
	}

	in := core.Input{Payloads: payloads, Pairs: opts.Pairs}
	auditID := a.auditSuffix(opts.Strategy, in)
	if st := a.page.DOM(); st != nil && st.Digest() != "" {
		if !a.Audited("dom-" + st.Digest() + auditID) {
			a.logger.Debug("DOM state already audited.", zap.String("digest", st.Digest()))
			a.deps.Metrics.ElementSkipped(name, skipDOMState)
			return nil
		}
	}
	env := &run{a: a, train: opts.Train}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.deps.Concurrency)
	for _, el := range candidates {
		if a.Skip(el) {
			continue
		}
		if !a.Audited(el.ID() + auditID) {
			a.logger.Debug("Element already audited.", zap.String("element", el.ID()))
			a.deps.Metrics.ElementSkipped(name, skipAudited)
			continue
		}

		el := el
		g.Go(func() error {
			err := prim.Analyze(gctx, env, el, in)
			switch {
			case err == nil:
				return nil
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return err
			default:
				a.logger.Warn("Analysis of element failed.", zap.String("element", el.ID()), zap.Stringer("strategy", opts.Strategy), zap.Error(err))
				return nil
			}
		})
	}
	return g.Wait()
}

// AuditTaint runs taint analysis with payloads.
func (a *Auditor) AuditTaint(ctx context.Context, payloads []string, opts Options) error {
	opts.Strategy = StrategyTaint
	return a.Audit(ctx, payloads, opts)
}

// AuditDifferential runs differential analysis with pairs.
func (a *Auditor) AuditDifferential(ctx context.Context, pairs []core.Pair, opts Options) error {
	opts.Strategy = StrategyDifferential
	opts.Pairs = pairs
	return a.Audit(ctx, nil, opts)
}

// AuditTiming runs timing analysis with payloads.
func (a *Auditor) AuditTiming(ctx context.Context, payloads []string, opts Options) error {
	opts.Strategy = StrategyTiming
	return a.Audit(ctx, payloads, opts)
}

// AuditCustom invokes fn once per candidate with payloads.
func (a *Auditor) AuditCustom(ctx context.Context, payloads []string, fn CustomFunc, opts Options) error {
	opts.Strategy = StrategyCustom
	opts.Custom = fn
	return a.Audit(ctx, payloads, opts)
}

func (a *Auditor) primitive(opts Options) (core.Primitive, error) {
	if (opts.Strategy == StrategyCustom) != (opts.Custom != nil) {
		return nil, ErrNoCustomHandler
	}
	switch opts.Strategy {
	case StrategyTaint:
		return a.deps.Taint, nil
	case StrategyDifferential:
		return a.deps.Differential, nil
	case StrategyTiming:
		return a.deps.Timing, nil
	case StrategyCustom:
		fn := opts.Custom
		return core.PrimitiveFunc(func(ctx context.Context, _ core.Env, el *element.Element, in core.Input) error {
			return fn(ctx, el, in.Payloads)
		}), nil
	default:
		return nil, fmt.Errorf("audit: unknown strategy %d", opts.Strategy)
	}
}

// auditSuffix distinguishes audits of the same element with different
// strategies or payload sets.
func (a *Auditor) auditSuffix(s Strategy, in core.Input) string {
	h := murmur3.New64()
	for _, p := range in.Payloads {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	for _, p := range in.Pairs {
		h.Write([]byte(p.True))
		h.Write([]byte{1})
		h.Write([]byte(p.False))
		h.Write([]byte{0})
	}
	return fmt.Sprintf(":%s:%016x", s, h.Sum64())
}

// RegisterResults is the single funnel to the results sink. Once the check
// has reached its issue ceiling it silently does nothing; otherwise the
// counter grows by the batch size and the batch is forwarded.
func (a *Auditor) RegisterResults(ctx context.Context, issues []schemas.Issue) error {
	if len(issues) == 0 {
		return nil
	}
	name := a.check.Name()
	if !a.session.reserve(name, len(issues), a.ceiling) {
		a.logger.Debug("Issue ceiling reached, dropping issues.", zap.Int("count", len(issues)), zap.Int("ceiling", a.ceiling))
		a.deps.Metrics.IssuesDropped(name, len(issues))
		return nil
	}
	a.deps.Metrics.IssuesRegistered(name, len(issues))
	if err := a.deps.Sink.Register(ctx, issues); err != nil {
		return fmt.Errorf("registering %d issues: %w", len(issues), err)
	}
	return nil
}

// Skip reports whether el is already proven vulnerable by this check or by
// any check it prefers, in whatever order those checks ran.
func (a *Auditor) Skip(el *element.Element) bool {
	names := append([]string{a.check.Name()}, a.check.Preferred()...)
	for _, name := range names {
		if a.deps.Sink.HasIssue(el.IssueID(name)) {
			a.logger.Debug("Element already logged.", zap.String("element", el.ID()), zap.String("by", name))
			a.deps.Metrics.ElementSkipped(a.check.Name(), skipPreferred)
			return true
		}
	}
	return false
}

// Audited records id as audited by this check and reports whether it was new.
func (a *Auditor) Audited(id string) bool {
	return a.session.MarkAudited(a.check.Name(), id)
}

// IsAudited reports whether id has been audited by this check.
func (a *Auditor) IsAudited(id string) bool {
	return a.session.IsAudited(a.check.Name(), id)
}

// NewIssue builds an issue for el, with evidence from resp when given.
func (a *Auditor) NewIssue(el *element.Element, resp *network.Response, discriminators ...string) schemas.Issue {
	name := a.check.Description()
	if name == "" {
		name = a.check.Name()
	}
	issue := schemas.Issue{
		ID:         el.IssueID(a.check.Name(), discriminators...),
		Digest:     el.IssueID(a.check.Name()),
		Check:      a.check.Name(),
		Name:       name,
		Severity:   a.check.Severity(),
		URL:        el.Action,
		Elem:       el.Kind,
		Var:        el.Altered,
		Method:     el.Method,
		Injected:   el.Injected,
		ObservedAt: time.Now().UTC(),
	}
	if resp == nil {
		return issue
	}
	if resp.URL != "" {
		issue.URL = resp.URL
	}
	issue.Response = schemas.IssueResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Headers.Clone(),
		Body:       resp.Body,
	}
	if req := resp.Request; req != nil {
		issue.Method = req.Method
		issue.Request = schemas.IssueRequest{
			Method:  req.Method,
			URL:     req.URL,
			Headers: req.Headers.Clone(),
			Body:    req.Body,
		}
	}
	return issue
}

// log registers issues one at a time so each is counted against the ceiling.
func (a *Auditor) log(ctx context.Context, issues ...schemas.Issue) {
	for _, issue := range issues {
		if err := a.RegisterResults(ctx, []schemas.Issue{issue}); err != nil {
			a.logger.Error("Could not register issue.", zap.String("issue", issue.ID), zap.Error(err))
		}
	}
}

// run is the core.Env handed to primitives during one Audit call.
type run struct {
	a     *Auditor
	train Train
}

func (r *run) Check() core.Check   { return r.a.check }
func (r *run) Logger() *zap.Logger { return r.a.logger }

func (r *run) NewIssue(el *element.Element, resp *network.Response, discriminators ...string) schemas.Issue {
	return r.a.NewIssue(el, resp, discriminators...)
}

func (r *run) Log(ctx context.Context, issues ...schemas.Issue) {
	r.a.log(ctx, issues...)
}

// Submit sends el and, depending on the training mode, hands the response to
// the trainer. In TrainAuto mode only responses to submitted payloads are
// trained on.
func (r *run) Submit(ctx context.Context, el *element.Element) (*network.Response, error) {
	req, err := el.Request()
	if err != nil {
		return nil, err
	}
	resp, err := r.a.deps.Transport.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if r.a.deps.Trainer != nil && r.shouldTrain(el) {
		r.a.deps.Trainer.Train(ctx, resp)
	}
	return resp, nil
}

func (r *run) shouldTrain(el *element.Element) bool {
	switch r.train {
	case TrainOn:
		return true
	case TrainOff:
		return false
	default:
		return strings.TrimSpace(el.Altered) != ""
	}
}
