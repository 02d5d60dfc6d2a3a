package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
	"github.com/xkilldash9x/scalpel-audit/internal/analysis/active/taint"
	"github.com/xkilldash9x/scalpel-audit/internal/analysis/active/timing"
	"github.com/xkilldash9x/scalpel-audit/internal/analysis/core"
	"github.com/xkilldash9x/scalpel-audit/internal/audit"
	"github.com/xkilldash9x/scalpel-audit/internal/config"
	"github.com/xkilldash9x/scalpel-audit/internal/element"
	"github.com/xkilldash9x/scalpel-audit/internal/network"
	"github.com/xkilldash9x/scalpel-audit/internal/observability"
	"github.com/xkilldash9x/scalpel-audit/internal/page"
)

type auditOptions struct {
	check             string
	strategy          string
	payloads          []string
	pairs             []string
	patterns          []string
	elements          []string
	includeSubdomains bool
	follow            bool
	scanID            string
	persist           bool
}

func newAuditCmd(provider storeProvider) *cobra.Command {
	opts := auditOptions{}

	cmd := &cobra.Command{
		Use:   "audit <url>",
		Short: "Audit the elements of one page with a built-in strategy",
		Long: `Fetches the page, extracts its links, forms, cookies and headers, and
audits them with the taint, differential or timing strategy.

Differential pairs are given as "true-payload|false-payload". Timing
payloads use __TIME__ where the requested delay goes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runAudit(ctx, cmd.OutOrStdout(), observability.GetLogger(), cfg, args[0], opts, provider)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.check, "check", "audit", "name issues are logged under")
	f.StringVarP(&opts.strategy, "strategy", "s", "taint", "taint, differential or timing")
	f.StringArrayVarP(&opts.payloads, "payload", "p", nil, "payload to inject (repeatable)")
	f.StringArrayVar(&opts.pairs, "pair", nil, `differential payload pair "true|false" (repeatable)`)
	f.StringArrayVar(&opts.patterns, "pattern", nil, "regexp whose match in a response is an issue (taint, repeatable)")
	f.StringSliceVarP(&opts.elements, "elements", "e", nil, "element kinds to audit (default: all enabled)")
	f.BoolVar(&opts.includeSubdomains, "include-subdomains", false, "treat subdomains of the target as in scope")
	f.BoolVar(&opts.follow, "follow", false, "also audit pages discovered in audit responses")
	f.StringVar(&opts.scanID, "scan-id", "", "scan ID issues are recorded under (default: random)")
	f.BoolVar(&opts.persist, "persist", false, "store issues in the database")
	return cmd
}

// auditPlan is the parsed form of auditOptions.
type auditPlan struct {
	opts     audit.Options
	payloads []string
	taint    core.Primitive
}

func (o auditOptions) plan() (auditPlan, error) {
	var p auditPlan
	for _, raw := range o.elements {
		kind, err := schemas.ParseElementKind(raw)
		if err != nil {
			return p, err
		}
		p.opts.Elements = append(p.opts.Elements, kind)
	}

	switch strings.ToLower(o.strategy) {
	case "taint":
		p.opts.Strategy = audit.StrategyTaint
		patterns := make([]*regexp.Regexp, 0, len(o.patterns))
		for _, raw := range o.patterns {
			re, err := regexp.Compile(raw)
			if err != nil {
				return p, fmt.Errorf("invalid pattern %q: %w", raw, err)
			}
			patterns = append(patterns, re)
		}
		p.taint = taint.NewPatternAnalyzer(patterns...)
	case "differential":
		p.opts.Strategy = audit.StrategyDifferential
		for _, raw := range o.pairs {
			t, f, ok := strings.Cut(raw, "|")
			if !ok {
				return p, fmt.Errorf("invalid pair %q: want \"true|false\"", raw)
			}
			p.opts.Pairs = append(p.opts.Pairs, core.Pair{True: t, False: f})
		}
		if len(p.opts.Pairs) == 0 {
			return p, fmt.Errorf("the differential strategy needs at least one --pair")
		}
	case "timing":
		p.opts.Strategy = audit.StrategyTiming
	default:
		return p, fmt.Errorf("unknown strategy %q", o.strategy)
	}

	if p.opts.Strategy != audit.StrategyDifferential && len(o.payloads) == 0 {
		return p, fmt.Errorf("the %s strategy needs at least one --payload", o.strategy)
	}
	p.payloads = o.payloads
	return p, nil
}

func runAudit(ctx context.Context, out io.Writer, logger *zap.Logger, cfg config.Interface, target string, opts auditOptions, provider storeProvider) error {
	plan, err := opts.plan()
	if err != nil {
		return err
	}
	scope, err := page.NewScope(target, opts.includeSubdomains)
	if err != nil {
		return err
	}

	reg, cleanup, err := newRegistry(ctx, cfg, provider, opts.scanID, opts.persist, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	session, err := newSession(cfg.Audit())
	if err != nil {
		return err
	}

	client := network.NewClient(clientConfig(cfg.Network(), logger))
	defer client.Close()

	resp, err := client.Do(ctx, &network.Request{Method: http.MethodGet, URL: target})
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", target, err)
	}
	root, err := page.FromResponse(resp, scope)
	if err != nil {
		return err
	}

	var mu sync.Mutex
	var discovered []*page.Page
	trainer := page.NewTrainer(scope, func(_ context.Context, p *page.Page, fresh []*element.Element) {
		logger.Info("Discovered new elements.", zap.String("url", p.URL()), zap.Int("count", len(fresh)))
		mu.Lock()
		discovered = append(discovered, p)
		mu.Unlock()
	}, logger)
	trainer.Seed(root)

	check := core.NewBaseCheck(core.CheckInfo{
		Name:        opts.check,
		Description: "Command line audit.",
		Severity:    schemas.SeverityHigh,
	}, logger)
	tc := cfg.Audit().Timing
	deps := audit.Deps{
		Sink:        reg,
		Transport:   client,
		Trainer:     trainer,
		Logger:      logger,
		Metrics:     metricsFromContext(ctx),
		Taint:       plan.taint,
		Timing:      timing.NewAnalyzer(timing.Config{Delay: tc.Delay, Multiplier: tc.Multiplier, BaselineSamples: tc.BaselineSamples}),
		Concurrency: cfg.Audit().Concurrency,
	}

	pages := []*page.Page{root}
	for round := 0; len(pages) > 0; round++ {
		for _, p := range pages {
			if err := audit.New(check, p, session, deps).Audit(ctx, plan.payloads, plan.opts); err != nil {
				return fmt.Errorf("auditing %s: %w", p.URL(), err)
			}
		}
		client.Wait()
		if !opts.follow || round > 0 {
			break
		}
		mu.Lock()
		pages, discovered = discovered, nil
		mu.Unlock()
	}

	logger.Info("Audit finished.", zap.String("url", target), zap.Int("issues", reg.Len()), zap.Int("elements_seen", trainer.Seen()))
	return finish(ctx, out, reg)
}
