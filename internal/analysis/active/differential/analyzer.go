// Package differential implements differential (rdiff) analysis: boolean
// payload pairs are compared against the element's default response to
// infer how an input is processed without relying on reflection.
package differential

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-audit/internal/analysis/core"
	"github.com/xkilldash9x/scalpel-audit/internal/element"
	"github.com/xkilldash9x/scalpel-audit/internal/network"
)

// DefaultPrecision is how many consecutive rounds must agree before a pair is
// reported.
const DefaultPrecision = 2

// Analyzer runs the differential comparison.
type Analyzer struct {
	comparator *Comparator
	precision  int
}

// NewAnalyzer creates an analyzer. A precision below one uses DefaultPrecision.
func NewAnalyzer(comparator *Comparator, precision int) *Analyzer {
	if comparator == nil {
		comparator = NewComparator(DefaultRules())
	}
	if precision < 1 {
		precision = DefaultPrecision
	}
	return &Analyzer{comparator: comparator, precision: precision}
}

// Analyze implements core.Primitive. For every input and pair, the true
// payload must keep producing the default response and the false payload
// must keep producing something else, in every round. A default response
// that is not stable across rounds disqualifies the element.
func (a *Analyzer) Analyze(ctx context.Context, env core.Env, el *element.Element, in core.Input) error {
	if len(in.Pairs) == 0 {
		return nil
	}
	logger := env.Logger().With(zap.String("element", el.ID()))

	control, err := env.Submit(ctx, el.Clone())
	if err != nil {
		return fmt.Errorf("fetching default response: %w", err)
	}

	for _, input := range el.Inputs {
		for _, pair := range in.Pairs {
			ok, evidence, err := a.confirm(ctx, env, el, input, pair, control)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}

			trueMutation := el.Clone()
			trueMutation.Set(input.Name, pair.True)
			trueMutation.Altered = input.Name
			trueMutation.Injected = pair.True

			issue := env.NewIssue(trueMutation, evidence, input.Name, pair.True)
			issue.AddRemark("differential", fmt.Sprintf("True payload %q reproduced the default response, false payload %q did not.", pair.True, pair.False))
			logger.Debug("Differential signal confirmed.", zap.String("input", input.Name), zap.String("true", pair.True))
			env.Log(ctx, issue)
		}
	}
	return nil
}

// confirm runs the rounds for one input and pair. It returns the last true
// response as evidence.
func (a *Analyzer) confirm(ctx context.Context, env core.Env, el *element.Element, input element.Input, pair core.Pair, control *network.Response) (bool, *network.Response, error) {
	var evidence *network.Response
	for round := 0; round < a.precision; round++ {
		if err := ctx.Err(); err != nil {
			return false, nil, err
		}

		again, err := env.Submit(ctx, el.Clone())
		if err != nil || !a.same(control, again, input.Value) {
			return false, nil, nil
		}

		trueResp, err := a.submit(ctx, env, el, input.Name, pair.True)
		if err != nil || trueResp.StatusCode != http.StatusOK {
			return false, nil, nil
		}
		falseResp, err := a.submit(ctx, env, el, input.Name, pair.False)
		if err != nil {
			return false, nil, nil
		}

		if !a.same(control, trueResp, input.Value, pair.True) || a.same(control, falseResp, input.Value, pair.False) {
			return false, nil, nil
		}
		evidence = trueResp
	}
	return true, evidence, nil
}

func (a *Analyzer) submit(ctx context.Context, env core.Env, el *element.Element, input, payload string) (*network.Response, error) {
	m := el.Clone()
	m.Set(input, payload)
	m.Altered = input
	m.Injected = payload
	return env.Submit(ctx, m)
}

func (a *Analyzer) same(x, y *network.Response, strip ...string) bool {
	return x.StatusCode == y.StatusCode && a.comparator.Equivalent(x.Body, y.Body, strip...)
}
