// Package timing implements timing analysis: payloads asking the target to
// stall for a known time are injected and the response latency is compared
// with the element's baseline.
package timing

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-audit/internal/analysis/core"
	"github.com/xkilldash9x/scalpel-audit/internal/element"
)

// Placeholder is replaced in payloads with the requested delay.
const Placeholder = "__TIME__"

// Defaults for Config.
const (
	DefaultDelay           = 4 * time.Second
	DefaultBaselineSamples = 3
)

// Config controls the timing oracle.
type Config struct {
	// Delay is the stall each payload asks for.
	Delay time.Duration
	// Multiplier converts Delay into the unit the payload expects, e.g.
	// 1 for seconds and 1000 for milliseconds.
	Multiplier int
	// BaselineSamples is how many unmodified requests establish the baseline.
	BaselineSamples int
}

// Analyzer runs the timing oracle.
type Analyzer struct {
	cfg Config
}

// NewAnalyzer creates an analyzer, filling zero fields of cfg with defaults.
// Delay is rounded up to a whole payload unit so the stall the payload asks
// for is never shorter than the one the oracle waits for.
func NewAnalyzer(cfg Config) *Analyzer {
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultDelay
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 1
	}
	if cfg.BaselineSamples <= 0 {
		cfg.BaselineSamples = DefaultBaselineSamples
	}
	a := &Analyzer{cfg: cfg}
	a.cfg.Delay = a.units(cfg.Delay) * a.unit()
	return a
}

// Expand substitutes the delay into payload. Partial units round up.
func (a *Analyzer) Expand(payload string, delay time.Duration) string {
	return strings.ReplaceAll(payload, Placeholder, strconv.FormatInt(int64(a.units(delay)), 10))
}

// unit is the duration of one payload unit.
func (a *Analyzer) unit() time.Duration {
	u := time.Second / time.Duration(a.cfg.Multiplier)
	if u <= 0 {
		return time.Nanosecond
	}
	return u
}

func (a *Analyzer) units(d time.Duration) time.Duration {
	u := a.unit()
	return (d + u - 1) / u
}

// Analyze implements core.Primitive. A payload is reported when the injected
// response is slower than the slowest baseline by at least the requested
// delay, and a verification round with twice the delay is slower again.
func (a *Analyzer) Analyze(ctx context.Context, env core.Env, el *element.Element, in core.Input) error {
	logger := env.Logger().With(zap.String("element", el.ID()))

	baseline, err := a.baseline(ctx, env, el)
	if err != nil {
		return fmt.Errorf("measuring baseline: %w", err)
	}

	for _, payload := range in.Payloads {
		for _, mutation := range el.Mutations(a.Expand(payload, a.cfg.Delay)) {
			if err := ctx.Err(); err != nil {
				return err
			}

			resp, err := env.Submit(ctx, mutation)
			if err != nil || resp.Time < baseline+a.cfg.Delay {
				continue
			}

			verify := el.Clone()
			verify.Set(mutation.Altered, a.Expand(payload, 2*a.cfg.Delay))
			verify.Altered = mutation.Altered
			verify.Injected = a.Expand(payload, 2*a.cfg.Delay)
			verified, err := env.Submit(ctx, verify)
			if err != nil || verified.Time < baseline+2*a.cfg.Delay {
				logger.Debug("Timing signal did not verify.", zap.String("input", mutation.Altered), zap.Duration("first", resp.Time))
				continue
			}

			issue := env.NewIssue(mutation, resp, mutation.Altered, payload)
			issue.AddRemark("timing", fmt.Sprintf("Baseline %s, injected %s, verification %s.", baseline, resp.Time, verified.Time))
			env.Log(ctx, issue)
		}
	}
	return nil
}

// baseline returns the slowest of the unmodified samples.
func (a *Analyzer) baseline(ctx context.Context, env core.Env, el *element.Element) (time.Duration, error) {
	var slowest time.Duration
	for i := 0; i < a.cfg.BaselineSamples; i++ {
		resp, err := env.Submit(ctx, el.Clone())
		if err != nil {
			return 0, err
		}
		if resp.Time > slowest {
			slowest = resp.Time
		}
	}
	return slowest, nil
}
