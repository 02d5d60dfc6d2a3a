package audit

import (
	"context"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
	"github.com/xkilldash9x/scalpel-audit/internal/analysis/core"
	"github.com/xkilldash9x/scalpel-audit/internal/element"
)

// Strategy selects the analysis Audit runs.
type Strategy int

const (
	StrategyTaint Strategy = iota
	StrategyDifferential
	StrategyTiming
	StrategyCustom
)

func (s Strategy) String() string {
	switch s {
	case StrategyTaint:
		return "taint"
	case StrategyDifferential:
		return "differential"
	case StrategyTiming:
		return "timing"
	case StrategyCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// Train controls whether responses are parsed for new elements.
type Train int

const (
	// TrainAuto trains only on responses to submitted payloads.
	TrainAuto Train = iota
	TrainOn
	TrainOff
)

// CustomFunc is invoked once per candidate by the custom strategy.
type CustomFunc func(ctx context.Context, el *element.Element, payloads []string) error

// Options tune an Audit call.
type Options struct {
	Strategy Strategy
	Train    Train
	// Elements narrows the candidate kinds.
	Elements []schemas.ElementKind
	// Pairs are the payload pairs of the differential strategy.
	Pairs []core.Pair
	// Custom is the handler of the custom strategy.
	Custom CustomFunc
}
