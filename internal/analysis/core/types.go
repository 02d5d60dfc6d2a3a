package core

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
	"github.com/xkilldash9x/scalpel-audit/internal/element"
	"github.com/xkilldash9x/scalpel-audit/internal/network"
)

// Pair is a differential payload pair: True should leave the response as it
// was, False should change it.
type Pair struct {
	True  string `json:"true"`
	False string `json:"false"`
}

// Input is the payload set a primitive is run with.
type Input struct {
	Payloads []string
	Pairs    []Pair
}

// Env is what an element-level analysis primitive needs from the dispatcher
// that runs it. Everything a primitive submits or logs goes through Env, so
// training, deduplication and issue ceilings stay with the dispatcher.
type Env interface {
	Check() Check
	// Submit sends the element's current inputs to the target.
	Submit(ctx context.Context, el *element.Element) (*network.Response, error)
	// NewIssue builds an issue for el with its evidence filled in from resp.
	NewIssue(el *element.Element, resp *network.Response, discriminators ...string) schemas.Issue
	// Log registers issues through the dispatcher's single funnel.
	Log(ctx context.Context, issues ...schemas.Issue)
	Logger() *zap.Logger
}

// Primitive runs one analysis technique against one candidate element.
type Primitive interface {
	Analyze(ctx context.Context, env Env, el *element.Element, in Input) error
}

// PrimitiveFunc adapts a function to the Primitive interface.
type PrimitiveFunc func(ctx context.Context, env Env, el *element.Element, in Input) error

func (f PrimitiveFunc) Analyze(ctx context.Context, env Env, el *element.Element, in Input) error {
	return f(ctx, env, el, in)
}
