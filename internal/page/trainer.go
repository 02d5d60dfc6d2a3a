package page

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-audit/internal/audit"
	"github.com/xkilldash9x/scalpel-audit/internal/dom"
	"github.com/xkilldash9x/scalpel-audit/internal/element"
	"github.com/xkilldash9x/scalpel-audit/internal/network"
)

var _ audit.Trainer = (*Trainer)(nil)

// DiscoveryFunc receives a page built from a trained response together with
// the elements on it nobody had seen before.
type DiscoveryFunc func(ctx context.Context, p *Page, fresh []*element.Element)

// Trainer learns new elements from responses to audit traffic. An element
// is reported the first time its ID is seen, across every response. Pages
// whose document digest was already explored are not parsed for elements.
type Trainer struct {
	scope    *Scope
	discover DiscoveryFunc
	logger   *zap.Logger
	states   *dom.SkipStates

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewTrainer creates a trainer that reports new elements to discover.
func NewTrainer(scope *Scope, discover DiscoveryFunc, logger *zap.Logger) *Trainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trainer{
		scope:    scope,
		discover: discover,
		logger:   logger.Named("trainer"),
		states:   dom.NewSkipStates(),
		seen:     make(map[string]struct{}),
	}
}

// Seed marks the elements of already known pages as seen.
func (t *Trainer) Seed(pages ...*Page) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range pages {
		if st := p.DOM(); st != nil {
			st.SetSkipStates(t.states)
			t.states.Add(st.Digest())
		}
		for _, el := range p.All() {
			t.seen[el.ID()] = struct{}{}
		}
	}
}

// Train parses resp and reports the elements not seen before.
func (t *Trainer) Train(ctx context.Context, resp *network.Response) {
	if resp == nil {
		return
	}
	p, err := FromResponse(resp, t.scope)
	if err != nil {
		t.logger.Debug("Could not parse trained response.", zap.String("url", resp.URL), zap.Error(err))
		return
	}
	if st := p.DOM(); st != nil {
		st.SetSkipStates(t.states)
		if !t.states.Add(st.Digest()) {
			t.logger.Debug("DOM state already explored.", zap.String("url", resp.URL), zap.String("digest", st.Digest()))
			return
		}
	}

	var fresh []*element.Element
	t.mu.Lock()
	for _, el := range p.All() {
		if _, ok := t.seen[el.ID()]; ok {
			continue
		}
		t.seen[el.ID()] = struct{}{}
		fresh = append(fresh, el)
	}
	t.mu.Unlock()

	if len(fresh) == 0 {
		return
	}
	t.logger.Debug("New elements found.", zap.String("url", resp.URL), zap.Int("count", len(fresh)))
	if t.discover != nil {
		t.discover(ctx, p, fresh)
	}
}

// States is the set of document digests explored so far. Every page the
// trainer builds shares it.
func (t *Trainer) States() *dom.SkipStates {
	return t.states
}

// Seen returns how many distinct elements the trainer knows.
func (t *Trainer) Seen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.seen)
}
