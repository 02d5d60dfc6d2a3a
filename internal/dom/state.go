// Package dom tracks the client-side state of a page: how it was reached, how
// to get back to it, and what it has shown so far.
package dom

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
)

// DefaultStepTimeout bounds a single navigation or replay step during Restore.
const DefaultStepTimeout = 30 * time.Second

// ErrRestoreFailed is returned when a state cannot be reconstructed in a browser.
var ErrRestoreFailed = errors.New("dom: restore failed")

// Handle is the part of a browser that Restore drives.
type Handle interface {
	Navigate(ctx context.Context, url string) error
	Replay(ctx context.Context, t Transition) error
	Digest(ctx context.Context) (string, error)
}

// State is a snapshot of a page's client-side state. A State is owned by the
// page it describes; only the SkipStates set is meant to be shared.
type State struct {
	mu sync.RWMutex

	url     string
	pageURL string
	digest  string

	transitions        []Transition
	skipStates         *SkipStates
	dataFlowSinks      []DataFlowSink
	executionFlowSinks []ExecutionFlowSink
}

// NewState creates the state of a page loaded from pageURL.
func NewState(pageURL string) *State {
	return &State{
		url:        pageURL,
		pageURL:    pageURL,
		skipStates: NewSkipStates(),
	}
}

// URL is the current client-side URL, which may differ from PageURL after
// fragment or history changes.
func (s *State) URL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.url
}

func (s *State) SetURL(url string) {
	s.mu.Lock()
	s.url = url
	s.mu.Unlock()
}

// PageURL is the URL of the page as fetched from the server.
func (s *State) PageURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pageURL
}

func (s *State) Digest() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.digest
}

func (s *State) SetDigest(digest string) {
	s.mu.Lock()
	s.digest = digest
	s.mu.Unlock()
}

// PushTransition appends t to the transition history.
func (s *State) PushTransition(t Transition) {
	s.mu.Lock()
	s.transitions = append(s.transitions, t)
	s.mu.Unlock()
}

// Transitions returns a copy of the transition history.
func (s *State) Transitions() []Transition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Transition(nil), s.transitions...)
}

func (s *State) ClearTransitions() {
	s.mu.Lock()
	s.transitions = nil
	s.mu.Unlock()
}

// Depth is the number of transitions needed to reach this state, not counting
// the initial load: the page-load marker and the request that fetched the
// origin URL.
func (s *State) Depth() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	depth := 0
	originSeen, playableSeen := false, false
	for _, t := range s.transitions {
		switch {
		case t.IsInitial():
			continue
		case t.IsRequest() && !originSeen && !playableSeen:
			originSeen = true
			continue
		case t.IsPlayable():
			playableSeen = true
		}
		depth++
	}
	return depth
}

// PlayableTransitions returns, in order, the transitions that must be
// re-fired through a browser to reach this state.
func (s *State) PlayableTransitions() []Transition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Transition
	for _, t := range s.transitions {
		if t.IsPlayable() {
			out = append(out, t)
		}
	}
	return out
}

// originURL is the URL the transition history starts from.
func (s *State) originURL() string {
	for _, t := range s.transitions {
		if t.IsRequest() {
			return t.Element()
		}
	}
	return s.pageURL
}

// SkipStates returns the shared set of explored digests.
func (s *State) SkipStates() *SkipStates {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.skipStates
}

// SetSkipStates makes the state share set with other states.
func (s *State) SetSkipStates(set *SkipStates) {
	if set == nil {
		set = NewSkipStates()
	}
	s.mu.Lock()
	s.skipStates = set
	s.mu.Unlock()
}

// IsNovel reports whether digest has not been explored yet.
func (s *State) IsNovel(digest string) bool {
	return !s.SkipStates().Contains(digest)
}

// Equal reports whether two states have the same digest. Transition histories
// and URLs are not compared.
func (s *State) Equal(other *State) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.Digest() == other.Digest()
}

func (s *State) AddDataFlowSink(sink DataFlowSink) {
	s.mu.Lock()
	s.dataFlowSinks = append(s.dataFlowSinks, sink)
	s.mu.Unlock()
}

func (s *State) DataFlowSinks() []DataFlowSink {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]DataFlowSink(nil), s.dataFlowSinks...)
}

func (s *State) AddExecutionFlowSink(sink ExecutionFlowSink) {
	s.mu.Lock()
	s.executionFlowSinks = append(s.executionFlowSinks, sink)
	s.mu.Unlock()
}

func (s *State) ExecutionFlowSinks() []ExecutionFlowSink {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ExecutionFlowSink(nil), s.executionFlowSinks...)
}

// HasSinks reports whether any taint reached a sink in this state.
func (s *State) HasSinks() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.dataFlowSinks) > 0 || len(s.executionFlowSinks) > 0
}

// Restore drives h back into this state. If the state was reached without
// any playable transition but lives at a different URL than its page, it
// navigates there directly. Otherwise it loads the origin URL and replays
// every playable transition in order. The first failing step aborts the
// restore. Each step is bounded by stepTimeout, or DefaultStepTimeout when it
// is zero.
func (s *State) Restore(ctx context.Context, h Handle, stepTimeout time.Duration) error {
	if stepTimeout <= 0 {
		stepTimeout = DefaultStepTimeout
	}

	s.mu.RLock()
	url, pageURL, origin := s.url, s.pageURL, s.originURL()
	s.mu.RUnlock()
	playable := s.PlayableTransitions()

	if url != pageURL && len(playable) == 0 {
		if err := runStep(ctx, stepTimeout, func(ctx context.Context) error {
			return h.Navigate(ctx, url)
		}); err != nil {
			return fmt.Errorf("%w: navigating to %s: %v", ErrRestoreFailed, url, err)
		}
		return nil
	}

	if err := runStep(ctx, stepTimeout, func(ctx context.Context) error {
		return h.Navigate(ctx, origin)
	}); err != nil {
		return fmt.Errorf("%w: loading %s: %v", ErrRestoreFailed, origin, err)
	}

	for i, t := range playable {
		t := t
		if err := runStep(ctx, stepTimeout, func(ctx context.Context) error {
			return h.Replay(ctx, t)
		}); err != nil {
			return fmt.Errorf("%w: replaying transition %d (%s): %v", ErrRestoreFailed, i, t, err)
		}
	}
	return nil
}

// runStep runs fn under a per-step deadline and gives up as soon as the
// deadline passes, even if fn ignores its context.
func runStep(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(stepCtx) }()

	select {
	case err := <-done:
		return err
	case <-stepCtx.Done():
		return stepCtx.Err()
	}
}

// StateData is the plain structured form of a State.
type StateData struct {
	URL                string              `json:"url"`
	PageURL            string              `json:"page_url"`
	Digest             string              `json:"digest,omitempty"`
	Transitions        []TransitionData    `json:"transitions"`
	SkipStates         []string            `json:"skip_states"`
	DataFlowSinks      []DataFlowSink      `json:"data_flow_sinks"`
	ExecutionFlowSinks []ExecutionFlowSink `json:"execution_flow_sinks"`
}

// ToRPC converts the state to its plain structured form. The result shares no
// memory with s.
func (s *State) ToRPC() StateData {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d := StateData{
		URL:                s.url,
		PageURL:            s.pageURL,
		Digest:             s.digest,
		Transitions:        make([]TransitionData, 0, len(s.transitions)),
		SkipStates:         s.skipStates.Slice(),
		DataFlowSinks:      make([]DataFlowSink, 0, len(s.dataFlowSinks)),
		ExecutionFlowSinks: make([]ExecutionFlowSink, 0, len(s.executionFlowSinks)),
	}
	for _, t := range s.transitions {
		d.Transitions = append(d.Transitions, t.ToRPC())
	}
	for _, sink := range s.dataFlowSinks {
		d.DataFlowSinks = append(d.DataFlowSinks, sink.Clone())
	}
	for _, sink := range s.executionFlowSinks {
		d.ExecutionFlowSinks = append(d.ExecutionFlowSinks, sink.Clone())
	}
	return d
}

// StateFromRPC reconstructs a State. The skip-state set is not shared with
// anything; use SetSkipStates to join it to a crawl's set.
func StateFromRPC(d StateData) *State {
	s := &State{
		url:        d.URL,
		pageURL:    d.PageURL,
		digest:     d.Digest,
		skipStates: NewSkipStates(d.SkipStates...),
	}
	for _, t := range d.Transitions {
		s.transitions = append(s.transitions, TransitionFromRPC(t))
	}
	for _, sink := range d.DataFlowSinks {
		s.dataFlowSinks = append(s.dataFlowSinks, sink.Clone())
	}
	for _, sink := range d.ExecutionFlowSinks {
		s.executionFlowSinks = append(s.executionFlowSinks, sink.Clone())
	}
	return s
}

// Encode serializes the state for transfer between processes.
func (s *State) Encode() ([]byte, error) {
	return schemas.Marshal(s.ToRPC())
}

// Decode reconstructs a state produced by Encode.
func Decode(data []byte) (*State, error) {
	var d StateData
	if err := schemas.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("dom: decoding state: %w", err)
	}
	return StateFromRPC(d), nil
}
