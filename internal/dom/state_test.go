package dom

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// fakeHandle records what Restore asks of the browser.
type fakeHandle struct {
	mu     sync.Mutex
	calls  []string
	failOn string
	hangOn string
	digest string
}

func (f *fakeHandle) record(call string) error {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	if call == f.failOn {
		return errors.New("boom")
	}
	return nil
}

func (f *fakeHandle) Navigate(ctx context.Context, url string) error {
	return f.record("navigate " + url)
}

func (f *fakeHandle) Replay(ctx context.Context, t Transition) error {
	call := "replay " + t.String()
	if call == f.hangOn {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.record(call)
}

func (f *fakeHandle) Digest(ctx context.Context) (string, error) {
	return f.digest, nil
}

func (f *fakeHandle) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func exploredState() *State {
	s := NewState("http://test/")
	s.PushTransition(PageLoad())
	s.PushTransition(Request("http://test/url1"))
	s.PushTransition(NewTransition("elem1", EventOnload))
	s.PushTransition(Request("http://test/url2"))
	s.PushTransition(NewTransition("elem2", EventClick))
	return s
}

func TestTransition(t *testing.T) {
	assert.True(t, PageLoad().IsInitial())
	assert.False(t, PageLoad().IsPlayable())
	assert.False(t, Request("http://test/").IsPlayable())
	assert.True(t, NewTransition("<a>", EventClick).IsPlayable())
	assert.False(t, NewTransition(PageMarker, EventClick).IsInitial())
	assert.Equal(t, "elem:click", NewTransition("elem", EventClick).String())
}

func TestState_PlayableTransitionsAndDepth(t *testing.T) {
	s := exploredState()

	assert.Equal(t, []Transition{
		NewTransition("elem1", EventOnload),
		NewTransition("elem2", EventClick),
	}, s.PlayableTransitions())
	assert.Equal(t, 3, s.Depth())
	assert.Len(t, s.Transitions(), 5)

	fresh := NewState("http://test/")
	assert.Equal(t, 0, fresh.Depth())
	fresh.PushTransition(PageLoad())
	assert.Equal(t, 0, fresh.Depth())
	fresh.PushTransition(Request("http://test/"))
	assert.Equal(t, 0, fresh.Depth(), "loading the origin does not add depth")

	s.ClearTransitions()
	assert.Empty(t, s.Transitions())
	assert.Equal(t, 0, s.Depth())
}

func TestState_TransitionsAreCopies(t *testing.T) {
	s := exploredState()
	got := s.Transitions()
	got[0] = NewTransition("mutated", EventClick)
	assert.True(t, s.Transitions()[0].IsInitial())
}

func TestState_Equal(t *testing.T) {
	a := exploredState()
	b := NewState("http://elsewhere/")
	a.SetDigest("abc")
	b.SetDigest("abc")
	assert.True(t, a.Equal(b), "equality depends only on the digest")

	set := NewSkipStates()
	a.SetSkipStates(set)
	b.SetSkipStates(set)
	set.Add(a.Digest())
	assert.False(t, b.IsNovel(b.Digest()), "a state reached another way is already explored")

	b.SetDigest("def")
	assert.False(t, a.Equal(b))
	assert.False(t, a.Equal(nil))
}

func TestSkipStates(t *testing.T) {
	set := NewSkipStates("a")
	assert.True(t, set.Add("b"))
	assert.False(t, set.Add("b"))
	assert.True(t, set.Contains("a"))

	set.Merge(NewSkipStates("c", "a"))
	assert.Equal(t, []string{"a", "b", "c"}, set.Slice())
	assert.Equal(t, 3, set.Len())

	set.Merge(set)
	set.Merge(nil)
	assert.Equal(t, 3, set.Len())
}

func TestSkipStates_ConcurrentAdd(t *testing.T) {
	set := NewSkipStates()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				set.Add(fmt.Sprintf("%d", i))
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, 100, set.Len())
}

func TestState_SharedSkipStates(t *testing.T) {
	shared := NewSkipStates()
	a, b := NewState("http://test/a"), NewState("http://test/b")
	a.SetSkipStates(shared)
	b.SetSkipStates(shared)

	assert.True(t, b.IsNovel("d1"))
	a.SkipStates().Add("d1")
	assert.False(t, b.IsNovel("d1"))
}

func TestState_Restore(t *testing.T) {
	t.Run("replays from origin", func(t *testing.T) {
		h := &fakeHandle{}
		require.NoError(t, exploredState().Restore(context.Background(), h, time.Second))
		assert.Equal(t, []string{
			"navigate http://test/url1",
			"replay elem1:onload",
			"replay elem2:click",
		}, h.Calls())
	})

	t.Run("navigates directly when nothing needs replaying", func(t *testing.T) {
		s := NewState("http://test/")
		s.SetURL("http://test/#/section")
		h := &fakeHandle{}
		require.NoError(t, s.Restore(context.Background(), h, time.Second))
		assert.Equal(t, []string{"navigate http://test/#/section"}, h.Calls())
	})

	t.Run("loads the page URL without request transitions", func(t *testing.T) {
		s := NewState("http://test/")
		s.PushTransition(PageLoad())
		s.PushTransition(NewTransition("button", EventClick))
		h := &fakeHandle{}
		require.NoError(t, s.Restore(context.Background(), h, time.Second))
		assert.Equal(t, []string{"navigate http://test/", "replay button:click"}, h.Calls())
	})

	t.Run("aborts at the first failing step", func(t *testing.T) {
		h := &fakeHandle{failOn: "replay elem1:onload"}
		err := exploredState().Restore(context.Background(), h, time.Second)
		require.ErrorIs(t, err, ErrRestoreFailed)
		assert.NotContains(t, h.Calls(), "replay elem2:click")
	})

	t.Run("navigation failure", func(t *testing.T) {
		h := &fakeHandle{failOn: "navigate http://test/url1"}
		err := exploredState().Restore(context.Background(), h, time.Second)
		assert.ErrorIs(t, err, ErrRestoreFailed)
		assert.Len(t, h.Calls(), 1)
	})

	t.Run("step timeout", func(t *testing.T) {
		defer goleak.VerifyNone(t)

		h := &fakeHandle{hangOn: "replay elem1:onload"}
		start := time.Now()
		err := exploredState().Restore(context.Background(), h, 50*time.Millisecond)
		require.ErrorIs(t, err, ErrRestoreFailed)
		assert.Contains(t, err.Error(), context.DeadlineExceeded.Error())
		assert.Less(t, time.Since(start), 2*time.Second)
		assert.NotContains(t, h.Calls(), "replay elem2:click")
	})
}

func TestState_RPCRoundTrip(t *testing.T) {
	s := exploredState()
	s.SetURL("http://test/url2#frag")
	s.SetDigest("digest-1")
	s.SkipStates().Add("seen-1")
	s.SkipStates().Add("seen-2")
	s.AddDataFlowSink(DataFlowSink{
		Object:               "window",
		Function:             Function{Name: "eval", Source: "function eval() { [native code] }", Arguments: []interface{}{"taint-1"}},
		TaintedArgumentIndex: 0,
		TaintedValue:         "taint-1",
		Taint:                "taint-1",
		Trace: []Frame{
			{Function: Function{Name: "onClick", Arguments: []interface{}{"evt"}}, URL: "http://test/app.js", Line: 12},
		},
	})
	s.AddExecutionFlowSink(ExecutionFlowSink{
		Data:  []interface{}{"executed"},
		Trace: []Frame{{Function: Function{Name: "callback"}, URL: "http://test/app.js", Line: 40}},
	})

	raw, err := s.Encode()
	require.NoError(t, err)
	got, err := Decode(raw)
	require.NoError(t, err)

	if diff := cmp.Diff(s.ToRPC(), got.ToRPC(), cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("state changed across round trip (-want +got):\n%s", diff)
	}
	assert.True(t, s.Equal(got))
	assert.Equal(t, s.Depth(), got.Depth())
	assert.False(t, got.IsNovel("seen-2"))
	assert.True(t, got.HasSinks())
}

func TestState_ToRPCIsDetached(t *testing.T) {
	s := NewState("http://test/")
	s.AddDataFlowSink(DataFlowSink{Function: Function{Name: "f", Arguments: []interface{}{"a"}}})

	d := s.ToRPC()
	d.DataFlowSinks[0].Function.Arguments[0] = "changed"
	assert.Equal(t, "a", s.DataFlowSinks()[0].Function.Arguments[0])
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode([]byte("{not json"))
	assert.Error(t, err)
}
