package differential

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
	"github.com/xkilldash9x/scalpel-audit/internal/analysis/core"
	"github.com/xkilldash9x/scalpel-audit/internal/element"
	"github.com/xkilldash9x/scalpel-audit/internal/mocks"
	"github.com/xkilldash9x/scalpel-audit/internal/network"
)

var boolPair = core.Pair{True: "1 AND 1=1", False: "1 AND 1=2"}

// booleanEnv evaluates the vulnerable input like an injectable SQL filter.
func booleanEnv(vulnerable string) *mocks.RecordingEnv {
	return &mocks.RecordingEnv{
		Respond: func(_ context.Context, el *element.Element) (*network.Response, error) {
			v, _ := el.Get(vulnerable)
			body := "<ul><li>widget</li><li>gadget</li></ul>"
			if strings.HasSuffix(v, "1=2") {
				body = "<p>no results</p>"
			}
			return &network.Response{StatusCode: 200, Body: body}, nil
		},
	}
}

func item() *element.Element {
	return element.New(schemas.ElementLink, "http://target.test/items", "GET",
		element.Input{Name: "id", Value: "1"},
		element.Input{Name: "q", Value: "w"},
	)
}

func TestAnalyze_ConfirmsBooleanInjection(t *testing.T) {
	env := booleanEnv("id")
	a := NewAnalyzer(nil, 0)

	require.NoError(t, a.Analyze(context.Background(), env, item(), core.Input{Pairs: []core.Pair{boolPair}}))

	issues := env.Issues()
	require.Len(t, issues, 1)
	assert.Equal(t, "id", issues[0].Var)
	assert.Equal(t, boolPair.True, issues[0].Injected)
}

func TestAnalyze_NotInjectable(t *testing.T) {
	env := booleanEnv("none")
	require.NoError(t, NewAnalyzer(nil, 0).Analyze(context.Background(), env, item(), core.Input{Pairs: []core.Pair{boolPair}}))
	assert.Empty(t, env.Issues())
}

func TestAnalyze_UnstableDefaultResponse(t *testing.T) {
	n := 0
	env := &mocks.RecordingEnv{
		Respond: func(_ context.Context, el *element.Element) (*network.Response, error) {
			n++
			if el.Altered == "" {
				// A counter that changes on every plain request.
				return &network.Response{StatusCode: 200, Body: strings.Repeat("visit ", n)}, nil
			}
			v, _ := el.Get(el.Altered)
			if strings.HasSuffix(v, "1=2") {
				return &network.Response{StatusCode: 200, Body: "none"}, nil
			}
			return &network.Response{StatusCode: 200, Body: "visit"}, nil
		},
	}
	require.NoError(t, NewAnalyzer(nil, 0).Analyze(context.Background(), env, item(), core.Input{Pairs: []core.Pair{boolPair}}))
	assert.Empty(t, env.Issues())
}

func TestAnalyze_NoPairsSendsNothing(t *testing.T) {
	env := booleanEnv("id")
	require.NoError(t, NewAnalyzer(nil, 0).Analyze(context.Background(), env, item(), core.Input{}))
	assert.Empty(t, env.Submitted())
}

func TestAnalyze_ControlFailure(t *testing.T) {
	env := &mocks.RecordingEnv{
		Respond: func(context.Context, *element.Element) (*network.Response, error) {
			return nil, errors.New("refused")
		},
	}
	err := NewAnalyzer(nil, 0).Analyze(context.Background(), env, item(), core.Input{Pairs: []core.Pair{boolPair}})
	assert.Error(t, err)
}

func TestComparator_Equivalent(t *testing.T) {
	c := NewComparator(DefaultRules())

	tests := []struct {
		name  string
		a, b  string
		strip []string
		want  bool
	}{
		{"identical", "<p>hi</p>", "<p>hi</p>", nil, true},
		{"different text", "<p>hi</p>", "<p>bye</p>", nil, false},
		{"echoed input stripped", "you searched for foo", "you searched for bar", []string{"foo", "bar"}, true},
		{"json key order", `{"a":1,"b":2}`, `{"b":2,"a":1}`, nil, true},
		{"json dynamic session key", `{"user":"bob","session_id":"x1"}`, `{"user":"bob","session_id":"y2"}`, nil, true},
		{"json value differs", `{"user":"bob"}`, `{"user":"eve"}`, nil, false},
		{"json vs html", `{"a":1}`, `<p>a</p>`, nil, false},
		{"uuid token", "req 3f8e1c1e-2b1a-4c55-9d0e-0a6b7c8d9e0f ok", "req 9a1b2c3d-4e5f-4a6b-8c7d-0e1f2a3b4c5d ok", nil, true},
		{"timestamp token", "at 2025-01-02T03:04:05Z done", "at 2026-06-07T08:09:10Z done", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Equivalent(tt.a, tt.b, tt.strip...))
		})
	}
}
