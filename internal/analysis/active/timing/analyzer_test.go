package timing

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
	"github.com/xkilldash9x/scalpel-audit/internal/analysis/core"
	"github.com/xkilldash9x/scalpel-audit/internal/element"
	"github.com/xkilldash9x/scalpel-audit/internal/mocks"
	"github.com/xkilldash9x/scalpel-audit/internal/network"
)

const base = 5 * time.Millisecond

// sleepyEnv honors sleep(N) in the vulnerable input, N in milliseconds.
func sleepyEnv(vulnerable string) *mocks.RecordingEnv {
	return &mocks.RecordingEnv{
		Respond: func(_ context.Context, el *element.Element) (*network.Response, error) {
			v, _ := el.Get(vulnerable)
			elapsed := base
			if strings.HasPrefix(v, "sleep(") {
				n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(v, "sleep("), ")"))
				if err == nil {
					elapsed += time.Duration(n) * time.Millisecond
				}
			}
			return &network.Response{StatusCode: 200, Time: elapsed}, nil
		},
	}
}

func link() *element.Element {
	return element.New(schemas.ElementLink, "http://target.test/item", "GET",
		element.Input{Name: "id", Value: "1"},
		element.Input{Name: "sort", Value: "asc"},
	)
}

func TestExpand(t *testing.T) {
	seconds := NewAnalyzer(Config{})
	assert.Equal(t, "sleep(4)", seconds.Expand("sleep(__TIME__)", DefaultDelay))

	millis := NewAnalyzer(Config{Multiplier: 1000})
	assert.Equal(t, "WAITFOR DELAY 1500", millis.Expand("WAITFOR DELAY __TIME__", 1500*time.Millisecond))
	assert.Equal(t, "no placeholder", millis.Expand("no placeholder", time.Second))
}

func TestExpand_SubUnitDelayRoundsUp(t *testing.T) {
	a := NewAnalyzer(Config{Delay: 500 * time.Millisecond})
	assert.Equal(t, "sleep(1)", a.Expand("sleep(__TIME__)", 500*time.Millisecond))
	assert.Equal(t, time.Second, a.cfg.Delay, "the oracle waits for the stall the payload asks for")
	assert.Equal(t, "sleep(3)", a.Expand("sleep(__TIME__)", 2500*time.Millisecond))

	millis := NewAnalyzer(Config{Delay: 1500 * time.Microsecond, Multiplier: 1000})
	assert.Equal(t, 2*time.Millisecond, millis.cfg.Delay)
}

func TestAnalyze_SubUnitDelayStillDetects(t *testing.T) {
	// sleepyEnv counts milliseconds; a 40.5ms delay asks for 41.
	env := sleepyEnv("id")
	a := NewAnalyzer(Config{Delay: 40500 * time.Microsecond, Multiplier: 1000, BaselineSamples: 1})

	require.NoError(t, a.Analyze(context.Background(), env, link(), core.Input{Payloads: []string{"sleep(__TIME__)"}}))
	require.Len(t, env.Issues(), 1)
	assert.Equal(t, "id", env.Issues()[0].Var)
}

func TestAnalyze_ReportsVerifiedDelay(t *testing.T) {
	env := sleepyEnv("id")
	a := NewAnalyzer(Config{Delay: 100 * time.Millisecond, Multiplier: 1000, BaselineSamples: 2})

	err := a.Analyze(context.Background(), env, link(), core.Input{Payloads: []string{"sleep(__TIME__)"}})
	require.NoError(t, err)

	issues := env.Issues()
	require.Len(t, issues, 1)
	assert.Equal(t, "id", issues[0].Var)
	assert.Equal(t, "sleep(100)", issues[0].Injected)

	// Two baseline samples, one probe per input and one verification.
	assert.Len(t, env.Submitted(), 5)
}

func TestAnalyze_NoDelayNoIssue(t *testing.T) {
	env := sleepyEnv("nothing")
	a := NewAnalyzer(Config{Delay: 100 * time.Millisecond, Multiplier: 1000})

	require.NoError(t, a.Analyze(context.Background(), env, link(), core.Input{Payloads: []string{"sleep(__TIME__)"}}))
	assert.Empty(t, env.Issues())
}

func TestAnalyze_UnverifiedSignalIsDropped(t *testing.T) {
	// The target stalls once, then recovers.
	calls := 0
	env := &mocks.RecordingEnv{
		Respond: func(_ context.Context, el *element.Element) (*network.Response, error) {
			calls++
			if el.Altered != "" && calls == 4 {
				return &network.Response{StatusCode: 200, Time: time.Second}, nil
			}
			return &network.Response{StatusCode: 200, Time: base}, nil
		},
	}
	a := NewAnalyzer(Config{Delay: 100 * time.Millisecond, Multiplier: 1000})
	require.NoError(t, a.Analyze(context.Background(), env, link(), core.Input{Payloads: []string{"sleep(__TIME__)"}}))
	assert.Empty(t, env.Issues())
}

func TestAnalyze_BaselineFailure(t *testing.T) {
	env := &mocks.RecordingEnv{
		Respond: func(context.Context, *element.Element) (*network.Response, error) {
			return nil, errors.New("timeout")
		},
	}
	err := NewAnalyzer(Config{}).Analyze(context.Background(), env, link(), core.Input{Payloads: []string{"x"}})
	assert.Error(t, err)
}
