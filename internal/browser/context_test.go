package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestCombineContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	type ctxKey string
	const key ctxKey = "tab"

	t.Run("InheritsValuesFromParent", func(t *testing.T) {
		parent := context.WithValue(context.Background(), key, "value")
		combined, cancel := CombineContext(parent, context.Background())
		defer cancel()

		assert.Equal(t, "value", combined.Value(key))
		assert.NoError(t, combined.Err())
	})

	t.Run("CancelledByParent", func(t *testing.T) {
		parent, cancelParent := context.WithCancel(context.Background())
		combined, cancel := CombineContext(parent, context.Background())
		defer cancel()

		cancelParent()
		assert.Eventually(t, func() bool { return combined.Err() != nil }, 100*time.Millisecond, 5*time.Millisecond)
		assert.ErrorIs(t, combined.Err(), context.Canceled)
	})

	t.Run("CancelledBySecondary", func(t *testing.T) {
		secondary, cancelSecondary := context.WithCancel(context.Background())
		combined, cancel := CombineContext(context.Background(), secondary)
		defer cancel()

		cancelSecondary()
		assert.Eventually(t, func() bool { return combined.Err() != nil }, 100*time.Millisecond, 5*time.Millisecond)
	})

	t.Run("SecondaryDeadlineCancels", func(t *testing.T) {
		secondary, cancelSecondary := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancelSecondary()
		combined, cancel := CombineContext(context.Background(), secondary)
		defer cancel()

		_, ok := combined.Deadline()
		assert.False(t, ok, "deadlines come from the parent only")

		<-combined.Done()
		assert.ErrorIs(t, combined.Err(), context.Canceled)
	})

	t.Run("ExplicitCancellation", func(t *testing.T) {
		combined, cancel := CombineContext(context.Background(), context.Background())
		cancel()
		assert.ErrorIs(t, combined.Err(), context.Canceled)
	})
}
