package browser

import "context"

// CombineContext creates a context that is canceled when either parent or
// secondary is. Values and the deadline are inherited from parent only.
func CombineContext(parent, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(parent)

	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}
