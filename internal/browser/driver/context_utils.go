// internal/browser/driver/context_utils.go
package driver

import (
	"context"
	"time"
)

// CombineContext derives a context from primary that is also cancelled when
// secondary is done. Values (and so the chromedp target) come from primary;
// the deadline usually comes from secondary, the per-operation context.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)
	if dl, ok := secondary.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		combined, cancelDeadline = context.WithDeadline(combined, dl)
		inner := cancel
		cancel = func() {
			cancelDeadline()
			inner()
		}
	}

	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
		}
	}()

	return combined, cancel
}

// valueOnlyContext keeps the values of its parent but drops its deadline and
// cancellation.
type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return }
func (valueOnlyContext) Done() <-chan struct{}                       { return nil }
func (valueOnlyContext) Err() error                                  { return nil }

// Detach returns a context carrying ctx's values that outlives ctx. Cleanup
// commands (releasing remote objects after a timed-out call) run on it.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}
