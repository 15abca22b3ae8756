// internal/browser/poll/poll.go
package poll

import (
	"context"
	"time"
)

const minInterval = time.Millisecond

// UntilTrueOrTimeout evaluates pred on a fixed interval, starting one interval
// after the call, and returns true on the first tick where pred holds. It
// returns false on the first tick where the elapsed time exceeds timeout, so
// the call can overshoot the timeout by up to one interval.
//
// pred receives the time elapsed since the call. Cancelling ctx ends the poll
// early and reports false; pass a detached context for an uninterruptible poll.
func UntilTrueOrTimeout(ctx context.Context, interval, timeout time.Duration, pred func(elapsed time.Duration) bool) bool {
	if interval < minInterval {
		interval = minInterval
	}
	start := time.Now()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			elapsed := time.Since(start)
			if pred(elapsed) {
				return true
			}
			if elapsed > timeout {
				return false
			}
		}
	}
}

// Until evaluates cond immediately and then on every tick until it reports
// true, returns an error, or ctx is done. The ctx error is returned verbatim
// so callers can tell a deadline from a cancellation.
func Until(ctx context.Context, interval time.Duration, cond func(ctx context.Context) (bool, error)) error {
	if interval < minInterval {
		interval = minInterval
	}

	done, err := cond(ctx)
	if err != nil || done {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			done, err := cond(ctx)
			if err != nil {
				// A cond error caused by our own deadline is reported as the deadline.
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return err
			}
			if done {
				return nil
			}
		}
	}
}
