// internal/browser/navigator/wait.go
package navigator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/steady/internal/browser/activity"
	"github.com/xkilldash9x/steady/internal/browser/driver"
)

type conditionKind int

const (
	conditionSelector conditionKind = iota
	conditionFunction
	conditionDuration
)

// Condition is something Wait can wait for: a selector, an in-page predicate
// or a plain duration.
type Condition struct {
	kind     conditionKind
	selector string
	script   driver.Script
	duration time.Duration
}

// ForSelector waits for a CSS selector, or an XPath expression when it starts
// with "//". Visibility is required when the policy says so.
func ForSelector(selector string) Condition {
	return Condition{kind: conditionSelector, selector: selector}
}

// ForFunction waits until the function expression source, called in the
// page with args, returns a truthy value.
func ForFunction(source string, args ...any) Condition {
	return Condition{kind: conditionFunction, script: driver.Fn(source, args...)}
}

// ForDuration waits for d to pass.
func ForDuration(d time.Duration) Condition {
	return Condition{kind: conditionDuration, duration: d}
}

func (c Condition) String() string {
	switch c.kind {
	case conditionSelector:
		return fmt.Sprintf("selector %q", c.selector)
	case conditionFunction:
		return fmt.Sprintf("function %q", c.script.Source)
	default:
		return fmt.Sprintf("duration %s", c.duration)
	}
}

// Wait blocks until c holds. Selector and function waits return the matched
// element (nil when a function yields a non-object); duration waits return
// nil. A driver-level timeout surfaces as *TimeoutError.
func (n *Navigator) Wait(ctx context.Context, c Condition) (driver.Element, error) {
	n.logger.Debug("Waiting.", zap.Stringer("condition", c))

	switch c.kind {
	case conditionDuration:
		return nil, n.frame.Sleep(ctx, c.duration)
	case conditionSelector:
		visible := n.Policy().WaitUntilVisible
		return n.withWaitTimeout(ctx, c, func(ctx context.Context) (driver.Element, error) {
			return n.frame.WaitForSelector(ctx, c.selector, visible)
		})
	default:
		return n.withWaitTimeout(ctx, c, func(ctx context.Context) (driver.Element, error) {
			return n.frame.WaitForFunction(ctx, c.script)
		})
	}
}

// WaitFnOptions tune WaitFn.
type WaitFnOptions struct {
	// WaitAfter is an extra fixed delay once the predicate holds.
	WaitAfter time.Duration
}

// WaitFn waits for selector, then for elementPredicate (a function expression
// taking the element) to hold against the match, then for opts.WaitAfter.
func (n *Navigator) WaitFn(ctx context.Context, selector, elementPredicate string, opts WaitFnOptions) (driver.Element, error) {
	el, err := n.Wait(ctx, ForSelector(selector))
	if err != nil {
		return nil, err
	}

	c := ForFunction(elementPredicate, el)
	if _, err := n.withWaitTimeout(ctx, c, func(ctx context.Context) (driver.Element, error) {
		return n.frame.WaitForFunction(ctx, c.script)
	}); err != nil {
		return nil, err
	}

	if opts.WaitAfter > 0 {
		if err := n.frame.Sleep(ctx, opts.WaitAfter); err != nil {
			return nil, err
		}
	}
	return el, nil
}

// withWaitTimeout bounds fn by the navigator's wait timeout and classifies a
// timeout that is ours, rather than the caller's, as *TimeoutError.
func (n *Navigator) withWaitTimeout(ctx context.Context, c Condition, fn func(ctx context.Context) (driver.Element, error)) (driver.Element, error) {
	waitCtx, cancel := context.WithTimeout(ctx, n.waitTimeout)
	defer cancel()

	el, err := fn(waitCtx)
	if err == nil {
		return el, nil
	}
	if ctx.Err() == nil && errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
		n.logger.Debug("Wait timed out.", zap.Stringer("condition", c), zap.Duration("timeout", n.waitTimeout))
		return nil, &TimeoutError{Condition: c.String(), Timeout: n.waitTimeout, Err: context.DeadlineExceeded}
	}
	return nil, fmt.Errorf("wait for %s: %w", c, err)
}

// ActivityOption overrides a WaitActivity parameter.
type ActivityOption func(*activityParams)

type activityParams struct {
	idle, idleLoad time.Duration
}

// WithIdleTime overrides the policy's WaitIdleTime for one call.
func WithIdleTime(d time.Duration) ActivityOption {
	return func(p *activityParams) { p.idle = d }
}

// WithIdleLoadTime overrides the policy's WaitIdleLoadTime for one call.
func WithIdleLoadTime(d time.Duration) ActivityOption {
	return func(p *activityParams) { p.idleLoad = d }
}

// WaitActivity waits for network and DOM activity to settle. Parameters
// default to the policy's idle times. Not settling is not an error.
func (n *Navigator) WaitActivity(ctx context.Context, opts ...ActivityOption) activity.SettleResult {
	pol := n.Policy()
	params := activityParams{idle: pol.WaitIdleTime, idleLoad: pol.WaitIdleLoadTime}
	for _, opt := range opts {
		opt(&params)
	}
	return n.settle(ctx, params.idle, params.idleLoad)
}

func (n *Navigator) settle(ctx context.Context, idle, idleLoad time.Duration) activity.SettleResult {
	if n.monitor == nil {
		return activity.SettleResult{Settled: true}
	}
	res := n.monitor.WaitForSettled(ctx, idle, idleLoad)
	n.logger.Debug("Activity wait finished.",
		zap.Bool("settled", res.Settled),
		zap.Bool("used_load_idle", res.UsedLoadIdle),
		zap.Duration("waited", res.Waited))
	return res
}
