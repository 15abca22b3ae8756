// internal/browser/navigator/policy.go
package navigator

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Policy is the wait policy consulted by every action. It is a value type:
// frame navigators receive a copy and diverge independently afterwards.
type Policy struct {
	// WaitUntilVisible makes selector waits require a rendered element, not
	// just one present in the DOM.
	WaitUntilVisible bool
	// WaitOnSelectors makes actions wait for their target selector first.
	WaitOnSelectors bool
	// WaitAfterAction is a fixed delay appended after every action.
	WaitAfterAction time.Duration
	// WaitIdleTime is the quiet period, with no request in flight, after
	// which the page counts as settled.
	WaitIdleTime time.Duration
	// WaitIdleLoadTime replaces WaitIdleTime for the first settle after a
	// DOMContentLoaded event.
	WaitIdleLoadTime time.Duration
	// UseSimulatedClicks dispatches click events in the page instead of
	// driving the pointer.
	UseSimulatedClicks bool
}

// DefaultPolicy waits for visible selectors, does not wait for network
// idleness and clicks through synthetic events.
func DefaultPolicy() Policy {
	return Policy{
		WaitUntilVisible:   true,
		WaitOnSelectors:    true,
		UseSimulatedClicks: true,
	}
}

// PolicyUpdate is a partial Policy; nil fields are left unchanged.
type PolicyUpdate struct {
	WaitUntilVisible   *bool
	WaitOnSelectors    *bool
	WaitAfterAction    *time.Duration
	WaitIdleTime       *time.Duration
	WaitIdleLoadTime   *time.Duration
	UseSimulatedClicks *bool
}

// Bool returns a pointer to b, for building a PolicyUpdate.
func Bool(b bool) *bool { return &b }

// Duration returns a pointer to d, for building a PolicyUpdate.
func Duration(d time.Duration) *time.Duration { return &d }

// IsZero reports whether the update changes nothing.
func (u PolicyUpdate) IsZero() bool {
	return u == PolicyUpdate{}
}

// Apply returns p with the set fields of u merged over it.
func (p Policy) Apply(u PolicyUpdate) Policy {
	if u.WaitUntilVisible != nil {
		p.WaitUntilVisible = *u.WaitUntilVisible
	}
	if u.WaitOnSelectors != nil {
		p.WaitOnSelectors = *u.WaitOnSelectors
	}
	if u.WaitAfterAction != nil {
		p.WaitAfterAction = *u.WaitAfterAction
	}
	if u.WaitIdleTime != nil {
		p.WaitIdleTime = *u.WaitIdleTime
	}
	if u.WaitIdleLoadTime != nil {
		p.WaitIdleLoadTime = *u.WaitIdleLoadTime
	}
	if u.UseSimulatedClicks != nil {
		p.UseSimulatedClicks = *u.UseSimulatedClicks
	}
	return p
}

func (p Policy) waitsForIdle() bool {
	return p.WaitIdleTime > 0 || p.WaitIdleLoadTime > 0
}

// UpdateOptions merges u over the navigator's policy.
func (n *Navigator) UpdateOptions(u PolicyUpdate) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.policy = n.policy.Apply(u)
	n.logger.Debug("Policy updated.",
		zap.Bool("wait_until_visible", n.policy.WaitUntilVisible),
		zap.Bool("wait_on_selectors", n.policy.WaitOnSelectors),
		zap.Duration("wait_after_action", n.policy.WaitAfterAction),
		zap.Duration("wait_idle_time", n.policy.WaitIdleTime),
		zap.Duration("wait_idle_load_time", n.policy.WaitIdleLoadTime),
		zap.Bool("use_simulated_clicks", n.policy.UseSimulatedClicks))
}

// Policy returns a copy of the current policy.
func (n *Navigator) Policy() Policy {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.policy
}

// waitAfter is the post-action wait. A fixed WaitAfterAction delay can itself
// let new requests start, so when an idle policy is set the page is settled
// both before and after the delay.
func (n *Navigator) waitAfter(ctx context.Context) error {
	p := n.Policy()
	if p.waitsForIdle() {
		n.settle(ctx, p.WaitIdleTime, p.WaitIdleLoadTime)
	}
	if p.WaitAfterAction <= 0 {
		return nil
	}
	if err := n.frame.Sleep(ctx, p.WaitAfterAction); err != nil {
		return err
	}
	if p.waitsForIdle() {
		n.settle(ctx, p.WaitIdleTime, p.WaitIdleLoadTime)
	}
	return nil
}
