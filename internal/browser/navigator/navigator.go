// internal/browser/navigator/navigator.go
// Package navigator sequences browser actions around a wait policy. Every
// action follows the same protocol: an optional pre-wait for its target
// selector, the driver call, then the post-action wait (activity settle,
// fixed delay, settle again).
//
// A Navigator is bound to one frame. Actions on a single Navigator must not
// be issued concurrently; the DOM state between overlapping actions is
// undefined.
package navigator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/steady/internal/browser/activity"
	"github.com/xkilldash9x/steady/internal/browser/driver"
)

const (
	// DefaultWaitTimeout bounds selector and predicate waits.
	DefaultWaitTimeout = 30 * time.Second
	// DefaultNavigationTimeout bounds a navigation until the frame stops loading.
	DefaultNavigationTimeout = 90 * time.Second
)

// Navigator is the action orchestrator for one frame.
type Navigator struct {
	id          string
	frame       driver.Frame
	monitor     *activity.Monitor
	baseLogger  *zap.Logger
	logger      *zap.Logger
	waitTimeout time.Duration
	navTimeout  time.Duration

	mu     sync.RWMutex
	policy Policy
}

// Option configures a Navigator.
type Option func(*Navigator)

// WithWaitTimeout sets the driver-level timeout of selector and predicate waits.
func WithWaitTimeout(d time.Duration) Option {
	return func(n *Navigator) {
		if d > 0 {
			n.waitTimeout = d
		}
	}
}

// WithNavigationTimeout sets how long Goto waits for the frame to load.
func WithNavigationTimeout(d time.Duration) Option {
	return func(n *Navigator) {
		if d > 0 {
			n.navTimeout = d
		}
	}
}

// New binds a navigator to frame. monitor is shared by every navigator of the
// same page; a nil monitor disables activity waits.
func New(frame driver.Frame, monitor *activity.Monitor, policy Policy, logger *zap.Logger, opts ...Option) *Navigator {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Navigator{
		id:          uuid.NewString(),
		frame:       frame,
		monitor:     monitor,
		baseLogger:  logger,
		waitTimeout: DefaultWaitTimeout,
		navTimeout:  DefaultNavigationTimeout,
		policy:      policy,
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = logger.Named("navigator").With(
		zap.String("navigator_id", n.id),
		zap.String("frame_id", frame.ID()),
	)
	return n
}

// ID returns the navigator's unique id.
func (n *Navigator) ID() string { return n.id }

// Frame returns the frame the navigator drives.
func (n *Navigator) Frame() driver.Frame { return n.frame }

// Monitor returns the page's activity monitor.
func (n *Navigator) Monitor() *activity.Monitor { return n.monitor }

// Goto navigates the frame and waits for it to load. With conditions, each is
// waited for in turn; otherwise the standard post-action wait runs.
func (n *Navigator) Goto(ctx context.Context, url string, conditions ...Condition) (*driver.Response, error) {
	n.logger.Debug("Navigating.", zap.String("url", url))

	navCtx, cancel := context.WithTimeout(ctx, n.navTimeout)
	resp, err := n.frame.Navigate(navCtx, url)
	timedOut := errors.Is(navCtx.Err(), context.DeadlineExceeded)
	cancel()
	if err != nil {
		if ctx.Err() == nil && timedOut {
			return nil, &TimeoutError{Condition: "navigation to " + url, Timeout: n.navTimeout, Err: context.DeadlineExceeded}
		}
		return nil, fmt.Errorf("goto %s: %w", url, err)
	}

	if len(conditions) > 0 {
		for _, c := range conditions {
			if _, err := n.Wait(ctx, c); err != nil {
				return resp, err
			}
		}
	} else if err := n.waitAfter(ctx); err != nil {
		return resp, err
	}

	if resp != nil {
		n.logger.Debug("Navigation complete.", zap.String("url", resp.URL), zap.Int("status", resp.Status))
	}
	return resp, nil
}

// ClickOption tunes a single click.
type ClickOption func(*driver.ClickOptions)

// WithButton selects the pointer button of a physical click.
func WithButton(b driver.MouseButton) ClickOption {
	return func(o *driver.ClickOptions) { o.Button = b }
}

// WithClickCount sets the click count, e.g. 2 for a double click.
func WithClickCount(n int) ClickOption {
	return func(o *driver.ClickOptions) { o.ClickCount = n }
}

// WithClickDelay holds the button down for d.
func WithClickDelay(d time.Duration) ClickOption {
	return func(o *driver.ClickOptions) { o.Delay = d }
}

// WithSimulated overrides the policy's UseSimulatedClicks for one click.
func WithSimulated(simulated bool) ClickOption {
	return func(o *driver.ClickOptions) { o.Simulated = simulated }
}

// Click clicks the element matching selector.
func (n *Navigator) Click(ctx context.Context, selector string, opts ...ClickOption) error {
	n.logger.Debug("Clicking.", zap.String("selector", selector))
	el, err := n.resolve(ctx, selector)
	if err != nil {
		return err
	}
	return n.click(ctx, el, selector, opts)
}

// ClickElement clicks a previously resolved element. No pre-wait is done.
func (n *Navigator) ClickElement(ctx context.Context, el driver.Element, opts ...ClickOption) error {
	if el == nil {
		return &ElementNotFoundError{Selector: "<nil element>"}
	}
	n.logger.Debug("Clicking element handle.", zap.Stringer("element", el))
	return n.click(ctx, el, el.String(), opts)
}

func (n *Navigator) click(ctx context.Context, el driver.Element, target string, opts []ClickOption) error {
	co := driver.ClickOptions{Simulated: n.Policy().UseSimulatedClicks}
	for _, opt := range opts {
		opt(&co)
	}
	if err := n.frame.Click(ctx, el, co); err != nil {
		return fmt.Errorf("click %s: %w", target, err)
	}
	return n.waitAfter(ctx)
}

// TypeOption tunes text entry.
type TypeOption func(*driver.TypeOptions)

// WithKeyDelay pauses d between keystrokes.
func WithKeyDelay(d time.Duration) TypeOption {
	return func(o *driver.TypeOptions) { o.Delay = d }
}

// Type types text into the element matching selector.
func (n *Navigator) Type(ctx context.Context, selector, text string, opts ...TypeOption) error {
	n.logger.Debug("Typing.", zap.String("selector", selector), zap.Int("text_length", len(text)))
	el, err := n.resolve(ctx, selector)
	if err != nil {
		return err
	}

	var to driver.TypeOptions
	for _, opt := range opts {
		opt(&to)
	}
	if err := n.frame.Type(ctx, el, text, to); err != nil {
		return fmt.Errorf("type into %s: %w", selector, err)
	}
	return n.waitAfter(ctx)
}

// SelectOption picks a list option by value or label. Label wins when both
// are set.
type SelectOption struct {
	Value string
	Label string
}

// Select marks the matching option of a <select> as selected and fires a
// change event. Option labels and values are compared after stripping
// non-ASCII and control characters. A missing option surfaces as an
// evaluation error from the page.
func (n *Navigator) Select(ctx context.Context, selector string, opt SelectOption) error {
	if opt.Value == "" && opt.Label == "" {
		return fmt.Errorf("select %s: a value or label is required", selector)
	}
	n.logger.Debug("Selecting option.", zap.String("selector", selector), zap.String("value", opt.Value), zap.String("label", opt.Label))

	el, err := n.resolve(ctx, selector)
	if err != nil {
		return err
	}
	if err := n.frame.Evaluate(ctx, driver.Fn(jsSelectOption, el, opt.Label, opt.Value), nil); err != nil {
		return fmt.Errorf("select %s: %w", selector, err)
	}
	return n.waitAfter(ctx)
}

// ScrollPage scrolls the frame's viewport "up" or "down" by one screen, or
// to the "top" or "bottom" of the document.
func (n *Navigator) ScrollPage(ctx context.Context, direction string) error {
	switch direction {
	case "up", "down", "top", "bottom":
	default:
		return fmt.Errorf("scroll: unknown direction %q", direction)
	}
	n.logger.Debug("Scrolling page.", zap.String("direction", direction))
	if err := n.frame.Evaluate(ctx, driver.Fn(jsScrollPage, direction), nil); err != nil {
		return fmt.Errorf("scroll %s: %w", direction, err)
	}
	return n.waitAfter(ctx)
}

// ScrollIntoView scrolls the element matching selector into the viewport.
func (n *Navigator) ScrollIntoView(ctx context.Context, selector string) error {
	n.logger.Debug("Scrolling into view.", zap.String("selector", selector))
	el, err := n.resolve(ctx, selector)
	if err != nil {
		return err
	}
	if err := n.frame.Evaluate(ctx, driver.Fn(jsScrollIntoView, el), nil); err != nil {
		return fmt.Errorf("scroll into view %s: %w", selector, err)
	}
	return n.waitAfter(ctx)
}

// Evaluate calls the function expression fn in the frame with args and
// decodes the result into out (nil discards it). No waits are performed.
func (n *Navigator) Evaluate(ctx context.Context, fn string, out any, args ...any) error {
	if err := n.frame.Evaluate(ctx, driver.Fn(fn, args...), out); err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	return nil
}

// resolve turns a selector into exactly one element, pre-waiting for it when
// the policy asks for that.
func (n *Navigator) resolve(ctx context.Context, selector string) (driver.Element, error) {
	if n.Policy().WaitOnSelectors {
		el, err := n.Wait(ctx, ForSelector(selector))
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				return nil, &ElementNotFoundError{Selector: selector, Err: err}
			}
			return nil, err
		}
		if el == nil {
			return nil, &ElementNotFoundError{Selector: selector}
		}
		return el, nil
	}

	el, err := n.frame.QuerySelector(ctx, selector)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", selector, err)
	}
	if el == nil {
		return nil, &ElementNotFoundError{Selector: selector}
	}
	return el, nil
}
