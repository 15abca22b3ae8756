// internal/browser/driver/driver.go
// Package driver defines the narrow browser contract the navigator is built
// on, along with a chromedp-backed implementation of it.
//
// Functions evaluated in the page never cross the process boundary as
// closures. A Script carries JavaScript source text and JSON-serializable
// arguments; element handles passed as arguments travel as remote object
// references.
package driver

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/xkilldash9x/steady/internal/browser/activity"
)

var (
	// ErrPageClosed is returned when an operation runs against a closed page.
	ErrPageClosed = errors.New("driver: page closed")
	// ErrForeignElement is returned when a handle from another driver is used.
	ErrForeignElement = errors.New("driver: element handle does not belong to this page")
)

// Element is an opaque handle to a DOM node living in the page.
type Element interface {
	String() string
}

// Script is a JavaScript function expression plus its arguments.
type Script struct {
	// Source is a function expression, e.g. "(el) => el.textContent".
	Source string
	// Args are JSON-serializable values or Element handles.
	Args []any
}

// Fn builds a Script.
func Fn(source string, args ...any) Script {
	return Script{Source: source, Args: args}
}

// Response describes the document response of a navigation.
type Response struct {
	URL        string
	Status     int
	StatusText string
	MimeType   string
	Headers    map[string]string
}

// OK reports whether the status is in the 2xx range.
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// MouseButton names a pointer button.
type MouseButton string

const (
	ButtonLeft   MouseButton = "left"
	ButtonMiddle MouseButton = "middle"
	ButtonRight  MouseButton = "right"
)

// ClickOptions tune a click.
type ClickOptions struct {
	// Simulated dispatches a synthetic click event on the element instead of
	// driving the pointer to its on-screen position.
	Simulated  bool
	Button     MouseButton
	ClickCount int
	// Delay is the pause between press and release of a physical click.
	Delay time.Duration
}

// TypeOptions tune text entry.
type TypeOptions struct {
	// Delay is the pause between keystrokes.
	Delay time.Duration
}

// Frame is a navigable browsing context: the main frame of a page or a
// nested frame reached through an iframe element.
type Frame interface {
	ID() string
	Navigate(ctx context.Context, url string) (*Response, error)

	// QuerySelector returns nil, nil when nothing matches.
	QuerySelector(ctx context.Context, selector string) (Element, error)
	QuerySelectorAll(ctx context.Context, selector string) ([]Element, error)
	// WaitForSelector polls until the selector matches (and, if visible is
	// set, the match is rendered) or ctx is done.
	WaitForSelector(ctx context.Context, selector string, visible bool) (Element, error)
	// WaitForFunction polls until the script returns a truthy value. The
	// returned handle is nil when the truthy value is not an object.
	WaitForFunction(ctx context.Context, script Script) (Element, error)

	// Evaluate runs the script and decodes its JSON result into out, which
	// may be nil to discard it.
	Evaluate(ctx context.Context, script Script, out any) error
	// EvaluateHandle returns nil, nil when the script yields null or undefined.
	EvaluateHandle(ctx context.Context, script Script) (Element, error)
	// EvaluateHandles expects the script to yield an array of nodes.
	EvaluateHandles(ctx context.Context, script Script) ([]Element, error)

	Click(ctx context.Context, el Element, opts ClickOptions) error
	Type(ctx context.Context, el Element, text string, opts TypeOptions) error
	Sleep(ctx context.Context, d time.Duration) error

	// ContentFrame returns nil, nil when el hosts no nested document.
	ContentFrame(ctx context.Context, el Element) (Frame, error)
}

// Page is a browser tab. Its lifecycle events feed an activity monitor.
type Page interface {
	activity.EventSource
	MainFrame() Frame
	Close(ctx context.Context) error
}

// IsXPath reports whether selector is an XPath expression rather than CSS.
func IsXPath(selector string) bool {
	return strings.HasPrefix(selector, "//")
}
