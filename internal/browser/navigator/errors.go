// internal/browser/navigator/errors.go
package navigator

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout matches any *TimeoutError.
	ErrTimeout = errors.New("navigator: wait timed out")
	// ErrElementNotFound matches any *ElementNotFoundError.
	ErrElementNotFound = errors.New("navigator: element not found")
	// ErrFrameNotFound matches any *FrameNotFoundError.
	ErrFrameNotFound = errors.New("navigator: frame not found")
)

// TimeoutError reports a selector, predicate or navigation wait that ran past
// its driver-level timeout.
type TimeoutError struct {
	Condition string
	Timeout   time.Duration
	Err       error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for %s", e.Timeout, e.Condition)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }
func (e *TimeoutError) Unwrap() error        { return e.Err }

// ElementNotFoundError reports that a selector resolved to nothing. When the
// lookup followed a pre-wait, Err holds the wait's *TimeoutError.
type ElementNotFoundError struct {
	Selector string
	Err      error
}

func (e *ElementNotFoundError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("element not found: %s: %v", e.Selector, e.Err)
	}
	return fmt.Sprintf("element not found: %s", e.Selector)
}

func (e *ElementNotFoundError) Is(target error) bool { return target == ErrElementNotFound }
func (e *ElementNotFoundError) Unwrap() error        { return e.Err }

// FrameNotFoundError reports that a selector does not host a nested document.
type FrameNotFoundError struct {
	Selector string
}

func (e *FrameNotFoundError) Error() string {
	return fmt.Sprintf("no frame hosted by element: %s", e.Selector)
}

func (e *FrameNotFoundError) Is(target error) bool { return target == ErrFrameNotFound }
