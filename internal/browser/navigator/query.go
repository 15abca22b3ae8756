// internal/browser/navigator/query.go
package navigator

import (
	"context"
	"fmt"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/steady/internal/browser/driver"
)

// Queries resolve immediately; none of them waits.

// QueryElementHandle returns the first match of selector, or nil.
func (n *Navigator) QueryElementHandle(ctx context.Context, selector string) (driver.Element, error) {
	el, err := n.frame.QuerySelector(ctx, selector)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", selector, err)
	}
	return el, nil
}

// QueryElementHandles returns every match of selector in document order.
func (n *Navigator) QueryElementHandles(ctx context.Context, selector string) ([]driver.Element, error) {
	els, err := n.frame.QuerySelectorAll(ctx, selector)
	if err != nil {
		return nil, fmt.Errorf("query all %s: %w", selector, err)
	}
	return els, nil
}

// QueryElements applies mapFn, a function expression taking (element, index),
// to every match of selector in the page and decodes the array of results
// into out.
func (n *Navigator) QueryElements(ctx context.Context, selector, mapFn string, out any) error {
	if err := n.frame.Evaluate(ctx, driver.Fn(mapAllJS(mapFn), selector), out); err != nil {
		return fmt.Errorf("query elements %s: %w", selector, err)
	}
	return nil
}

// QueryElement applies mapFn to the first match of selector and decodes the
// result into out. It reports false, leaving out untouched, when nothing
// matches.
func (n *Navigator) QueryElement(ctx context.Context, selector, mapFn string, out any) (bool, error) {
	var res struct {
		Found bool            `json:"found"`
		Value json.RawMessage `json:"value"`
	}
	if err := n.frame.Evaluate(ctx, driver.Fn(mapOneJS(mapFn), selector), &res); err != nil {
		return false, fmt.Errorf("query element %s: %w", selector, err)
	}
	if !res.Found {
		return false, nil
	}
	if out != nil && len(res.Value) > 0 {
		if err := json.Unmarshal(res.Value, out); err != nil {
			return true, fmt.Errorf("query element %s: failed to decode result: %w", selector, err)
		}
	}
	return true, nil
}

// QueryElementHandleWithFn returns the first descendant of root, in
// depth-first document order, for which predicateFn holds. A nil root scans
// the whole document.
func (n *Navigator) QueryElementHandleWithFn(ctx context.Context, predicateFn string, root driver.Element) (driver.Element, error) {
	el, err := n.frame.EvaluateHandle(ctx, driver.Fn(findDescendantJS(predicateFn), root))
	if err != nil {
		return nil, fmt.Errorf("query with predicate: %w", err)
	}
	return el, nil
}

// QueryChildrenAsHandles returns the children of the element matching
// parentSelector that satisfy descendantFn themselves or through any of
// their descendants, in document order.
func (n *Navigator) QueryChildrenAsHandles(ctx context.Context, parentSelector, descendantFn string) ([]driver.Element, error) {
	parent, err := n.frame.QuerySelector(ctx, parentSelector)
	if err != nil {
		return nil, fmt.Errorf("query children of %s: %w", parentSelector, err)
	}
	if parent == nil {
		return nil, &ElementNotFoundError{Selector: parentSelector}
	}

	children, err := n.frame.EvaluateHandles(ctx, driver.Fn(childrenMatchingJS(descendantFn), parent))
	if err != nil {
		return nil, fmt.Errorf("query children of %s: %w", parentSelector, err)
	}
	n.logger.Debug("Matched children.", zap.String("parent", parentSelector), zap.Int("count", len(children)))
	return children, nil
}
