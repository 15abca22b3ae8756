// internal/browser/navigator/frame.go
package navigator

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// FrameNavigator descends into the frame hosted by the element matching
// selector. The child shares this navigator's activity monitor and starts
// with a copy of its current policy.
func (n *Navigator) FrameNavigator(ctx context.Context, selector string) (*Navigator, error) {
	el, err := n.resolve(ctx, selector)
	if err != nil {
		return nil, err
	}

	frame, err := n.frame.ContentFrame(ctx, el)
	if err != nil {
		return nil, fmt.Errorf("frame %s: %w", selector, err)
	}
	if frame == nil {
		return nil, &FrameNotFoundError{Selector: selector}
	}

	child := New(frame, n.monitor, n.Policy(), n.baseLogger,
		WithWaitTimeout(n.waitTimeout),
		WithNavigationTimeout(n.navTimeout),
	)
	n.logger.Debug("Descended into frame.", zap.String("selector", selector), zap.String("child_frame_id", frame.ID()))
	return child, nil
}
