// internal/browser/driver/cdp_frame.go
package driver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/steady/internal/browser/poll"
)

const (
	waitPollInterval = 100 * time.Millisecond
	releaseTimeout   = 5 * time.Second
)

// cdpElement is a remote object handle bound to the frame it was resolved in.
type cdpElement struct {
	id    runtime.RemoteObjectID
	frame cdp.FrameID
	desc  string
}

func (e *cdpElement) String() string {
	if e.desc != "" {
		return e.desc
	}
	return string(e.id)
}

// cdpFrame implements Frame for a frame of a CDPPage.
type cdpFrame struct {
	page *CDPPage
	id   cdp.FrameID
}

var _ Frame = (*cdpFrame)(nil)

func (f *cdpFrame) ID() string { return string(f.id) }

// Navigate loads url in this frame and waits for the load event of the new
// document. Load events are keyed by loader id and collected from before the
// command is sent, so a load already in progress cannot end the wait.
// The response is nil for documents served without a network response
// (about:blank, same-document navigations).
func (f *cdpFrame) Navigate(ctx context.Context, url string) (*Response, error) {
	var (
		mu     sync.Mutex
		loaded = make(map[cdp.LoaderID]bool)
	)
	signal := make(chan struct{}, 1)
	stopListening := f.page.onRaw(func(ev interface{}) {
		e, ok := ev.(*page.EventLifecycleEvent)
		if !ok || e.FrameID != f.id || e.Name != "load" {
			return
		}
		mu.Lock()
		loaded[e.LoaderID] = true
		mu.Unlock()
		select {
		case signal <- struct{}{}:
		default:
		}
	})
	defer stopListening()

	var ret page.NavigateReturns
	err := f.page.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return cdp.Execute(ctx, page.CommandNavigate, page.Navigate(url).WithFrameID(f.id), &ret)
	}))
	if err != nil {
		return nil, fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	if ret.ErrorText != "" {
		return nil, fmt.Errorf("navigation to %s failed: %s", url, ret.ErrorText)
	}
	if ret.LoaderID == "" {
		f.page.logger.Debug("Same-document navigation.", zap.String("url", url), zap.String("frame_id", f.ID()))
		return nil, nil
	}

	for {
		mu.Lock()
		done := loaded[ret.LoaderID]
		mu.Unlock()
		if done {
			break
		}
		select {
		case <-signal:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-f.page.closed:
			return nil, ErrPageClosed
		}
	}
	return f.page.takeDocument(ret.LoaderID), nil
}

func (f *cdpFrame) QuerySelector(ctx context.Context, selector string) (Element, error) {
	obj, err := f.call(ctx, QueryOneJS, []any{selector}, false)
	if err != nil {
		return nil, fmt.Errorf("query %q failed: %w", selector, err)
	}
	return f.handle(obj), nil
}

func (f *cdpFrame) QuerySelectorAll(ctx context.Context, selector string) ([]Element, error) {
	obj, err := f.call(ctx, QueryAllJS, []any{selector}, false)
	if err != nil {
		return nil, fmt.Errorf("query all %q failed: %w", selector, err)
	}
	return f.split(ctx, obj)
}

func (f *cdpFrame) WaitForSelector(ctx context.Context, selector string, visible bool) (Element, error) {
	var found Element
	err := poll.Until(ctx, waitPollInterval, func(ctx context.Context) (bool, error) {
		obj, err := f.call(ctx, jsWaitSelector, []any{selector, visible}, false)
		if err != nil {
			if isContextLost(err) {
				// The frame is mid-navigation; try again on the next tick.
				return false, nil
			}
			return false, err
		}
		found = f.handle(obj)
		return found != nil, nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (f *cdpFrame) WaitForFunction(ctx context.Context, script Script) (Element, error) {
	var found Element
	err := poll.Until(ctx, waitPollInterval, func(ctx context.Context) (bool, error) {
		obj, err := f.call(ctx, script.Source, script.Args, false)
		if err != nil {
			if isContextLost(err) {
				return false, nil
			}
			return false, err
		}
		if !truthy(obj) {
			return false, nil
		}
		found = f.handle(obj)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (f *cdpFrame) Evaluate(ctx context.Context, script Script, out any) error {
	obj, err := f.call(ctx, script.Source, script.Args, true)
	if err != nil {
		return err
	}
	if out == nil || obj == nil || len(obj.Value) == 0 {
		return nil
	}
	if err := json.Unmarshal([]byte(obj.Value), out); err != nil {
		return fmt.Errorf("failed to decode evaluation result: %w (payload: %s)", err, string(obj.Value))
	}
	return nil
}

func (f *cdpFrame) EvaluateHandle(ctx context.Context, script Script) (Element, error) {
	obj, err := f.call(ctx, script.Source, script.Args, false)
	if err != nil {
		return nil, err
	}
	return f.handle(obj), nil
}

func (f *cdpFrame) EvaluateHandles(ctx context.Context, script Script) ([]Element, error) {
	obj, err := f.call(ctx, script.Source, script.Args, false)
	if err != nil {
		return nil, err
	}
	return f.split(ctx, obj)
}

func (f *cdpFrame) Click(ctx context.Context, el Element, opts ClickOptions) error {
	id, err := objectID(el)
	if err != nil {
		return err
	}
	if opts.Simulated {
		if _, err := f.callOn(ctx, id, jsSimulatedClick, nil, true); err != nil {
			return fmt.Errorf("simulated click failed: %w", err)
		}
		return nil
	}

	button := input.MouseButton(opts.Button)
	if button == "" {
		button = input.Left
	}
	count := int64(opts.ClickCount)
	if count < 1 {
		count = 1
	}

	return f.page.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		if err := dom.ScrollIntoViewIfNeeded().WithObjectID(id).Do(ctx); err != nil {
			return fmt.Errorf("failed to scroll element into view: %w", err)
		}
		box, err := dom.GetBoxModel().WithObjectID(id).Do(ctx)
		if err != nil {
			return fmt.Errorf("failed to get element box model: %w", err)
		}
		x, y, ok := quadCenter(box.Content)
		if !ok {
			return errors.New("element has no layout box")
		}

		if err := input.DispatchMouseEvent(input.MouseMoved, x, y).Do(ctx); err != nil {
			return fmt.Errorf("mouse move failed: %w", err)
		}
		if err := input.DispatchMouseEvent(input.MousePressed, x, y).
			WithButton(button).
			WithClickCount(count).
			Do(ctx); err != nil {
			return fmt.Errorf("mouse press failed: %w", err)
		}
		if opts.Delay > 0 {
			if err := sleepCtx(ctx, opts.Delay); err != nil {
				return err
			}
		}
		if err := input.DispatchMouseEvent(input.MouseReleased, x, y).
			WithButton(button).
			WithClickCount(count).
			Do(ctx); err != nil {
			return fmt.Errorf("mouse release failed: %w", err)
		}
		return nil
	}))
}

func (f *cdpFrame) Type(ctx context.Context, el Element, text string, opts TypeOptions) error {
	id, err := objectID(el)
	if err != nil {
		return err
	}
	if _, err := f.callOn(ctx, id, jsFocus, nil, true); err != nil {
		return fmt.Errorf("failed to focus element: %w", err)
	}

	first := true
	for _, r := range text {
		if !first && opts.Delay > 0 {
			if err := f.Sleep(ctx, opts.Delay); err != nil {
				return err
			}
		}
		first = false
		if err := f.page.run(ctx, chromedp.KeyEvent(string(r))); err != nil {
			return fmt.Errorf("key event failed: %w", err)
		}
	}
	return nil
}

func (f *cdpFrame) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-f.page.closed:
		return ErrPageClosed
	}
}

func (f *cdpFrame) ContentFrame(ctx context.Context, el Element) (Frame, error) {
	id, err := objectID(el)
	if err != nil {
		return nil, err
	}

	var node *cdp.Node
	var tree *page.FrameTree
	err = f.page.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		if node, err = dom.DescribeNode().WithObjectID(id).Do(ctx); err != nil {
			return err
		}
		tree, err = page.GetFrameTree().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to describe element: %w", err)
	}
	if node == nil || node.FrameID == "" {
		return nil, nil
	}
	if !containsFrame(tree, node.FrameID) {
		// Out-of-process frames live in their own target.
		return nil, fmt.Errorf("frame %s is not attached to this page (cross-origin frames are unsupported)", node.FrameID)
	}
	return &cdpFrame{page: f.page, id: node.FrameID}, nil
}

// call invokes fn in the frame's main world. A document lost to navigation
// is resolved again once.
func (f *cdpFrame) call(ctx context.Context, fn string, args []any, byValue bool) (*runtime.RemoteObject, error) {
	callArgs, err := callArguments(args)
	if err != nil {
		return nil, err
	}

	var res *runtime.RemoteObject
	attempt := chromedp.ActionFunc(func(ctx context.Context) error {
		docID, err := f.page.root(ctx, f.id)
		if err != nil {
			return err
		}
		obj, exc, err := runtime.CallFunctionOn(fn).
			WithObjectID(docID).
			WithArguments(callArgs).
			WithReturnByValue(byValue).
			WithAwaitPromise(true).
			Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return evaluationError(exc)
		}
		res = obj
		return nil
	})

	err = f.page.run(ctx, attempt)
	if isContextLost(err) {
		f.page.forgetRoot(f.id)
		err = f.page.run(ctx, attempt)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// callOn invokes fn with `this` bound to a remote object.
func (f *cdpFrame) callOn(ctx context.Context, target runtime.RemoteObjectID, fn string, args []any, byValue bool) (*runtime.RemoteObject, error) {
	callArgs, err := callArguments(args)
	if err != nil {
		return nil, err
	}

	var res *runtime.RemoteObject
	err = f.page.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, exc, err := runtime.CallFunctionOn(fn).
			WithObjectID(target).
			WithArguments(callArgs).
			WithReturnByValue(byValue).
			WithAwaitPromise(true).
			Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return evaluationError(exc)
		}
		res = obj
		return nil
	}))
	if err != nil {
		return nil, err
	}
	return res, nil
}

// split turns a remote array into one handle per item, in order.
func (f *cdpFrame) split(ctx context.Context, arr *runtime.RemoteObject) ([]Element, error) {
	if arr == nil || arr.ObjectID == "" {
		return nil, nil
	}
	defer f.release(ctx, arr.ObjectID)

	lenObj, err := f.callOn(ctx, arr.ObjectID, jsArrayLength, nil, true)
	if err != nil {
		return nil, fmt.Errorf("failed to read result length: %w", err)
	}
	var n int
	if err := json.Unmarshal([]byte(lenObj.Value), &n); err != nil {
		return nil, fmt.Errorf("failed to decode result length: %w", err)
	}

	out := make([]Element, 0, n)
	for i := 0; i < n; i++ {
		item, err := f.callOn(ctx, arr.ObjectID, jsArrayItem, []any{i}, false)
		if err != nil {
			return nil, fmt.Errorf("failed to read result item %d: %w", i, err)
		}
		if el := f.handle(item); el != nil {
			out = append(out, el)
		}
	}
	return out, nil
}

// release frees a remote object even if ctx has already expired.
func (f *cdpFrame) release(ctx context.Context, id runtime.RemoteObjectID) {
	relCtx, cancel := context.WithTimeout(Detach(ctx), releaseTimeout)
	defer cancel()
	if err := f.page.run(relCtx, runtime.ReleaseObject(id)); err != nil {
		f.page.logger.Debug("Failed to release remote object.", zap.String("object_id", string(id)), zap.Error(err))
	}
}

func (f *cdpFrame) handle(obj *runtime.RemoteObject) Element {
	if obj == nil || obj.ObjectID == "" {
		return nil
	}
	return &cdpElement{id: obj.ObjectID, frame: f.id, desc: obj.Description}
}

func objectID(el Element) (runtime.RemoteObjectID, error) {
	e, ok := el.(*cdpElement)
	if !ok || e == nil {
		return "", ErrForeignElement
	}
	return e.id, nil
}

func callArguments(args []any) ([]*runtime.CallArgument, error) {
	out := make([]*runtime.CallArgument, 0, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case *cdpElement:
			if v == nil {
				out = append(out, &runtime.CallArgument{Value: []byte("null")})
				continue
			}
			out = append(out, &runtime.CallArgument{ObjectID: v.id})
		case Element:
			return nil, ErrForeignElement
		case nil:
			out = append(out, &runtime.CallArgument{Value: []byte("null")})
		default:
			b, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("argument %d is not serializable: %w", i, err)
			}
			out = append(out, &runtime.CallArgument{Value: b})
		}
	}
	return out, nil
}

// truthy applies JavaScript truthiness to a call result.
func truthy(obj *runtime.RemoteObject) bool {
	if obj == nil {
		return false
	}
	if obj.ObjectID != "" {
		return true
	}
	if obj.Type == runtime.TypeUndefined {
		return false
	}
	if obj.UnserializableValue != "" {
		switch string(obj.UnserializableValue) {
		case "-0", "NaN", "0n":
			return false
		}
		return true
	}
	switch strings.TrimSpace(string(obj.Value)) {
	case "", "null", "false", "0", `""`:
		return false
	}
	return true
}

func evaluationError(exc *runtime.ExceptionDetails) error {
	msg := exc.Text
	if exc.Exception != nil && exc.Exception.Description != "" {
		msg = exc.Exception.Description
	}
	return fmt.Errorf("evaluation failed: %s", msg)
}

func quadCenter(q dom.Quad) (x, y float64, ok bool) {
	if len(q) < 8 {
		return 0, 0, false
	}
	for i := 0; i < 8; i += 2 {
		x += q[i]
		y += q[i+1]
	}
	return x / 4, y / 4, true
}

func containsFrame(tree *page.FrameTree, id cdp.FrameID) bool {
	if tree == nil {
		return false
	}
	if tree.Frame != nil && tree.Frame.ID == id {
		return true
	}
	for _, child := range tree.ChildFrames {
		if containsFrame(child, id) {
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
