// internal/browser/driver/cdp_page.go
package driver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/steady/internal/browser/activity"
)

// CDPPage implements Page on top of a chromedp tab context.
type CDPPage struct {
	ctx    context.Context // the tab context; carries the CDP target
	logger *zap.Logger

	mu        sync.Mutex
	listeners map[int]func(activity.Event)
	raw       map[int]func(ev interface{})
	nextID    int
	inflight  map[network.RequestID]struct{}
	roots     map[cdp.FrameID]runtime.RemoteObjectID
	documents map[cdp.LoaderID]*Response

	main      *cdpFrame
	closeOnce sync.Once
	closed    chan struct{}
}

var _ Page = (*CDPPage)(nil)

// NewCDPPage attaches to the tab carried by ctx (as returned by
// chromedp.NewContext), enables the network and page domains and resolves the
// main frame. The page is considered closed once ctx is done.
func NewCDPPage(ctx context.Context, logger *zap.Logger) (*CDPPage, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if chromedp.FromContext(ctx) == nil {
		return nil, errors.New("driver: context carries no chromedp target")
	}

	p := &CDPPage{
		ctx:       ctx,
		logger:    logger.Named("cdp_page"),
		listeners: make(map[int]func(activity.Event)),
		raw:       make(map[int]func(ev interface{})),
		inflight:  make(map[network.RequestID]struct{}),
		roots:     make(map[cdp.FrameID]runtime.RemoteObjectID),
		documents: make(map[cdp.LoaderID]*Response),
		closed:    make(chan struct{}),
	}
	chromedp.ListenTarget(ctx, p.dispatch)

	var tree *page.FrameTree
	err := chromedp.Run(ctx,
		network.Enable(),
		page.Enable(),
		page.SetLifecycleEventsEnabled(true),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			tree, err = page.GetFrameTree().Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize page: %w", err)
	}
	if tree == nil || tree.Frame == nil {
		return nil, errors.New("driver: page reported no main frame")
	}
	p.main = &cdpFrame{page: p, id: tree.Frame.ID}

	go p.watchClose()
	p.logger.Debug("Page attached.", zap.String("frame_id", string(p.main.id)))
	return p, nil
}

// MainFrame returns the top-level frame.
func (p *CDPPage) MainFrame() Frame {
	return p.main
}

// Listen implements activity.EventSource.
func (p *CDPPage) Listen(fn func(activity.Event)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			p.mu.Unlock()
		})
	}
}

// onRaw registers fn for every CDP event of the target. fn runs on the
// chromedp event loop and must not block or issue CDP commands.
func (p *CDPPage) onRaw(fn func(ev interface{})) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.raw[id] = fn
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.raw, id)
			p.mu.Unlock()
		})
	}
}

// Close closes the tab. It is safe to call more than once.
func (p *CDPPage) Close(ctx context.Context) error {
	select {
	case <-p.closed:
		return nil
	default:
	}

	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(p.ctx) }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	p.markClosed()

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to close page: %w", err)
	}
	return nil
}

// Done is closed once the page has closed.
func (p *CDPPage) Done() <-chan struct{} {
	return p.closed
}

func (p *CDPPage) watchClose() {
	select {
	case <-p.ctx.Done():
		p.markClosed()
	case <-p.closed:
	}
}

func (p *CDPPage) markClosed() {
	p.closeOnce.Do(func() {
		close(p.closed)
		p.logger.Debug("Page closed.")
		p.emit(activity.EventPageClosed)
	})
}

// dispatch runs on the chromedp event loop for every target event.
func (p *CDPPage) dispatch(ev interface{}) {
	switch e := ev.(type) {
	// -- Network Events --
	case *network.EventRequestWillBeSent:
		// A redirect reuses the request id; the request is still the same one in flight.
		if e.RedirectResponse == nil && p.track(e.RequestID) {
			p.emit(activity.EventRequestStarted)
		}
	case *network.EventLoadingFinished:
		if p.untrack(e.RequestID) {
			p.emit(activity.EventRequestFinished)
		}
	case *network.EventLoadingFailed:
		if p.untrack(e.RequestID) {
			p.emit(activity.EventRequestFailed)
		}
	case *network.EventResponseReceived:
		if e.Type == network.ResourceTypeDocument && e.Response != nil {
			p.recordDocument(e.LoaderID, e.Response)
		}
	// -- Page Lifecycle Events --
	case *page.EventDomContentEventFired:
		p.emit(activity.EventDOMContentLoaded)
	case *page.EventFrameNavigated:
		if e.Frame != nil {
			p.forgetRoot(e.Frame.ID)
		}
	case *page.EventFrameDetached:
		p.forgetRoot(e.FrameID)
	case *runtime.EventExecutionContextsCleared:
		p.mu.Lock()
		p.roots = make(map[cdp.FrameID]runtime.RemoteObjectID)
		p.mu.Unlock()
	case *inspector.EventDetached:
		p.markClosed()
	}

	p.mu.Lock()
	fns := make([]func(interface{}), 0, len(p.raw))
	for _, fn := range p.raw {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// emit delivers ev to every activity listener outside the lock, so a listener
// may unsubscribe itself.
func (p *CDPPage) emit(ev activity.Event) {
	p.mu.Lock()
	fns := make([]func(activity.Event), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (p *CDPPage) track(id network.RequestID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.inflight[id]; ok {
		return false
	}
	p.inflight[id] = struct{}{}
	return true
}

// untrack ignores requests that started before the network domain was enabled.
func (p *CDPPage) untrack(id network.RequestID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.inflight[id]; !ok {
		return false
	}
	delete(p.inflight, id)
	return true
}

func (p *CDPPage) recordDocument(loaderID cdp.LoaderID, r *network.Response) {
	resp := &Response{
		URL:        r.URL,
		Status:     int(r.Status),
		StatusText: r.StatusText,
		MimeType:   r.MimeType,
		Headers:    make(map[string]string, len(r.Headers)),
	}
	for k, v := range r.Headers {
		resp.Headers[k] = fmt.Sprint(v)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.documents[loaderID] = resp
}

// takeDocument returns and forgets the document response of a navigation.
func (p *CDPPage) takeDocument(loaderID cdp.LoaderID) *Response {
	p.mu.Lock()
	defer p.mu.Unlock()
	resp := p.documents[loaderID]
	delete(p.documents, loaderID)
	return resp
}

func (p *CDPPage) forgetRoot(id cdp.FrameID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.roots, id)
}

// root returns the frame's document as seen by the page's own scripts, so
// functions called on it run in the frame's main world and share its
// globals. ctx must carry a CDP executor.
func (p *CDPPage) root(ctx context.Context, id cdp.FrameID) (runtime.RemoteObjectID, error) {
	p.mu.Lock()
	obj, ok := p.roots[id]
	p.mu.Unlock()
	if ok {
		return obj, nil
	}

	var doc *runtime.RemoteObject
	if id == p.main.id {
		res, exc, err := runtime.Evaluate("document").Do(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to resolve document of frame %s: %w", id, err)
		}
		if exc != nil {
			return "", evaluationError(exc)
		}
		doc = res
	} else {
		ownerID, _, err := dom.GetFrameOwner(id).Do(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to find owner of frame %s: %w", id, err)
		}
		owner, err := dom.DescribeNode().WithBackendNodeID(ownerID).Do(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to describe owner of frame %s: %w", id, err)
		}
		if owner.ContentDocument == nil {
			return "", fmt.Errorf("frame %s has no document yet", id)
		}
		// Without an execution context, DOM.resolveNode answers in the main world.
		if doc, err = dom.ResolveNode().WithBackendNodeID(owner.ContentDocument.BackendNodeID).Do(ctx); err != nil {
			return "", fmt.Errorf("failed to resolve document of frame %s: %w", id, err)
		}
	}
	if doc == nil || doc.ObjectID == "" {
		return "", fmt.Errorf("frame %s has no document yet", id)
	}

	p.mu.Lock()
	p.roots[id] = doc.ObjectID
	p.mu.Unlock()
	p.logger.Debug("Frame document resolved.", zap.String("frame_id", string(id)))
	return doc.ObjectID, nil
}

// run executes CDP actions with the tab's values and the caller's deadline.
// Context errors take precedence over whatever chromedp reported.
func (p *CDPPage) run(ctx context.Context, actions ...chromedp.Action) error {
	select {
	case <-p.closed:
		return ErrPageClosed
	default:
	}

	runCtx, cancel := CombineContext(p.ctx, ctx)
	defer cancel()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if p.ctx.Err() != nil {
			return ErrPageClosed
		}
		return err
	}
	return nil
}

// isContextLost matches the errors CDP reports when an execution context
// went away underneath a call, typically because the frame navigated.
func isContextLost(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Cannot find context with specified id") ||
		strings.Contains(msg, "Execution context was destroyed") ||
		strings.Contains(msg, "Cannot find default execution context") ||
		strings.Contains(msg, "Could not find object with given id") ||
		strings.Contains(msg, "has no document yet")
}
