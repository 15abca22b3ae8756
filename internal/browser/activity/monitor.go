// internal/browser/activity/monitor.go
package activity

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/steady/internal/browser/poll"
)

const (
	// DefaultMaxWait is the outer ceiling of a settle wait, independent of any idle policy.
	DefaultMaxWait = 30 * time.Second
	// DefaultPollInterval is how often the settle predicate is evaluated.
	DefaultPollInterval = 50 * time.Millisecond
)

// Event is a page lifecycle signal the monitor cares about.
type Event int

const (
	EventRequestStarted Event = iota
	EventRequestFinished
	EventRequestFailed
	EventDOMContentLoaded
	EventPageClosed
)

func (e Event) String() string {
	switch e {
	case EventRequestStarted:
		return "request_started"
	case EventRequestFinished:
		return "request_finished"
	case EventRequestFailed:
		return "request_failed"
	case EventDOMContentLoaded:
		return "dom_content_loaded"
	case EventPageClosed:
		return "page_closed"
	default:
		return "unknown"
	}
}

// EventSource delivers page lifecycle events. Listen registers fn and returns
// a function that unsubscribes it; the returned stop must be safe to call more
// than once. fn may be invoked from any goroutine.
type EventSource interface {
	Listen(fn func(Event)) (stop func())
}

// State is a point-in-time copy of the monitor's bookkeeping.
type State struct {
	PendingRequests     int
	LastRequestActivity time.Time
	LastDOMLoaded       time.Time
	Anomalies           int
}

// SettleResult describes how a WaitForSettled call ended.
type SettleResult struct {
	// Settled is false when the ceiling elapsed (or the page closed) first.
	Settled bool
	Waited  time.Duration
	// UsedLoadIdle reports whether the DOM-load idle window replaced the regular one.
	UsedLoadIdle bool
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithMaxWait overrides the settle ceiling.
func WithMaxWait(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.maxWait = d
		}
	}
}

// WithPollInterval overrides how often the settle predicate runs.
func WithPollInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithClock replaces the time source used for activity timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// Monitor tracks in-flight requests and DOM load events for one page and
// answers whether that page's activity has settled. A single Monitor is shared
// by the page's main frame and every frame navigator derived from it.
type Monitor struct {
	logger       *zap.Logger
	maxWait      time.Duration
	pollInterval time.Duration
	now          func() time.Time

	mu                  sync.Mutex
	pending             int
	lastRequestActivity time.Time // zero means no request has resolved yet
	lastDOMLoaded       time.Time // zero means no load since the last settle call
	anomalies           int

	unsubscribe func()
	stopOnce    sync.Once
	done        chan struct{}
}

// NewMonitor creates a monitor and subscribes it to src. A nil src yields a
// monitor that is fed exclusively through its On* methods.
func NewMonitor(src EventSource, logger *zap.Logger, opts ...Option) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Monitor{
		logger:       logger.Named("activity"),
		maxWait:      DefaultMaxWait,
		pollInterval: DefaultPollInterval,
		now:          time.Now,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if src != nil {
		m.unsubscribe = src.Listen(m.handle)
	}
	return m
}

func (m *Monitor) handle(ev Event) {
	switch ev {
	case EventRequestStarted:
		m.OnRequestStarted()
	case EventRequestFinished:
		m.OnRequestFinished()
	case EventRequestFailed:
		m.OnRequestFailed()
	case EventDOMContentLoaded:
		m.OnDOMContentLoaded()
	case EventPageClosed:
		m.Stop()
	}
}

// OnRequestStarted records an outgoing request.
func (m *Monitor) OnRequestStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending++
}

// OnRequestFinished records a completed request.
func (m *Monitor) OnRequestFinished() {
	m.resolveRequest("finished")
}

// OnRequestFailed records a failed request. Failures resolve the request just
// like successes do.
func (m *Monitor) OnRequestFailed() {
	m.resolveRequest("failed")
}

func (m *Monitor) resolveRequest(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastRequestActivity = m.now()
	if m.pending == 0 {
		m.anomalies++
		m.logger.Warn("Request resolved with no pending requests; clamping at zero.", zap.String("outcome", outcome))
		return
	}
	m.pending--
}

// OnDOMContentLoaded records a DOMContentLoaded event.
func (m *Monitor) OnDOMContentLoaded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastDOMLoaded = m.now()
}

// PendingRequestCount returns the number of requests still in flight.
func (m *Monitor) PendingRequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}

// Anomalies counts completions that arrived with no request pending.
func (m *Monitor) Anomalies() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.anomalies
}

// State returns a copy of the monitor's counters and timestamps.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		PendingRequests:     m.pending,
		LastRequestActivity: m.lastRequestActivity,
		LastDOMLoaded:       m.lastDOMLoaded,
		Anomalies:           m.anomalies,
	}
}

// WaitForSettled blocks until no request is pending and the page has been
// quiet for longer than idleTime, or until the monitor's ceiling elapses. If a
// DOMContentLoaded event was seen since the previous call, idleLoadTime is used
// instead of idleTime. The load mark is cleared on return either way.
//
// Failing to settle is not an error: the caller proceeds regardless.
func (m *Monitor) WaitForSettled(ctx context.Context, idleTime, idleLoadTime time.Duration) SettleResult {
	start := time.Now()
	var usedLoadIdle bool

	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-m.done:
			cancel()
		case <-pollCtx.Done():
		}
	}()

	settled := poll.UntilTrueOrTimeout(pollCtx, m.pollInterval, m.maxWait, func(time.Duration) bool {
		m.mu.Lock()
		defer m.mu.Unlock()

		if m.pending > 0 {
			return false
		}
		effective := idleTime
		if !m.lastDOMLoaded.IsZero() {
			effective = idleLoadTime
			usedLoadIdle = true
		}
		return m.now().Sub(m.lastRequestActivity) > effective
	})

	m.mu.Lock()
	m.lastDOMLoaded = time.Time{}
	pending := m.pending
	m.mu.Unlock()

	res := SettleResult{Settled: settled, Waited: time.Since(start), UsedLoadIdle: usedLoadIdle}
	if !settled {
		m.logger.Debug("Activity did not settle; proceeding anyway.",
			zap.Duration("waited", res.Waited),
			zap.Int("pending_requests", pending),
			zap.Duration("idle_time", idleTime),
			zap.Duration("idle_load_time", idleLoadTime))
	}
	return res
}

// Stop unsubscribes from the event source. It is idempotent and is called
// automatically when the page reports closure.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		if m.unsubscribe != nil {
			m.unsubscribe()
		}
		close(m.done)
		m.logger.Debug("Activity monitor stopped.")
	})
}

// Done is closed once the monitor has stopped.
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}
