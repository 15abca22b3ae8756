// internal/browser/activity/monitor_test.go
package activity

import (
	"context"
	"sync"
	"testing"
	"time"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

// -- Test Helpers --

// fakeSource is an in-memory EventSource. Listeners are invoked outside the
// lock, matching how the CDP source dispatches.
type fakeSource struct {
	mu        sync.Mutex
	listeners map[int]func(Event)
	nextID    int
	stops     int
}

func newFakeSource() *fakeSource {
	return &fakeSource{listeners: make(map[int]func(Event))}
}

func (s *fakeSource) Listen(fn func(Event)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.stops++
			s.mu.Unlock()
		})
	}
}

func (s *fakeSource) emit(ev Event) {
	s.mu.Lock()
	fns := make([]func(Event), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (s *fakeSource) listenerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

// manualClock is a settable time source.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// replay feeds a sequence of request events and returns the expected count
// computed the naive way, clamped at zero after every step.
func replay(src *fakeSource, events []Event) int {
	expected := 0
	for _, ev := range events {
		src.emit(ev)
		switch ev {
		case EventRequestStarted:
			expected++
		case EventRequestFinished, EventRequestFailed:
			if expected > 0 {
				expected--
			}
		}
	}
	return expected
}

// -- Test Cases --

func TestMonitor_PendingRequestCount(t *testing.T) {
	tests := []struct {
		name     string
		events   []Event
		expected int
	}{
		{"empty", nil, 0},
		{"started only", []Event{EventRequestStarted, EventRequestStarted}, 2},
		{"balanced", []Event{EventRequestStarted, EventRequestFinished}, 0},
		{"failure resolves", []Event{EventRequestStarted, EventRequestStarted, EventRequestFailed}, 1},
		{"mixed", []Event{EventRequestStarted, EventRequestStarted, EventRequestStarted, EventRequestFinished, EventRequestFailed}, 1},
		{"dom load does not count", []Event{EventRequestStarted, EventDOMContentLoaded}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newFakeSource()
			m := NewMonitor(src, zaptest.NewLogger(t))
			defer m.Stop()

			for _, ev := range tt.events {
				src.emit(ev)
			}
			assert.Equal(t, tt.expected, m.PendingRequestCount())
		})
	}
}

func TestMonitor_ClampsAtZero(t *testing.T) {
	src := newFakeSource()
	m := NewMonitor(src, zaptest.NewLogger(t))
	defer m.Stop()

	src.emit(EventRequestFinished)
	src.emit(EventRequestFailed)
	src.emit(EventRequestStarted)

	state := m.State()
	assert.Equal(t, 1, state.PendingRequests)
	assert.Equal(t, 2, state.Anomalies)
	assert.Equal(t, 2, m.Anomalies())
	assert.False(t, state.LastRequestActivity.IsZero(), "an anomalous resolution still counts as activity")
}

func TestMonitor_WaitForSettled_QuickWhenIdle(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := NewMonitor(newFakeSource(), zaptest.NewLogger(t))
	defer m.Stop()

	res := m.WaitForSettled(context.Background(), 0, 0)

	assert.True(t, res.Settled)
	assert.False(t, res.UsedLoadIdle)
	assert.GreaterOrEqual(t, res.Waited, 40*time.Millisecond, "first evaluation happens on the first tick")
	assert.Less(t, res.Waited, time.Second)
}

func TestMonitor_WaitForSettled_BoundedByCeiling(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := newFakeSource()
	m := NewMonitor(src, zaptest.NewLogger(t), WithMaxWait(200*time.Millisecond), WithPollInterval(20*time.Millisecond))
	defer m.Stop()

	src.emit(EventRequestStarted) // never finishes

	start := time.Now()
	res := m.WaitForSettled(context.Background(), 0, 0)

	assert.False(t, res.Settled)
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
	assert.Less(t, time.Since(start), 600*time.Millisecond)
	assert.Equal(t, 1, m.PendingRequestCount())
}

func TestMonitor_DefaultCeiling(t *testing.T) {
	m := NewMonitor(nil, nil)
	defer m.Stop()
	assert.Equal(t, 30*time.Second, m.maxWait)
	assert.Equal(t, 50*time.Millisecond, m.pollInterval)
}

func TestMonitor_WaitForSettled_WaitsForIdleWindow(t *testing.T) {
	src := newFakeSource()
	m := NewMonitor(src, zaptest.NewLogger(t), WithPollInterval(10*time.Millisecond))
	defer m.Stop()

	src.emit(EventRequestStarted)
	go func() {
		time.Sleep(50 * time.Millisecond)
		src.emit(EventRequestFinished)
	}()

	start := time.Now()
	res := m.WaitForSettled(context.Background(), 150*time.Millisecond, 0)

	require.True(t, res.Settled)
	// 50ms until the request resolves, then more than 150ms of quiet.
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestMonitor_IdleLoadTimeAppliesExactlyOnce(t *testing.T) {
	clock := &manualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	src := newFakeSource()
	m := NewMonitor(src, zaptest.NewLogger(t),
		WithClock(clock.Now),
		WithMaxWait(150*time.Millisecond),
		WithPollInterval(10*time.Millisecond),
	)
	defer m.Stop()

	// A request resolves, then the DOM loads; the clock then moves 100ms on.
	src.emit(EventRequestStarted)
	src.emit(EventRequestFinished)
	src.emit(EventDOMContentLoaded)
	clock.Advance(100 * time.Millisecond)

	// The load window (1s) is in effect: the frozen clock never gets past it.
	first := m.WaitForSettled(context.Background(), 0, time.Second)
	assert.False(t, first.Settled)
	assert.True(t, first.UsedLoadIdle)
	assert.True(t, m.State().LastDOMLoaded.IsZero(), "load mark must be consumed even on timeout")

	// No new load event: the regular idle window (0) applies and settles at once.
	second := m.WaitForSettled(context.Background(), 0, time.Second)
	assert.True(t, second.Settled)
	assert.False(t, second.UsedLoadIdle)

	// A fresh load event re-arms the override; a short load window now settles.
	src.emit(EventDOMContentLoaded)
	third := m.WaitForSettled(context.Background(), time.Hour, 50*time.Millisecond)
	assert.True(t, third.Settled)
	assert.True(t, third.UsedLoadIdle)
}

func TestMonitor_IdleLoadTimeConsumedOnSettle(t *testing.T) {
	src := newFakeSource()
	m := NewMonitor(src, zaptest.NewLogger(t), WithPollInterval(10*time.Millisecond))
	defer m.Stop()

	src.emit(EventDOMContentLoaded)
	res := m.WaitForSettled(context.Background(), 0, 0)
	require.True(t, res.Settled)
	assert.True(t, res.UsedLoadIdle)
	assert.True(t, m.State().LastDOMLoaded.IsZero())
}

func TestMonitor_StopIsIdempotentAndUnsubscribes(t *testing.T) {
	src := newFakeSource()
	m := NewMonitor(src, zaptest.NewLogger(t))
	require.Equal(t, 1, src.listenerCount())

	m.Stop()
	m.Stop()

	assert.Equal(t, 0, src.listenerCount())
	assert.Equal(t, 1, src.stops)
	select {
	case <-m.Done():
	default:
		t.Fatal("Done channel should be closed after Stop")
	}

	// Events after stop are not observed.
	src.emit(EventRequestStarted)
	assert.Equal(t, 0, m.PendingRequestCount())
}

func TestMonitor_PageCloseStopsMonitor(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := newFakeSource()
	m := NewMonitor(src, zaptest.NewLogger(t))
	src.emit(EventRequestStarted)

	src.emit(EventPageClosed)

	<-m.Done()
	assert.Equal(t, 0, src.listenerCount())

	// A stopped monitor does not sit out the ceiling for a request that will never finish.
	start := time.Now()
	res := m.WaitForSettled(context.Background(), 0, 0)
	assert.False(t, res.Settled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestMonitor_WaitForSettled_ContextCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := newFakeSource()
	m := NewMonitor(src, zaptest.NewLogger(t))
	defer m.Stop()
	src.emit(EventRequestStarted)

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	start := time.Now()
	res := m.WaitForSettled(ctx, 0, 0)
	assert.False(t, res.Settled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestEvent_String(t *testing.T) {
	assert.Equal(t, "request_started", EventRequestStarted.String())
	assert.Equal(t, "page_closed", EventPageClosed.String())
	assert.Equal(t, "unknown", Event(99).String())
}

// FuzzMonitor_PendingCount checks that any request event stream leaves the
// counter equal to the clamped started-minus-resolved count.
func FuzzMonitor_PendingCount(f *testing.F) {
	f.Add([]byte{0, 0, 1, 2, 1, 1, 0})
	f.Add([]byte{2, 2, 2})
	f.Fuzz(func(t *testing.T, data []byte) {
		consumer := fuzz.NewConsumer(data)
		var raw []byte
		if err := consumer.CreateSlice(&raw); err != nil {
			return
		}
		events := make([]Event, 0, len(raw))
		for _, b := range raw {
			events = append(events, Event(b%3)) // started, finished, failed
		}

		src := newFakeSource()
		m := NewMonitor(src, nil)
		defer m.Stop()

		expected := replay(src, events)
		got := m.PendingRequestCount()
		if got != expected {
			t.Fatalf("pending = %d, want %d for %v", got, expected, events)
		}
		if got < 0 {
			t.Fatalf("pending went negative: %d", got)
		}
	})
}
