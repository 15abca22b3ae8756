// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/steady/internal/browser/activity"
	"github.com/xkilldash9x/steady/internal/browser/driver"
	"github.com/xkilldash9x/steady/internal/config"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

var _ config.Interface = (*MockConfig)(nil)

// --- Getters ---

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	args := m.Called()
	return args.Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Policy() config.PolicyConfig {
	args := m.Called()
	return args.Get(0).(config.PolicyConfig)
}

func (m *MockConfig) Activity() config.ActivityConfig {
	args := m.Called()
	return args.Get(0).(config.ActivityConfig)
}

func (m *MockConfig) Script() config.ScriptConfig {
	args := m.Called()
	return args.Get(0).(config.ScriptConfig)
}

// --- Setters ---

func (m *MockConfig) SetBrowserHeadless(b bool)        { m.Called(b) }
func (m *MockConfig) SetBrowserIgnoreTLSErrors(b bool) { m.Called(b) }

func (m *MockConfig) SetPolicyWaitIdleTime(d time.Duration)     { m.Called(d) }
func (m *MockConfig) SetPolicyWaitIdleLoadTime(d time.Duration) { m.Called(d) }

func (m *MockConfig) SetScriptStepsPerSecond(f float64) { m.Called(f) }

// -- Driver Mocks --

// MockElement is an opaque element handle. Tests compare handles by pointer.
type MockElement struct {
	Name string
}

func (e *MockElement) String() string { return e.Name }

// MockFrame mocks driver.Frame.
type MockFrame struct {
	mock.Mock
}

var _ driver.Frame = (*MockFrame)(nil)

func (m *MockFrame) ID() string { return m.Called().String(0) }

func (m *MockFrame) Navigate(ctx context.Context, url string) (*driver.Response, error) {
	args := m.Called(ctx, url)
	resp, _ := args.Get(0).(*driver.Response)
	return resp, args.Error(1)
}

func (m *MockFrame) QuerySelector(ctx context.Context, selector string) (driver.Element, error) {
	args := m.Called(ctx, selector)
	return element(args.Get(0)), args.Error(1)
}

func (m *MockFrame) QuerySelectorAll(ctx context.Context, selector string) ([]driver.Element, error) {
	args := m.Called(ctx, selector)
	els, _ := args.Get(0).([]driver.Element)
	return els, args.Error(1)
}

// WaitForSelector honours ctx when the configured return is a context
// error: it blocks until ctx is done, as a real driver would.
func (m *MockFrame) WaitForSelector(ctx context.Context, selector string, visible bool) (driver.Element, error) {
	args := m.Called(ctx, selector, visible)
	return blockOnContextError(ctx, element(args.Get(0)), args.Error(1))
}

func (m *MockFrame) WaitForFunction(ctx context.Context, script driver.Script) (driver.Element, error) {
	args := m.Called(ctx, script)
	return blockOnContextError(ctx, element(args.Get(0)), args.Error(1))
}

func (m *MockFrame) Evaluate(ctx context.Context, script driver.Script, out any) error {
	return m.Called(ctx, script, out).Error(0)
}

func (m *MockFrame) EvaluateHandle(ctx context.Context, script driver.Script) (driver.Element, error) {
	args := m.Called(ctx, script)
	return element(args.Get(0)), args.Error(1)
}

func (m *MockFrame) EvaluateHandles(ctx context.Context, script driver.Script) ([]driver.Element, error) {
	args := m.Called(ctx, script)
	els, _ := args.Get(0).([]driver.Element)
	return els, args.Error(1)
}

func (m *MockFrame) Click(ctx context.Context, el driver.Element, opts driver.ClickOptions) error {
	return m.Called(ctx, el, opts).Error(0)
}

func (m *MockFrame) Type(ctx context.Context, el driver.Element, text string, opts driver.TypeOptions) error {
	return m.Called(ctx, el, text, opts).Error(0)
}

func (m *MockFrame) Sleep(ctx context.Context, d time.Duration) error {
	return m.Called(ctx, d).Error(0)
}

func (m *MockFrame) ContentFrame(ctx context.Context, el driver.Element) (driver.Frame, error) {
	args := m.Called(ctx, el)
	f, _ := args.Get(0).(driver.Frame)
	return f, args.Error(1)
}

func element(v any) driver.Element {
	el, _ := v.(driver.Element)
	return el
}

func blockOnContextError(ctx context.Context, el driver.Element, err error) (driver.Element, error) {
	if err == context.DeadlineExceeded || err == context.Canceled {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return el, err
}

// -- Event Source Mock --

// MockEventSource is an activity.EventSource whose events are pushed by the
// test through Emit.
type MockEventSource struct {
	mu        sync.Mutex
	next      int
	listeners map[int]func(activity.Event)
}

var _ activity.EventSource = (*MockEventSource)(nil)

func NewMockEventSource() *MockEventSource {
	return &MockEventSource{listeners: make(map[int]func(activity.Event))}
}

func (s *MockEventSource) Listen(fn func(activity.Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// Emit delivers ev to every current listener.
func (s *MockEventSource) Emit(ev activity.Event) {
	s.mu.Lock()
	fns := make([]func(activity.Event), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// Listeners returns the number of live subscriptions.
func (s *MockEventSource) Listeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}
