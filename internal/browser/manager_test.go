// internal/browser/manager_test.go
package browser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/steady/internal/browser/navigator"
	"github.com/xkilldash9x/steady/internal/config"
	"github.com/xkilldash9x/steady/internal/mocks"
)

// -- Unit Tests --

func TestAllocatorFlags(t *testing.T) {
	t.Run("headless on linux", func(t *testing.T) {
		flags := allocatorFlags(config.BrowserConfig{Headless: true}, "linux")
		assert.Equal(t, true, flags["headless"])
		assert.Equal(t, true, flags["disable-gpu"])
		assert.Equal(t, true, flags["no-sandbox"])
		assert.NotContains(t, flags, "ignore-certificate-errors")
	})

	t.Run("headful elsewhere", func(t *testing.T) {
		flags := allocatorFlags(config.BrowserConfig{Headless: false}, "darwin")
		assert.Equal(t, false, flags["headless"])
		assert.NotContains(t, flags, "no-sandbox")
	})

	t.Run("ignore TLS errors", func(t *testing.T) {
		flags := allocatorFlags(config.BrowserConfig{IgnoreTLSErrors: true}, "linux")
		assert.Equal(t, true, flags["ignore-certificate-errors"])
		assert.Equal(t, true, flags["allow-insecure-localhost"])
	})

	t.Run("custom args override", func(t *testing.T) {
		cfg := config.BrowserConfig{
			Headless: true,
			Args:     []string{"--custom-arg1", "--window-size=1280,720", "--headless=new", "--"},
		}
		flags := allocatorFlags(cfg, "linux")
		assert.Equal(t, true, flags["custom-arg1"])
		assert.Equal(t, "1280,720", flags["window-size"])
		assert.Equal(t, "new", flags["headless"])
		assert.NotContains(t, flags, "")
	})
}

func TestAllocatorOptions(t *testing.T) {
	opts, err := AllocatorOptions(config.BrowserConfig{Headless: true})
	require.NoError(t, err)
	assert.Greater(t, len(opts), 3)

	withPaths, err := AllocatorOptions(config.BrowserConfig{Headless: true, ExecPath: "~/bin/chrome", UserDataDir: "~/profile"})
	require.NoError(t, err)
	assert.Len(t, withPaths, len(opts)+2)
}

func TestPolicyFromConfig(t *testing.T) {
	cfg := config.PolicyConfig{
		WaitUntilVisible:   true,
		WaitAfterAction:    100 * time.Millisecond,
		WaitIdleTime:       500 * time.Millisecond,
		WaitIdleLoadTime:   2 * time.Second,
		UseSimulatedClicks: false,
	}
	want := navigator.Policy{
		WaitUntilVisible: true,
		WaitAfterAction:  100 * time.Millisecond,
		WaitIdleTime:     500 * time.Millisecond,
		WaitIdleLoadTime: 2 * time.Second,
	}
	if diff := cmp.Diff(want, PolicyFromConfig(cfg)); diff != "" {
		t.Errorf("PolicyFromConfig() mismatch (-want +got):\n%s", diff)
	}

	assert.Empty(t, cmp.Diff(navigator.DefaultPolicy(), PolicyFromConfig(config.NewDefaultConfig().Policy())),
		"configured defaults match the navigator defaults")
}

func TestNewManager_LaunchFailure(t *testing.T) {
	cfg := new(mocks.MockConfig)
	cfg.On("Browser").Return(config.BrowserConfig{
		Headless: true,
		ExecPath: "/nonexistent/steady-test/chrome",
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	m, err := NewManager(ctx, zaptest.NewLogger(t), cfg)
	require.Error(t, err)
	assert.Nil(t, m)
	assert.Contains(t, err.Error(), "failed to launch browser")
	cfg.AssertExpectations(t)
}

// -- Integration Tests --

func findChrome() string {
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "headless-shell"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return ""
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser integration test in short mode")
	}
	chrome := findChrome()
	if chrome == "" {
		t.Skip("no Chrome or Chromium binary found")
	}

	cfg := config.NewDefaultConfig()
	cfg.BrowserCfg.ExecPath = chrome
	cfg.BrowserCfg.WaitTimeout = 5 * time.Second
	cfg.PolicyCfg.WaitIdleTime = 50 * time.Millisecond

	m, err := NewManager(context.Background(), zaptest.NewLogger(t), cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

const lazyPage = `<!doctype html>
<html><body>
<button id="load" onclick="fetch('/slow').then(r => r.text()).then(t => { document.getElementById('out').textContent = t; })">load</button>
<div id="out"></div>
</body></html>`

func TestManager_PageLifecycle(t *testing.T) {
	m := newTestManager(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(lazyPage))
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		_, _ = w.Write([]byte("loaded"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	page, err := m.NewPage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, m.PageCount())

	nav := page.Navigator()
	resp, err := nav.Goto(ctx, srv.URL)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 200, resp.Status)

	// The click starts a slow fetch; the idle policy waits it out.
	require.NoError(t, nav.Click(ctx, "#load"))
	assert.Equal(t, 0, page.Monitor().PendingRequestCount())

	var text string
	found, err := nav.QueryElement(ctx, "#out", "(el) => el.textContent", &text)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "loaded", text)

	require.NoError(t, page.Close(ctx))
	require.NoError(t, page.Close(ctx), "close is idempotent")
	assert.Equal(t, 0, m.PageCount())

	select {
	case <-page.Monitor().Done():
	case <-time.After(5 * time.Second):
		t.Fatal("monitor should stop when the page closes")
	}
}

func TestManager_ShutdownClosesPages(t *testing.T) {
	m := newTestManager(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	p1, err := m.NewPage(ctx)
	require.NoError(t, err)
	p2, err := m.NewPage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, m.PageCount())

	require.NoError(t, m.Shutdown(ctx))
	assert.Equal(t, 0, m.PageCount())

	for _, p := range []*Page{p1, p2} {
		select {
		case <-p.Done():
		case <-time.After(5 * time.Second):
			t.Fatalf("page %s still open after shutdown", p.ID())
		}
	}

	_, err = m.NewPage(ctx)
	assert.ErrorIs(t, err, ErrManagerClosed)
	assert.NoError(t, m.Shutdown(ctx), "shutdown is idempotent")
}
