// internal/browser/manager.go
// Package browser owns the browser process and hands out pages, each wired
// with its own activity monitor and a navigator bound to the main frame.
package browser

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/steady/internal/browser/activity"
	"github.com/xkilldash9x/steady/internal/browser/driver"
	"github.com/xkilldash9x/steady/internal/browser/navigator"
	"github.com/xkilldash9x/steady/internal/config"
)

const (
	launchTimeout = 30 * time.Second
	probeTimeout  = 10 * time.Second
)

// ErrManagerClosed is returned by NewPage after Shutdown.
var ErrManagerClosed = errors.New("browser: manager is shut down")

// Manager handles the lifecycle of the browser process.
type Manager struct {
	logger *zap.Logger
	cfg    config.Interface

	// allocCtx owns the browser process; browserCtx owns the connection and
	// is the parent of every tab context.
	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu     sync.Mutex
	pages  map[string]*Page
	closed bool
}

// NewManager launches the browser and verifies it responds.
func NewManager(ctx context.Context, logger *zap.Logger, cfg config.Interface) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		logger: logger.Named("browser_manager"),
		cfg:    cfg,
		pages:  make(map[string]*Page),
	}

	opts, err := AllocatorOptions(cfg.Browser())
	if err != nil {
		return nil, err
	}

	m.logger.Info("Launching browser...", zap.Bool("headless", cfg.Browser().Headless))
	m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(ctx, opts...)
	m.browserCtx, m.browserCancel = chromedp.NewContext(m.allocCtx,
		chromedp.WithLogf(m.logger.Sugar().Debugf),
		chromedp.WithErrorf(m.logger.Sugar().Errorf),
	)

	if err := m.launch(); err != nil {
		m.browserCancel()
		m.allocCancel()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	m.logger.Info("Browser launched successfully and is responsive.")
	return m, nil
}

// launch starts the process and runs a liveness probe. The first Run on the
// browser context binds the process lifetime to it, so it cannot carry a
// timeout of its own; the launch deadline is enforced from outside.
func (m *Manager) launch() error {
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(m.browserCtx) }()

	select {
	case err := <-started:
		if err != nil {
			return err
		}
	case <-time.After(launchTimeout):
		return fmt.Errorf("browser did not start within %s", launchTimeout)
	}

	probeCtx, cancel := context.WithTimeout(m.browserCtx, probeTimeout)
	defer cancel()
	if err := chromedp.Run(probeCtx, chromedp.Navigate("about:blank")); err != nil {
		return fmt.Errorf("browser failed to respond: %w", err)
	}
	return nil
}

// AllocatorOptions turns the browser configuration into exec allocator
// options on top of chromedp's defaults.
func AllocatorOptions(cfg config.BrowserConfig) ([]chromedp.ExecAllocatorOption, error) {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	for name, value := range allocatorFlags(cfg, runtime.GOOS) {
		opts = append(opts, chromedp.Flag(name, value))
	}

	if cfg.ExecPath != "" {
		path, err := homedir.Expand(cfg.ExecPath)
		if err != nil {
			return nil, fmt.Errorf("invalid browser.exec_path: %w", err)
		}
		opts = append(opts, chromedp.ExecPath(path))
	}
	if cfg.UserDataDir != "" {
		dir, err := homedir.Expand(cfg.UserDataDir)
		if err != nil {
			return nil, fmt.Errorf("invalid browser.user_data_dir: %w", err)
		}
		opts = append(opts, chromedp.UserDataDir(dir))
	}
	return opts, nil
}

// allocatorFlags computes the command-line flags layered over the defaults.
// Later entries override earlier ones; custom args win over everything.
func allocatorFlags(cfg config.BrowserConfig, goos string) map[string]interface{} {
	flags := map[string]interface{}{
		"headless":           cfg.Headless,
		"disable-extensions": true,
		"disable-gpu":        cfg.Headless,
	}
	if cfg.IgnoreTLSErrors {
		flags["ignore-certificate-errors"] = true
		flags["allow-insecure-localhost"] = true
	}
	// Containers (Docker on Linux) need these.
	if goos == "linux" {
		flags["no-sandbox"] = true
		flags["disable-dev-shm-usage"] = true
		flags["disable-setuid-sandbox"] = true
	}

	for _, arg := range cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if name == "" {
			continue
		}
		if len(parts) == 2 {
			flags[name] = parts[1]
		} else {
			flags[name] = true
		}
	}
	return flags
}

// PolicyFromConfig converts the configured initial wait policy.
func PolicyFromConfig(cfg config.PolicyConfig) navigator.Policy {
	return navigator.Policy{
		WaitUntilVisible:   cfg.WaitUntilVisible,
		WaitOnSelectors:    cfg.WaitOnSelectors,
		WaitAfterAction:    cfg.WaitAfterAction,
		WaitIdleTime:       cfg.WaitIdleTime,
		WaitIdleLoadTime:   cfg.WaitIdleLoadTime,
		UseSimulatedClicks: cfg.UseSimulatedClicks,
	}
}

// NewPage opens a tab. The page's monitor starts observing before the
// navigator is handed out, so no request of the first navigation is missed.
func (m *Manager) NewPage(ctx context.Context) (*Page, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	m.mu.Unlock()

	id := uuid.NewString()
	logger := m.logger.With(zap.String("page_id", id))

	tabCtx, cancel := chromedp.NewContext(m.browserCtx)
	// The first Run creates the target; the tab lives as long as tabCtx.
	created := make(chan error, 1)
	go func() { created <- chromedp.Run(tabCtx) }()
	select {
	case err := <-created:
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to open tab: %w", err)
		}
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}

	cdpPage, err := driver.NewCDPPage(tabCtx, logger)
	if err != nil {
		cancel()
		return nil, err
	}

	actCfg := m.cfg.Activity()
	monitor := activity.NewMonitor(cdpPage, logger,
		activity.WithMaxWait(actCfg.MaxWait),
		activity.WithPollInterval(actCfg.PollInterval),
	)

	browserCfg := m.cfg.Browser()
	nav := navigator.New(cdpPage.MainFrame(), monitor, PolicyFromConfig(m.cfg.Policy()), logger,
		navigator.WithWaitTimeout(browserCfg.WaitTimeout),
		navigator.WithNavigationTimeout(browserCfg.NavigationTimeout),
	)

	p := &Page{
		id:        id,
		page:      cdpPage,
		monitor:   monitor,
		navigator: nav,
		cancel:    cancel,
		logger:    logger,
	}
	p.onClose = func() { m.forget(id) }

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = p.Close(context.Background())
		return nil, ErrManagerClosed
	}
	m.pages[id] = p
	m.mu.Unlock()

	m.logger.Debug("Page opened.", zap.String("page_id", id))
	return p, nil
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pages, id)
}

// PageCount returns the number of open pages.
func (m *Manager) PageCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pages)
}

// Shutdown closes every open page concurrently, then terminates the browser.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	pages := make([]*Page, 0, len(m.pages))
	for _, p := range m.pages {
		pages = append(pages, p)
	}
	m.mu.Unlock()

	m.logger.Info("Browser manager shutdown initiated.", zap.Int("open_pages", len(pages)))

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range pages {
		g.Go(func() error {
			if err := p.Close(gctx); err != nil {
				m.logger.Warn("Error during page close in shutdown.", zap.String("page_id", p.ID()), zap.Error(err))
				return err
			}
			return nil
		})
	}
	pageErr := g.Wait()

	// Graceful close first; cancelling the allocator then kills whatever is left.
	if err := chromedp.Cancel(m.browserCtx); err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Warn("Browser did not close gracefully.", zap.Error(err))
	}
	m.browserCancel()
	m.allocCancel()

	m.logger.Info("Browser manager shutdown complete.")
	return pageErr
}

// Page is a tab together with its activity monitor and main-frame navigator.
type Page struct {
	id        string
	page      *driver.CDPPage
	monitor   *activity.Monitor
	navigator *navigator.Navigator
	cancel    context.CancelFunc
	logger    *zap.Logger
	onClose   func()

	closeOnce sync.Once
	closeErr  error
}

// ID returns the page's unique id.
func (p *Page) ID() string { return p.id }

// Navigator returns the navigator bound to the main frame.
func (p *Page) Navigator() *navigator.Navigator { return p.navigator }

// Monitor returns the page's activity monitor.
func (p *Page) Monitor() *activity.Monitor { return p.monitor }

// Done is closed once the tab has gone away, whether by Close or not.
func (p *Page) Done() <-chan struct{} { return p.page.Done() }

// Close closes the tab and stops its monitor. It is idempotent.
func (p *Page) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		p.closeErr = p.page.Close(ctx)
		p.monitor.Stop()
		p.cancel()
		if p.onClose != nil {
			p.onClose()
		}
		p.logger.Debug("Page closed.")
	})
	return p.closeErr
}
