// Package headless renders pages in headless Chrome so script-built content is present.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/kbmirror/internal/crawler"
	"github.com/JakeFAU/kbmirror/internal/metrics"
)

// Config controls the behavior of the headless renderer.
type Config struct {
	MaxParallel  int
	UserAgent    string
	Timeout      time.Duration
	Settle       time.Duration
	WaitSelector string
	ExecPath     string
}

// Renderer implements crawler.Renderer using chromedp and headless Chrome.
// One browser process is shared; every render opens its own tab.
type Renderer struct {
	cfg         Config
	limiter     chan struct{}
	logger      *zap.Logger
	allocator   context.Context
	allocCancel context.CancelFunc

	mu            sync.Mutex
	browser       context.Context
	browserCancel context.CancelFunc
}

// NewChromedp creates a headless renderer backed by chromedp. The browser is
// launched by Start.
func NewChromedp(cfg Config, logger *zap.Logger) (*Renderer, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Settle < 0 {
		cfg.Settle = 0
	}
	if cfg.WaitSelector == "" {
		cfg.WaitSelector = "body"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Renderer{
		cfg:         cfg,
		limiter:     limiter,
		logger:      logger.Named("headless"),
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Start launches the browser. A failure here means no page can be rendered.
func (r *Renderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser != nil {
		return nil
	}
	browser, cancel := chromedp.NewContext(r.allocator)
	// The first Run allocates the browser and its context owns the process
	// lifetime, so it must not carry a deadline.
	done := make(chan error, 1)
	go func() { done <- chromedp.Run(browser) }()
	timer := time.NewTimer(r.cfg.Timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			cancel()
			return fmt.Errorf("start browser: %w", err)
		}
	case <-timer.C:
		cancel()
		return fmt.Errorf("start browser: timed out after %s", r.cfg.Timeout)
	case <-ctx.Done():
		cancel()
		return fmt.Errorf("start browser: %w", ctx.Err())
	}
	r.browser = browser
	r.browserCancel = cancel
	r.logger.Info("browser started")
	return nil
}

// Close shuts the browser down.
func (r *Renderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browserCancel != nil {
		r.browserCancel()
		r.browser = nil
		r.browserCancel = nil
	}
	r.allocCancel()
}

// Render navigates to url, waits for the DOM to settle and returns the rendered HTML.
func (r *Renderer) Render(ctx context.Context, url string) (crawler.Page, error) {
	browser, err := r.browserContext(ctx)
	if err != nil {
		return crawler.Page{}, err
	}
	if err := r.acquire(ctx); err != nil {
		return crawler.Page{}, err
	}
	defer r.release()

	tabCtx, tabCancel := chromedp.NewContext(browser)
	defer tabCancel()
	// Tie the tab to the caller so cancellation closes it.
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	taskCtx, cancel := context.WithTimeout(tabCtx, r.cfg.Timeout)
	defer cancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	start := time.Now()
	html, finalURL, err := r.run(taskCtx, url)
	elapsed := time.Since(start)
	metrics.ObserveRender("headless", elapsed)
	if err != nil {
		return crawler.Page{}, classify(ctx, taskCtx, url, err)
	}

	status, responseURL := meta.snapshotWithFallbacks(url, finalURL)
	if status >= http.StatusBadRequest {
		return crawler.Page{}, crawler.Wrap(crawler.ErrNetwork, fmt.Errorf("render %s: status %d", url, status))
	}
	r.logger.Debug("page rendered", zap.String("url", url), zap.Int("status", status), zap.Duration("duration", elapsed))

	return crawler.Page{
		URL:          url,
		FinalURL:     responseURL,
		StatusCode:   status,
		HTML:         []byte(html),
		Duration:     elapsed,
		UsedHeadless: true,
	}, nil
}

func (r *Renderer) run(ctx context.Context, url string) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		r.networkSetupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady(r.cfg.WaitSelector, chromedp.ByQuery),
	}
	if r.cfg.Settle > 0 {
		actions = append(actions, chromedp.Sleep(r.cfg.Settle))
	}
	actions = append(actions,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (r *Renderer) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if r.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (r *Renderer) browserContext(ctx context.Context) (context.Context, error) {
	r.mu.Lock()
	browser := r.browser
	r.mu.Unlock()
	if browser != nil {
		return browser, nil
	}
	if err := r.Start(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.browser, nil
}

func (r *Renderer) acquire(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	select {
	case r.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (r *Renderer) release() {
	if r.limiter == nil {
		return
	}
	select {
	case <-r.limiter:
	default:
	}
}

// classify maps a chromedp failure onto the crawler error taxonomy.
func classify(parent, task context.Context, url string, err error) error {
	if parentErr := parent.Err(); parentErr != nil {
		return fmt.Errorf("render %s: %w", url, parentErr)
	}
	if errors.Is(task.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return crawler.Wrap(crawler.ErrRenderTimeout, fmt.Errorf("render %s: %w", url, err))
	}
	return crawler.Wrap(crawler.ErrNetwork, fmt.Errorf("render %s: %w", url, err))
}

type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	m.mu.RLock()
	status, url := m.status, m.url
	m.mu.RUnlock()
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}

	if status == 0 {
		status = http.StatusOK
	}
	return status, url
}
