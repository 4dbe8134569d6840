// Package collyfetcher implements plain HTTP page and image fetching with gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/kbmirror/internal/crawler"
	"github.com/JakeFAU/kbmirror/internal/metrics"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	// MaxBodySize caps response bodies in bytes; zero keeps colly's default.
	MaxBodySize int
}

// Limiter throttles requests per host.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Fetcher renders pages without a browser (crawler.Renderer) and downloads
// images (crawler.ImageFetcher) using the Colly collector.
type Fetcher struct {
	cfg           Config
	limiter       Limiter
	logger        *zap.Logger
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type response struct {
	url         string
	status      int
	contentType string
	body        []byte
}

// New builds a Fetcher. limiter may be nil.
func New(cfg Config, limiter Limiter, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())
	// Clones share the visited store, and retries must be able to refetch.
	c.AllowURLRevisit = true

	return &Fetcher{
		cfg:           cfg,
		limiter:       limiter,
		logger:        logger.Named("colly"),
		baseCollector: c,
	}
}

// Render fetches the raw HTML of a page.
func (f *Fetcher) Render(ctx context.Context, url string) (crawler.Page, error) {
	start := time.Now()
	res, err := f.fetch(ctx, url)
	elapsed := time.Since(start)
	metrics.ObserveRender("static", elapsed)
	if err != nil {
		return crawler.Page{}, err
	}
	return crawler.Page{
		URL:        url,
		FinalURL:   res.url,
		StatusCode: res.status,
		HTML:       res.body,
		Duration:   elapsed,
	}, nil
}

// Download fetches a binary resource and reports its content type.
func (f *Fetcher) Download(ctx context.Context, url string) ([]byte, string, error) {
	res, err := f.fetch(ctx, url)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", err
		}
		return nil, "", crawler.Wrap(crawler.ErrImageDownload, err)
	}
	if len(res.body) == 0 {
		return nil, "", crawler.Wrap(crawler.ErrImageDownload, fmt.Errorf("download %s: empty body", url))
	}
	return res.body, res.contentType, nil
}

func (f *Fetcher) fetch(ctx context.Context, url string) (response, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, url); err != nil {
			return response{}, err
		}
	}
	var (
		result   response
		fetchErr error
	)
	collector := f.buildCollector(ctx)
	f.configureCollectorHooks(collector, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, url, &fetchErr); err != nil {
		// On cancellation the visit goroutine may still be writing result.
		if ctx.Err() != nil {
			return response{}, err
		}
		return response{}, classify(url, result.status, err)
	}
	f.logger.Debug("fetched", zap.String("url", url), zap.Int("status", result.status), zap.Int("bytes", len(result.body)))
	return result, nil
}

func (f *Fetcher) buildCollector(ctx context.Context) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	collector.SetRequestTimeout(f.cfg.Timeout)
	if f.cfg.MaxBodySize > 0 {
		collector.MaxBodySize = f.cfg.MaxBodySize
	}
	collector.Context = ctx
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *response, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		*result = response{
			url:         r.Request.URL.String(),
			status:      r.StatusCode,
			contentType: r.Headers.Get("Content-Type"),
			body:        append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.status = r.StatusCode
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

// classify maps a fetch failure onto the crawler error taxonomy.
func classify(url string, status int, err error) error {
	if status >= http.StatusBadRequest {
		return crawler.Wrap(crawler.ErrNetwork, fmt.Errorf("fetch %s: status %d: %w", url, status, err))
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return crawler.Wrap(crawler.ErrRenderTimeout, fmt.Errorf("fetch %s: %w", url, err))
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return crawler.Wrap(crawler.ErrRenderTimeout, fmt.Errorf("fetch %s: %w", url, err))
	}
	return crawler.Wrap(crawler.ErrNetwork, fmt.Errorf("fetch %s: %w", url, err))
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
