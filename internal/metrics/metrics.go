// Package metrics exposes Prometheus collectors for the mirror run.
package metrics

import (
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pagesTotal                 *prometheus.CounterVec
	articlesTotal              *prometheus.CounterVec
	imagesTotal                *prometheus.CounterVec
	retriesTotal               *prometheus.CounterVec
	renderDurationSeconds      *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kbmirror_pages_total",
				Help: "Total number of pages rendered, labeled by stage and status.",
			},
			[]string{"stage", "status"},
		)

		articlesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kbmirror_articles_total",
				Help: "Total number of articles processed, labeled by status.",
			},
			[]string{"status"},
		)

		imagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kbmirror_images_total",
				Help: "Total number of image references handled, labeled by status.",
			},
			[]string{"status"},
		)

		retriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kbmirror_retries_total",
				Help: "Total number of retried attempts, labeled by stage.",
			},
			[]string{"stage"},
		)

		renderDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kbmirror_render_duration_seconds",
				Help:    "Histogram of page render latencies, labeled by renderer.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"renderer"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "kbmirror_active_workers",
				Help: "Number of workers currently processing an article.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kbmirror_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// ObservePage counts a rendered page for the given stage ("discover" or "fetch").
func ObservePage(stage, status string) {
	Init()
	pagesTotal.WithLabelValues(stage, status).Inc()
}

// ObserveArticle counts a finished article.
func ObserveArticle(status string) {
	Init()
	articlesTotal.WithLabelValues(status).Inc()
}

// ObserveImage counts an image reference outcome.
func ObserveImage(status string) {
	Init()
	imagesTotal.WithLabelValues(status).Inc()
}

// ObserveRetry counts one retried attempt.
func ObserveRetry(stage string) {
	Init()
	retriesTotal.WithLabelValues(stage).Inc()
}

// ObserveRender records how long a render took.
func ObserveRender(renderer string, d time.Duration) {
	Init()
	renderDurationSeconds.WithLabelValues(renderer).Observe(d.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
