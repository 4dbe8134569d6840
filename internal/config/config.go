// Package config loads and validates kbmirror configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/viper"

	"github.com/JakeFAU/kbmirror/internal/extract"
)

// Renderer modes.
const (
	RendererHeadless = "headless"
	RendererStatic   = "static"
)

// Output providers.
const (
	OutputLocal = "local"
	OutputGCS   = "gcs"
)

// Notify providers.
const (
	NotifyNone   = "none"
	NotifyPubSub = "pubsub"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Site      SiteConfig      `mapstructure:"site"`
	Selectors SelectorsConfig `mapstructure:"selectors"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Renderer  RendererConfig  `mapstructure:"renderer"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Images    ImagesConfig    `mapstructure:"images"`
	Content   ContentConfig   `mapstructure:"content"`
	Output    OutputConfig    `mapstructure:"output"`
	Logs      LogsConfig      `mapstructure:"logs"`
	Failures  FailuresConfig  `mapstructure:"failures"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// SiteConfig describes the knowledge base being mirrored.
type SiteConfig struct {
	Name            string   `mapstructure:"name"`
	RootURLs        []string `mapstructure:"root_urls"`
	AllowedHosts    []string `mapstructure:"allowed_hosts"`
	ExcludePatterns []string `mapstructure:"exclude_patterns"`
}

// SelectorsConfig holds the CSS selectors that classify links and locate content.
type SelectorsConfig struct {
	Category    string   `mapstructure:"category"`
	Subcategory string   `mapstructure:"subcategory"`
	Article     string   `mapstructure:"article"`
	Pagination  string   `mapstructure:"pagination"`
	Title       []string `mapstructure:"title"`
	Content     []string `mapstructure:"content"`
	Breadcrumb  []string `mapstructure:"breadcrumb"`
	Strip       []string `mapstructure:"strip"`
}

// Extract converts the selectors for the extractor.
func (s SelectorsConfig) Extract() extract.Selectors {
	return extract.Selectors{
		Category:    s.Category,
		Subcategory: s.Subcategory,
		Article:     s.Article,
		Pagination:  s.Pagination,
		Title:       s.Title,
		Content:     s.Content,
		Breadcrumb:  s.Breadcrumb,
		Strip:       s.Strip,
	}
}

// DiscoveryConfig bounds the category crawl.
type DiscoveryConfig struct {
	MaxDepth int `mapstructure:"max_depth"`
}

// CrawlerConfig governs request identity and pacing.
type CrawlerConfig struct {
	UserAgent    string  `mapstructure:"user_agent"`
	Concurrency  int     `mapstructure:"concurrency"`
	DelaySeconds float64 `mapstructure:"delay_seconds"`
}

// Delay returns the minimum inter-request delay.
func (c CrawlerConfig) Delay() time.Duration {
	return time.Duration(c.DelaySeconds * float64(time.Second))
}

// RendererConfig selects and tunes the page renderer. MaxParallel caps
// concurrent headless renders; zero follows crawler.concurrency.
type RendererConfig struct {
	Mode          string        `mapstructure:"mode"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Settle        time.Duration `mapstructure:"settle"`
	WaitSelector  string        `mapstructure:"wait_selector"`
	MaxParallel   int           `mapstructure:"max_parallel"`
	ExecPath      string        `mapstructure:"exec_path"`
	RespectRobots bool          `mapstructure:"respect_robots"`
}

// RetryConfig sets the page retry policy.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// ImagesConfig controls image download and rewriting.
type ImagesConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Dir         string        `mapstructure:"dir"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	HostQPS     float64       `mapstructure:"host_qps"`
}

// ContentConfig tunes main-content detection.
type ContentConfig struct {
	MinChars            int  `mapstructure:"min_chars"`
	ReadabilityFallback bool `mapstructure:"readability_fallback"`
}

// OutputConfig selects where articles are written.
type OutputConfig struct {
	Provider          string `mapstructure:"provider"`
	Dir               string `mapstructure:"dir"`
	GCSBucket         string `mapstructure:"gcs_bucket"`
	GCSPrefix         string `mapstructure:"gcs_prefix"`
	MaxFilenameLength int    `mapstructure:"max_filename_length"`
}

// LogsConfig locates run artifacts such as the site map.
type LogsConfig struct {
	Dir string `mapstructure:"dir"`
}

// FailuresConfig controls the failure log and its optional database mirror.
type FailuresConfig struct {
	Path          string `mapstructure:"path"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	PostgresTable string `mapstructure:"postgres_table"`
}

// NotifyConfig configures article notifications.
type NotifyConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
}

// MetricsConfig enables the metrics endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load unmarshals v into a Config and validates it.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// RenderSlots is the number of headless renders allowed at once.
func (c Config) RenderSlots() int {
	if c.Renderer.MaxParallel > 0 {
		return c.Renderer.MaxParallel
	}
	return c.Crawler.Concurrency
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if len(c.Site.RootURLs) == 0 {
		return fmt.Errorf("site.root_urls must not be empty")
	}
	for _, raw := range c.Site.RootURLs {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("site.root_urls: %q is not an absolute http(s) url", raw)
		}
	}
	for _, p := range c.Site.ExcludePatterns {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("site.exclude_patterns: invalid pattern %q", p)
		}
	}
	if c.Selectors.Article == "" {
		return fmt.Errorf("selectors.article must be set")
	}
	if len(c.Selectors.Content) == 0 {
		return fmt.Errorf("selectors.content must not be empty")
	}
	if c.Discovery.MaxDepth < 0 {
		return fmt.Errorf("discovery.max_depth must be >= 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.DelaySeconds < 0 {
		return fmt.Errorf("crawler.delay_seconds must be >= 0")
	}
	switch c.Renderer.Mode {
	case RendererHeadless, RendererStatic:
	default:
		return fmt.Errorf("renderer.mode must be %q or %q, got %q", RendererHeadless, RendererStatic, c.Renderer.Mode)
	}
	if c.Renderer.MaxParallel < 0 {
		return fmt.Errorf("renderer.max_parallel must be >= 0")
	}
	if c.Renderer.Timeout <= 0 {
		return fmt.Errorf("renderer.timeout must be > 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	if c.Images.Enabled && c.Images.MaxAttempts <= 0 {
		return fmt.Errorf("images.max_attempts must be > 0 when images are enabled")
	}
	if c.Content.MinChars <= 0 {
		return fmt.Errorf("content.min_chars must be > 0")
	}
	switch c.Output.Provider {
	case OutputLocal:
		if c.Output.Dir == "" {
			return fmt.Errorf("output.dir must be set for the local provider")
		}
	case OutputGCS:
		if c.Output.GCSBucket == "" {
			return fmt.Errorf("output.gcs_bucket must be set for the gcs provider")
		}
	default:
		return fmt.Errorf("output.provider must be %q or %q, got %q", OutputLocal, OutputGCS, c.Output.Provider)
	}
	if c.Output.MaxFilenameLength <= 0 {
		return fmt.Errorf("output.max_filename_length must be > 0")
	}
	if c.Logs.Dir == "" {
		return fmt.Errorf("logs.dir must be set")
	}
	if c.Failures.Path == "" {
		return fmt.Errorf("failures.path must be set")
	}
	switch c.Notify.Provider {
	case "", NotifyNone:
	case NotifyPubSub:
		if c.Notify.ProjectID == "" || c.Notify.TopicID == "" {
			return fmt.Errorf("notify.project_id and notify.topic_id must be set for the pubsub provider")
		}
	default:
		return fmt.Errorf("notify.provider must be %q or %q, got %q", NotifyNone, NotifyPubSub, c.Notify.Provider)
	}
	return nil
}
