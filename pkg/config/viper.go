// Package config is responsible for initializing the application's configuration.
// It uses the Viper library to read settings from a config file, environment
// variables, and command-line flags, providing a unified configuration system.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/kbmirror/internal/logging"
)

// EnvPrefix is prepended to every environment override, e.g. KBMIRROR_CRAWLER_CONCURRENCY=5.
const EnvPrefix = "KBMIRROR"

// DefaultUserAgent mimics a desktop browser; some knowledge-base portals refuse bot agents.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// InitConfig prepares v with defaults, environment overrides and the config file.
// When cfgFile is empty the usual locations are searched and a missing file is
// not an error. An explicit cfgFile must exist.
func InitConfig(v *viper.Viper, cfgFile string) error {
	// --- Set Search Paths ---
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")               // Current working directory
		v.AddConfigPath("/etc/kbmirror/")  // System-wide configuration
		v.AddConfigPath("$HOME/.kbmirror") // User-specific configuration
	}

	// --- Set Defaults ---
	SetDefaults(v)

	// --- Environment Variables ---
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// --- Read Config File ---
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			logging.L.Warn("config file not found; using defaults and environment variables")
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	logging.L.Info("using config file", zap.String("path", v.ConfigFileUsed()))
	return nil
}

// SetDefaults registers the default value of every configuration key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("site.name", "Haltech Knowledge Base")
	v.SetDefault("site.root_urls", []string{"https://support.haltech.com/portal/en/kb/haltech"})
	v.SetDefault("site.allowed_hosts", []string{"support.haltech.com"})
	v.SetDefault("site.exclude_patterns", []string{"**/login*", "**/signup*", "**/account*", "portal/api/**"})

	v.SetDefault("selectors.category", "a.kb-category-link")
	v.SetDefault("selectors.subcategory", "a.kb-subcategory-link")
	v.SetDefault("selectors.article", "a.kb-article-link")
	v.SetDefault("selectors.pagination", "a.kb-pagination-next")
	v.SetDefault("selectors.title", []string{"h1.article-title", "h1.kb-title", "h1", ".page-title"})
	v.SetDefault("selectors.content", []string{
		".article-content", ".kb-article-content", ".content-wrapper", "article", "main", "div[role=main]",
	})
	v.SetDefault("selectors.breadcrumb", []string{".breadcrumb", "nav[aria-label=breadcrumb]", ".breadcrumbs"})
	v.SetDefault("selectors.strip", []string{
		"nav", "aside", ".sidebar", ".related-articles", "script", "style", "noscript",
	})

	v.SetDefault("discovery.max_depth", 5)

	v.SetDefault("crawler.user_agent", DefaultUserAgent)
	v.SetDefault("crawler.concurrency", 3)
	v.SetDefault("crawler.delay_seconds", 1.5)

	v.SetDefault("renderer.mode", "headless")
	v.SetDefault("renderer.timeout", "30s")
	v.SetDefault("renderer.settle", "1s")
	v.SetDefault("renderer.wait_selector", "body")
	v.SetDefault("renderer.max_parallel", 0)
	v.SetDefault("renderer.exec_path", "")
	v.SetDefault("renderer.respect_robots", false)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "2s")
	v.SetDefault("retry.max_delay", "10s")

	v.SetDefault("images.enabled", true)
	v.SetDefault("images.dir", "images")
	v.SetDefault("images.timeout", "30s")
	v.SetDefault("images.max_attempts", 3)
	v.SetDefault("images.host_qps", 4)

	v.SetDefault("content.min_chars", 100)
	v.SetDefault("content.readability_fallback", false)

	v.SetDefault("output.provider", "local")
	v.SetDefault("output.dir", "output")
	v.SetDefault("output.gcs_bucket", "")
	v.SetDefault("output.gcs_prefix", "")
	v.SetDefault("output.max_filename_length", 200)

	v.SetDefault("logs.dir", "logs")

	v.SetDefault("failures.path", "logs/failed_urls.jsonl")
	v.SetDefault("failures.postgres_dsn", "")
	v.SetDefault("failures.postgres_table", "crawl_failures")

	v.SetDefault("notify.provider", "none")
	v.SetDefault("notify.project_id", "")
	v.SetDefault("notify.topic_id", "")

	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "logs/scraper.log")

	v.SetDefault("metrics.addr", "")
}
