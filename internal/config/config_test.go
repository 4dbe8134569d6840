package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	pkgconfig "github.com/JakeFAU/kbmirror/pkg/config"
)

func load(t *testing.T, yaml string) (Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	v := viper.New()
	if err := pkgconfig.InitConfig(v, path); err != nil {
		t.Fatalf("InitConfig() error = %v", err)
	}
	return Load(v)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(t, "{}\n")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Crawler.Concurrency != 3 || cfg.Crawler.Delay() != 1500*time.Millisecond {
		t.Fatalf("unexpected crawler defaults: %+v", cfg.Crawler)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.BaseDelay != 2*time.Second || cfg.Retry.MaxDelay != 10*time.Second {
		t.Fatalf("unexpected retry defaults: %+v", cfg.Retry)
	}
	if cfg.Renderer.Timeout != 30*time.Second || cfg.Renderer.Mode != RendererHeadless {
		t.Fatalf("unexpected renderer defaults: %+v", cfg.Renderer)
	}
	if !cfg.Images.Enabled || cfg.Output.MaxFilenameLength != 200 || cfg.Discovery.MaxDepth != 5 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	sel := cfg.Selectors.Extract()
	if sel.Article != "a.kb-article-link" || len(sel.Content) != 6 {
		t.Fatalf("unexpected selectors: %+v", sel)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	cfg, err := load(t, `
site:
  name: Example KB
  root_urls: ["https://kb.example.org/kb"]
  allowed_hosts: ["kb.example.org"]
crawler:
  concurrency: 6
  delay_seconds: 0.25
renderer:
  mode: static
  timeout: 5s
retry:
  max_attempts: 5
output:
  provider: gcs
  gcs_bucket: mirror-bucket
  gcs_prefix: kb
notify:
  provider: pubsub
  project_id: proj
  topic_id: articles
logging:
  development: false
  level: debug
`)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Site.Name != "Example KB" || cfg.Site.RootURLs[0] != "https://kb.example.org/kb" {
		t.Fatalf("expected site overrides: %+v", cfg.Site)
	}
	if cfg.Crawler.Concurrency != 6 || cfg.Crawler.Delay() != 250*time.Millisecond {
		t.Fatalf("expected crawler overrides: %+v", cfg.Crawler)
	}
	if cfg.Renderer.Mode != RendererStatic || cfg.Renderer.Timeout != 5*time.Second {
		t.Fatalf("expected renderer overrides: %+v", cfg.Renderer)
	}
	if cfg.Output.Provider != OutputGCS || cfg.Output.GCSBucket != "mirror-bucket" {
		t.Fatalf("expected output overrides: %+v", cfg.Output)
	}
	if cfg.Notify.Provider != NotifyPubSub || cfg.Logging.Development || cfg.Logging.Level != "debug" {
		t.Fatalf("expected notify/logging overrides: %+v %+v", cfg.Notify, cfg.Logging)
	}
}

func TestRenderSlotsFollowConcurrency(t *testing.T) {
	cfg, err := load(t, "crawler:\n  concurrency: 7\n")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Renderer.MaxParallel != 0 || cfg.RenderSlots() != 7 {
		t.Fatalf("expected render slots to follow concurrency, got max_parallel=%d slots=%d", cfg.Renderer.MaxParallel, cfg.RenderSlots())
	}

	cfg.Renderer.MaxParallel = 2
	if cfg.RenderSlots() != 2 {
		t.Fatalf("explicit max_parallel must win, got %d", cfg.RenderSlots())
	}
}

func TestConfigValidateErrors(t *testing.T) {
	v := viper.New()
	pkgconfig.SetDefaults(v)
	base, err := Load(v)
	if err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"no roots", func(c *Config) { c.Site.RootURLs = nil }, "site.root_urls"},
		{"relative root", func(c *Config) { c.Site.RootURLs = []string{"/kb"} }, "site.root_urls"},
		{"bad pattern", func(c *Config) { c.Site.ExcludePatterns = []string{"[a"} }, "site.exclude_patterns"},
		{"no article selector", func(c *Config) { c.Selectors.Article = "" }, "selectors.article"},
		{"no content selectors", func(c *Config) { c.Selectors.Content = nil }, "selectors.content"},
		{"negative depth", func(c *Config) { c.Discovery.MaxDepth = -1 }, "discovery.max_depth"},
		{"zero concurrency", func(c *Config) { c.Crawler.Concurrency = 0 }, "crawler.concurrency"},
		{"negative delay", func(c *Config) { c.Crawler.DelaySeconds = -1 }, "crawler.delay_seconds"},
		{"unknown renderer", func(c *Config) { c.Renderer.Mode = "selenium" }, "renderer.mode"},
		{"negative render slots", func(c *Config) { c.Renderer.MaxParallel = -1 }, "renderer.max_parallel"},
		{"zero timeout", func(c *Config) { c.Renderer.Timeout = 0 }, "renderer.timeout"},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, "retry.max_attempts"},
		{"zero image attempts", func(c *Config) { c.Images.MaxAttempts = 0 }, "images.max_attempts"},
		{"zero min chars", func(c *Config) { c.Content.MinChars = 0 }, "content.min_chars"},
		{"gcs without bucket", func(c *Config) { c.Output.Provider = OutputGCS }, "output.gcs_bucket"},
		{"unknown output", func(c *Config) { c.Output.Provider = "s3" }, "output.provider"},
		{"no filename length", func(c *Config) { c.Output.MaxFilenameLength = 0 }, "output.max_filename_length"},
		{"pubsub without topic", func(c *Config) { c.Notify.Provider = NotifyPubSub }, "notify.project_id"},
		{"unknown notify", func(c *Config) { c.Notify.Provider = "sns" }, "notify.provider"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			cfg.Site.RootURLs = append([]string(nil), base.Site.RootURLs...)
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
