package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/kbmirror/internal/app"
	"github.com/JakeFAU/kbmirror/internal/config"
)

type fakeRunner struct {
	opts    app.Options
	summary app.Summary
	err     error
	closed  bool
}

func (r *fakeRunner) Run(_ context.Context, opts app.Options) (app.Summary, error) {
	r.opts = opts
	return r.summary, r.err
}

func (r *fakeRunner) Close() { r.closed = true }

// setup moves into a temp dir, writes a config file and swaps the app factory.
func setup(t *testing.T, runner *fakeRunner) (*config.Config, string) {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	cfgPath := filepath.Join(dir, "kbmirror.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
site:
  name: Example KB
  root_urls: ["https://kb.example.org/kb"]
renderer:
  mode: static
logging:
  development: false
  file: ""
`), 0o600))

	var got config.Config
	prev := newApp
	newApp = func(_ context.Context, cfg config.Config, _ *zap.Logger) (Runner, error) {
		got = cfg
		return runner, nil
	}
	t.Cleanup(func() { newApp = prev })
	return &got, cfgPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(viper.New())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootRunsWithConfigFile(t *testing.T) {
	runner := &fakeRunner{summary: app.Summary{RunID: "run-1", Discovered: 4, Succeeded: 3, Failed: 1}}
	got, cfgPath := setup(t, runner)

	out, err := execute(t, "--config", cfgPath)
	require.NoError(t, err)

	assert.Equal(t, "Example KB", got.Site.Name)
	assert.Equal(t, config.RendererStatic, got.Renderer.Mode)
	assert.Equal(t, 3, got.Crawler.Concurrency)
	assert.InDelta(t, 1.5, got.Crawler.DelaySeconds, 1e-9)
	assert.True(t, got.Images.Enabled)
	assert.Equal(t, app.Options{}, runner.opts)
	assert.True(t, runner.closed)
	assert.Contains(t, out, "kbmirror run run-1")
}

func TestRootFlagsOverrideConfig(t *testing.T) {
	runner := &fakeRunner{}
	got, cfgPath := setup(t, runner)

	_, err := execute(t, "--config", cfgPath,
		"--concurrent", "5",
		"--delay", "0.25",
		"--no-images",
		"--discover-only",
		"--use-sitemap",
	)
	require.NoError(t, err)

	assert.Equal(t, 5, got.Crawler.Concurrency)
	assert.InDelta(t, 0.25, got.Crawler.DelaySeconds, 1e-9)
	assert.False(t, got.Images.Enabled)
	assert.Equal(t, app.Options{DiscoverOnly: true, UseSiteMap: true, NoImages: true}, runner.opts)
}

func TestRootConcurrentSizesRenderSlots(t *testing.T) {
	got, cfgPath := setup(t, &fakeRunner{})

	_, err := execute(t, "--config", cfgPath, "--concurrent", "8")
	require.NoError(t, err)

	assert.Equal(t, 8, got.Crawler.Concurrency)
	assert.Equal(t, 8, got.RenderSlots())
}

func TestRootReturnsRunError(t *testing.T) {
	runner := &fakeRunner{err: errors.New("disk full")}
	_, cfgPath := setup(t, runner)

	out, err := execute(t, "--config", cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.True(t, runner.closed)
	assert.Contains(t, out, "Articles written", "summary is printed even when the run fails")
}

func TestRootRejectsInvalidConfig(t *testing.T) {
	runner := &fakeRunner{}
	_, cfgPath := setup(t, runner)

	_, err := execute(t, "--config", cfgPath, "--concurrent", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crawler.concurrency")
}

func TestRootMissingConfigFile(t *testing.T) {
	setup(t, &fakeRunner{})

	_, err := execute(t, "--config", "does-not-exist.yaml")
	require.Error(t, err)
}

func TestRootRejectsArgs(t *testing.T) {
	setup(t, &fakeRunner{})

	_, err := execute(t, "extra")
	require.Error(t, err)
}
