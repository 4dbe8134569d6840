// Package app wires the long-lived services of a kbmirror run and drives the
// discover, fetch and index phases. It acts as the dependency injection container
// for the CLI.
package app

import (
	"context"
	"errors"
	"fmt"

	gcsstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/kbmirror/internal/clock/system"
	"github.com/JakeFAU/kbmirror/internal/config"
	"github.com/JakeFAU/kbmirror/internal/crawler"
	"github.com/JakeFAU/kbmirror/internal/failures"
	"github.com/JakeFAU/kbmirror/internal/failures/postgres"
	collyfetcher "github.com/JakeFAU/kbmirror/internal/fetcher/colly"
	"github.com/JakeFAU/kbmirror/internal/fetcher/headless"
	"github.com/JakeFAU/kbmirror/internal/id/uuid"
	"github.com/JakeFAU/kbmirror/internal/policy/ratelimit"
	"github.com/JakeFAU/kbmirror/internal/publisher/pubsub"
	"github.com/JakeFAU/kbmirror/internal/storage/gcs"
	"github.com/JakeFAU/kbmirror/internal/storage/local"
)

// Services are the collaborators a run depends on. New builds them from
// configuration; tests hand fakes to NewWithServices.
type Services struct {
	Renderer crawler.Renderer
	// Images may be nil, which disables image localization.
	Images crawler.ImageFetcher
	Sink   crawler.OutputSink
	// Publisher and FailureStore are optional.
	Publisher    crawler.Publisher
	FailureStore failures.Store
	Clock        crawler.Clock
	IDs          crawler.IDGenerator
	Pauser       crawler.Pauser
}

// App holds the configuration, services and identity of one run.
type App struct {
	cfg     config.Config
	svc     Services
	logger  *zap.Logger
	runID   string
	closers []func() error
}

// New builds every service named by cfg. It fails fast: a renderer that will not
// start, an unwritable output location or an unreachable topic aborts the run
// before any page is fetched.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	svc, err := a.build(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := a.init(svc); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// NewWithServices builds an App around caller-provided services.
func NewWithServices(cfg config.Config, svc Services, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	if err := a.init(svc); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) init(svc Services) error {
	if svc.Renderer == nil {
		return errors.New("app: renderer is required")
	}
	if svc.Sink == nil {
		return errors.New("app: output sink is required")
	}
	if svc.Clock == nil {
		svc.Clock = system.New()
	}
	if svc.IDs == nil {
		svc.IDs = uuid.New()
	}
	if svc.Pauser == nil {
		svc.Pauser = crawler.TimerPauser{}
	}
	runID, err := svc.IDs.NewID()
	if err != nil {
		return fmt.Errorf("create run id: %w", err)
	}
	a.svc = svc
	a.runID = runID
	a.logger = a.logger.With(zap.String("run_id", runID))
	return nil
}

func (a *App) build(ctx context.Context) (Services, error) {
	var svc Services
	cfg := a.cfg

	limiter := ratelimit.New(ratelimit.Config{DefaultRPS: cfg.Images.HostQPS})

	switch cfg.Renderer.Mode {
	case config.RendererStatic:
		a.logger.Info("using static renderer")
		svc.Renderer = collyfetcher.New(collyfetcher.Config{
			UserAgent:     cfg.Crawler.UserAgent,
			RespectRobots: cfg.Renderer.RespectRobots,
			Timeout:       cfg.Renderer.Timeout,
		}, limiter, a.logger)
	default:
		r, err := headless.NewChromedp(headless.Config{
			MaxParallel:  cfg.RenderSlots(),
			UserAgent:    cfg.Crawler.UserAgent,
			Timeout:      cfg.Renderer.Timeout,
			Settle:       cfg.Renderer.Settle,
			WaitSelector: cfg.Renderer.WaitSelector,
			ExecPath:     cfg.Renderer.ExecPath,
		}, a.logger)
		if err != nil {
			return svc, fmt.Errorf("create headless renderer: %w", err)
		}
		a.closers = append(a.closers, func() error { r.Close(); return nil })
		if err := r.Start(ctx); err != nil {
			return svc, fmt.Errorf("start headless renderer: %w", err)
		}
		a.logger.Info("headless renderer started", zap.Int("max_parallel", cfg.RenderSlots()))
		svc.Renderer = r
	}

	if cfg.Images.Enabled {
		svc.Images = collyfetcher.New(collyfetcher.Config{
			UserAgent:     cfg.Crawler.UserAgent,
			RespectRobots: cfg.Renderer.RespectRobots,
			Timeout:       cfg.Images.Timeout,
		}, limiter, a.logger)
	}

	switch cfg.Output.Provider {
	case config.OutputGCS:
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return svc, fmt.Errorf("create gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		sink, err := gcs.New(client, gcs.Config{Bucket: cfg.Output.GCSBucket, Prefix: cfg.Output.GCSPrefix})
		if err != nil {
			return svc, err
		}
		if err := sink.CheckBucket(ctx); err != nil {
			return svc, err
		}
		a.logger.Info("using gcs output", zap.String("bucket", cfg.Output.GCSBucket), zap.String("prefix", cfg.Output.GCSPrefix))
		svc.Sink = sink
	default:
		sink, err := local.New(local.Config{BaseDir: cfg.Output.Dir})
		if err != nil {
			return svc, err
		}
		a.logger.Info("using local output", zap.String("dir", sink.BaseDir()))
		svc.Sink = sink
	}

	if cfg.Notify.Provider == config.NotifyPubSub {
		pub, err := pubsub.Dial(ctx, cfg.Notify.ProjectID, cfg.Notify.TopicID)
		if err != nil {
			return svc, err
		}
		a.closers = append(a.closers, pub.Close)
		a.logger.Info("publishing article events", zap.String("topic", cfg.Notify.TopicID))
		svc.Publisher = pub
	}

	if cfg.Failures.PostgresDSN != "" {
		store, err := postgres.New(ctx, postgres.Config{
			DSN:   cfg.Failures.PostgresDSN,
			Table: cfg.Failures.PostgresTable,
		})
		if err != nil {
			return svc, err
		}
		a.closers = append(a.closers, func() error { store.Close(); return nil })
		if err := store.EnsureTable(ctx); err != nil {
			return svc, err
		}
		svc.FailureStore = store
	}

	return svc, nil
}

// RunID returns the identifier stamped on every artifact of this run.
func (a *App) RunID() string {
	return a.runID
}

// Logger returns the run-scoped logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Close releases services in reverse order of creation and flushes the logger.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("error closing service", zap.Error(err))
		}
	}
	a.closers = nil
	// Sync fails on terminals; nothing useful can be done about it.
	_ = a.logger.Sync()
}
