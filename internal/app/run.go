package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/kbmirror/internal/article"
	"github.com/JakeFAU/kbmirror/internal/convert"
	"github.com/JakeFAU/kbmirror/internal/crawler"
	"github.com/JakeFAU/kbmirror/internal/discovery"
	"github.com/JakeFAU/kbmirror/internal/extract"
	"github.com/JakeFAU/kbmirror/internal/failures"
	"github.com/JakeFAU/kbmirror/internal/index"
	"github.com/JakeFAU/kbmirror/internal/metrics"
	"github.com/JakeFAU/kbmirror/internal/worker"
)

// Options are the per-invocation switches from the command line.
type Options struct {
	DiscoverOnly bool
	UseSiteMap   bool
	NoImages     bool
}

// Summary reports what a run did.
type Summary struct {
	RunID        string
	Discovered   int
	Succeeded    int
	Failed       int
	SkippedPages int
	ImagesFailed int
	SiteMap      string
	FailureLog   string
	Index        string
	Interrupted  bool
	Elapsed      time.Duration
}

// Run maps the site (or loads the saved map), converts every article and writes
// the index. Per-article failures are recorded and do not fail the run; an
// interrupt stops between articles and still returns a summary with a nil error.
func (a *App) Run(ctx context.Context, opts Options) (summary Summary, err error) {
	start := a.svc.Clock.Now()
	summary.RunID = a.runID
	defer func() {
		summary.Elapsed = a.svc.Clock.Now().Sub(start)
	}()

	if a.cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(ctx, a.cfg.Metrics.Addr, a.logger); err != nil {
				a.logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	extractor := extract.New(a.cfg.Selectors.Extract(),
		extract.WithMinChars(a.cfg.Content.MinChars),
		extract.WithReadabilityFallback(a.cfg.Content.ReadabilityFallback),
		extract.WithLogger(a.logger),
	)

	store := discovery.NewStore(a.cfg.Logs.Dir, a.logger)
	summary.SiteMap = store.Path()
	tree, err := a.siteTree(ctx, store, extractor, opts.UseSiteMap)
	if err != nil {
		if ctx.Err() != nil {
			a.logger.Warn("interrupted during discovery")
			summary.Interrupted = true
			return summary, nil
		}
		return summary, err
	}
	summary.Discovered = len(tree.ArticleURLs)
	summary.SkippedPages = len(tree.Skipped)
	if opts.DiscoverOnly {
		a.logger.Info("discover only, skipping article fetch", zap.Int("articles", summary.Discovered))
		return summary, nil
	}

	tracker, err := failures.New(failures.Config{
		Path:  a.cfg.Failures.Path,
		RunID: a.runID,
		Clock: a.svc.Clock,
	}, a.svc.FailureStore, a.logger)
	if err != nil {
		return summary, err
	}
	summary.FailureLog = tracker.Path()

	results, imagesFailed, runErr := a.fetchAll(ctx, tree, extractor, tracker, opts.NoImages)
	closeErr := tracker.Close()
	summary.Succeeded = len(results)
	summary.Failed, _ = tracker.Summary()
	summary.ImagesFailed = imagesFailed

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return summary, runErr
	}
	if closeErr != nil {
		return summary, crawler.Wrap(crawler.ErrWrite, closeErr)
	}
	if ctx.Err() != nil {
		a.logger.Warn("interrupted, writing partial index", zap.Int("written", len(results)))
		summary.Interrupted = true
	}

	// The index is written even after an interrupt so partial output stays navigable.
	loc, err := a.writeIndex(context.WithoutCancel(ctx), tree, results)
	if err != nil {
		return summary, err
	}
	summary.Index = loc
	a.logger.Info("run complete",
		zap.Int("discovered", summary.Discovered),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

func (a *App) siteTree(
	ctx context.Context,
	store *discovery.Store,
	extractor *extract.Extractor,
	useSiteMap bool,
) (*crawler.SiteTree, error) {
	if useSiteMap {
		tree, err := store.Load()
		if err == nil {
			return tree, nil
		}
		if !errors.Is(err, discovery.ErrNoSiteMap) {
			return nil, err
		}
		a.logger.Warn("no saved site map, discovering instead", zap.String("path", store.Path()))
	}

	filter, err := crawler.NewURLFilter(a.cfg.Site.AllowedHosts, a.cfg.Site.ExcludePatterns)
	if err != nil {
		return nil, err
	}
	mapper := discovery.NewMapper(a.svc.Renderer, extractor, filter, discovery.Config{
		Delay:  a.cfg.Crawler.Delay(),
		Retry:  a.pageRetry(),
		Pauser: a.svc.Pauser,
		Clock:  a.svc.Clock,
	}, a.logger)
	tree, err := mapper.Discover(ctx, a.cfg.Site.RootURLs, a.cfg.Discovery.MaxDepth)
	if err != nil {
		return nil, err
	}
	tree.RunID = a.runID
	if err := store.Save(tree); err != nil {
		return nil, crawler.Wrap(crawler.ErrWrite, err)
	}
	return tree, nil
}

func (a *App) fetchAll(
	ctx context.Context,
	tree *crawler.SiteTree,
	extractor *extract.Extractor,
	tracker *failures.Tracker,
	noImages bool,
) ([]crawler.ArticleRecord, int, error) {
	var opts []article.Option
	if a.cfg.Images.Enabled && !noImages && a.svc.Images != nil {
		images := article.NewImageStore(a.svc.Images, a.svc.Sink, article.ImageConfig{
			Dir:    a.cfg.Images.Dir,
			Retry:  crawler.NewExponentialRetryPolicy(a.cfg.Images.MaxAttempts, a.cfg.Retry.BaseDelay, a.cfg.Retry.MaxDelay),
			Pauser: a.svc.Pauser,
		}, a.logger)
		opts = append(opts, article.WithImages(images))
	}
	if a.svc.Publisher != nil {
		opts = append(opts, article.WithPublisher(a.svc.Publisher))
	}
	records := tree.Articles()
	paths := article.NewPathAllocator(a.cfg.Output.MaxFilenameLength)
	paths.Reserve(records)
	proc := article.NewProcessor(
		a.svc.Renderer,
		extractor,
		convert.NewConverter(),
		a.svc.Sink,
		paths,
		article.Config{
			RunID:  a.runID,
			Retry:  a.pageRetry(),
			Pauser: a.svc.Pauser,
			Clock:  a.svc.Clock,
		},
		a.logger,
		opts...,
	)
	pool := worker.NewPool(worker.Config{
		Concurrency: a.cfg.Crawler.Concurrency,
		Delay:       a.cfg.Crawler.Delay(),
		Clock:       a.svc.Clock,
		Pauser:      a.svc.Pauser,
	}, a.logger)

	var (
		mu           sync.Mutex
		results      []crawler.ArticleRecord
		imagesFailed int
	)
	a.logger.Info("fetching articles",
		zap.Int("articles", len(records)),
		zap.Int("concurrency", a.cfg.Crawler.Concurrency),
	)
	err := pool.Run(ctx, records, func(ctx context.Context, rec crawler.ArticleRecord) error {
		res, err := proc.FetchAndConvert(ctx, rec)
		if err == nil {
			mu.Lock()
			results = append(results, res.Record)
			imagesFailed += len(res.ImagesFailed)
			mu.Unlock()
			return nil
		}
		if crawler.IsFatal(err) {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		return tracker.Record(ctx, crawler.FailureRecord{
			URL:     rec.URL,
			Reason:  err.Error(),
			Kind:    crawler.KindOf(err),
			Retries: res.Attempts,
			Stage:   crawler.StageFetch,
		})
	})
	return results, imagesFailed, err
}

func (a *App) writeIndex(ctx context.Context, tree *crawler.SiteTree, results []crawler.ArticleRecord) (string, error) {
	data := index.Generate(a.cfg.Site.Name, tree, results, a.svc.Clock.Now())
	loc, err := a.svc.Sink.Write(ctx, index.FileName, article.ContentType, data)
	if err != nil {
		return "", crawler.Wrap(crawler.ErrWrite, fmt.Errorf("write index: %w", err))
	}
	a.logger.Info("index written", zap.String("location", loc))
	return loc, nil
}

func (a *App) pageRetry() crawler.RetryPolicy {
	return crawler.NewExponentialRetryPolicy(a.cfg.Retry.MaxAttempts, a.cfg.Retry.BaseDelay, a.cfg.Retry.MaxDelay)
}
