// Package article renders discovered articles and writes them as markdown.
package article

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/kbmirror/internal/clock/system"
	"github.com/JakeFAU/kbmirror/internal/crawler"
	"github.com/JakeFAU/kbmirror/internal/extract"
	"github.com/JakeFAU/kbmirror/internal/metrics"
)

// ContentType is used for every written article.
const ContentType = "text/markdown; charset=utf-8"

// ContentExtractor pulls the main content out of a rendered article page.
type ContentExtractor interface {
	Article(page crawler.Page) (extract.Article, error)
}

// MarkdownConverter converts an HTML fragment to markdown.
type MarkdownConverter interface {
	Convert(html string) (string, error)
}

// Config controls Processor behavior.
type Config struct {
	RunID  string
	Retry  crawler.RetryPolicy
	Pauser crawler.Pauser
	Clock  crawler.Clock
}

// Processor turns an ArticleRecord into a markdown file in the output sink.
type Processor struct {
	renderer  crawler.Renderer
	extractor ContentExtractor
	converter MarkdownConverter
	sink      crawler.OutputSink
	paths     *PathAllocator
	images    *ImageStore
	publisher crawler.Publisher
	cfg       Config
	logger    *zap.Logger
}

// Option customizes a Processor.
type Option func(*Processor)

// WithImages enables image localization through store.
func WithImages(store *ImageStore) Option {
	return func(p *Processor) {
		p.images = store
	}
}

// WithPublisher announces every written article.
func WithPublisher(pub crawler.Publisher) Option {
	return func(p *Processor) {
		p.publisher = pub
	}
}

// NewProcessor wires a Processor. paths may be shared with other processors of the same run.
func NewProcessor(
	renderer crawler.Renderer,
	extractor ContentExtractor,
	converter MarkdownConverter,
	sink crawler.OutputSink,
	paths *PathAllocator,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) *Processor {
	if cfg.Retry == nil {
		cfg.Retry = crawler.NewExponentialRetryPolicy(0, 0, 0)
	}
	if cfg.Clock == nil {
		cfg.Clock = system.New()
	}
	if paths == nil {
		paths = NewPathAllocator(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Processor{
		renderer:  renderer,
		extractor: extractor,
		converter: converter,
		sink:      sink,
		paths:     paths,
		cfg:       cfg,
		logger:    logger.Named("article"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Result describes a processed article.
type Result struct {
	// Record carries the Title and OutputPath filled in by processing.
	Record       crawler.ArticleRecord
	Location     string
	Attempts     int
	ImagesFailed []string
	UsedFallback bool
}

type converted struct {
	title       string
	breadcrumbs []string
	markdown    string
	fallback    bool
}

// FetchAndConvert renders, extracts and converts the article, then writes it.
// Render, extraction and conversion are retried together. On failure Result.Attempts
// still reports how many attempts were made. Errors tagged crawler.ErrWrite are fatal.
func (p *Processor) FetchAndConvert(ctx context.Context, record crawler.ArticleRecord) (Result, error) {
	res := Result{Record: record}

	var doc converted
	outcome := crawler.Retry(ctx, p.cfg.Retry, p.cfg.Pauser, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			metrics.ObserveRetry(string(crawler.StageFetch))
			p.logger.Debug("retrying article", zap.String("url", record.URL), zap.Int("attempt", attempt))
		}
		var err error
		doc, err = p.convert(ctx, record.URL)
		if err != nil {
			metrics.ObservePage(string(crawler.StageFetch), string(crawler.KindOf(err)))
			return err
		}
		metrics.ObservePage(string(crawler.StageFetch), "ok")
		return nil
	})
	res.Attempts = outcome.Attempts
	if !outcome.OK() {
		metrics.ObserveArticle("failed")
		return res, outcome.Err
	}
	res.UsedFallback = doc.fallback

	category, subcategory, dirs := categories(record.CategoryPath, doc.breadcrumbs, doc.title)
	relPath := p.paths.Allocate(record.URL, dirs, doc.title)
	res.Record.Title = doc.title
	res.Record.OutputPath = relPath

	body := doc.markdown
	if p.images != nil {
		var err error
		body, res.ImagesFailed, err = p.images.Localize(ctx, relPath, body)
		if err != nil {
			return res, err
		}
	}

	scrapedAt := p.cfg.Clock.Now()
	fm := FrontMatter{
		Title:       doc.title,
		URL:         record.URL,
		DateScraped: system.Date(scrapedAt),
		Category:    category,
		Subcategory: subcategory,
	}
	data, err := fm.Render(body)
	if err != nil {
		return res, err
	}
	loc, err := p.sink.Write(ctx, relPath, ContentType, data)
	if err != nil {
		return res, crawler.Wrap(crawler.ErrWrite, fmt.Errorf("write article %s: %w", relPath, err))
	}
	res.Location = loc
	metrics.ObserveArticle("succeeded")
	p.logger.Info("article written",
		zap.String("url", record.URL),
		zap.String("path", relPath),
		zap.Int("attempts", res.Attempts),
		zap.Int("images_failed", len(res.ImagesFailed)),
	)

	p.publish(ctx, crawler.ArticleEvent{
		RunID:       p.cfg.RunID,
		URL:         record.URL,
		Title:       doc.title,
		Location:    loc,
		Category:    category,
		Subcategory: subcategory,
		ScrapedAt:   scrapedAt,
	})
	return res, nil
}

func (p *Processor) convert(ctx context.Context, url string) (converted, error) {
	start := time.Now()
	page, err := p.renderer.Render(ctx, url)
	if err != nil {
		return converted{}, err //nolint:wrapcheck
	}
	art, err := p.extractor.Article(page)
	if err != nil {
		return converted{}, err //nolint:wrapcheck
	}
	markdown, err := p.converter.Convert(art.ContentHTML)
	if err != nil {
		return converted{}, crawler.Wrap(crawler.ErrContentNotFound, err)
	}
	if strings.TrimSpace(markdown) == "" {
		return converted{}, crawler.Wrap(crawler.ErrContentNotFound, fmt.Errorf("empty markdown for %s", url))
	}
	p.logger.Debug("article converted",
		zap.String("url", url),
		zap.Bool("headless", page.UsedHeadless),
		zap.Duration("elapsed", time.Since(start)),
	)
	return converted{
		title:       art.Title,
		breadcrumbs: art.Breadcrumbs,
		markdown:    markdown,
		fallback:    art.UsedFallback,
	}, nil
}

func (p *Processor) publish(ctx context.Context, event crawler.ArticleEvent) {
	if p.publisher == nil {
		return
	}
	id, err := p.publisher.Publish(ctx, event)
	if err != nil {
		p.logger.Warn("publish article event failed", zap.String("url", event.URL), zap.Error(err))
		return
	}
	p.logger.Debug("article event published", zap.String("url", event.URL), zap.String("message_id", id))
}

// categories derives the front matter category fields and the output directories.
// The discovered category path wins; otherwise breadcrumbs after the first
// (home) crumb are used, ignoring a trailing crumb that repeats the title.
func categories(path, breadcrumbs []string, title string) (category, subcategory string, dirs []string) {
	dirs = path
	if len(dirs) == 0 && len(breadcrumbs) > 1 {
		crumbs := breadcrumbs[1:]
		if n := len(crumbs); n > 0 && strings.EqualFold(crumbs[n-1], title) {
			crumbs = crumbs[:n-1]
		}
		if len(crumbs) > 2 {
			crumbs = crumbs[:2]
		}
		dirs = crumbs
	}
	if len(dirs) > 0 {
		category = dirs[0]
	}
	if len(dirs) > 1 {
		subcategory = dirs[1]
	}
	return category, subcategory, append([]string(nil), dirs...)
}
