// Package discovery maps a knowledge base breadth-first into a category tree
// and a flat, duplicate-free list of article URLs.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/kbmirror/internal/clock/system"
	"github.com/JakeFAU/kbmirror/internal/crawler"
	"github.com/JakeFAU/kbmirror/internal/extract"
	"github.com/JakeFAU/kbmirror/internal/metrics"
)

// LinkExtractor classifies the anchors of a rendered page.
type LinkExtractor interface {
	Links(page crawler.Page) ([]extract.Link, error)
	PageTitle(page crawler.Page) (string, error)
}

// Config controls Mapper behavior.
type Config struct {
	// Delay is the minimum gap between the starts of two renders.
	Delay  time.Duration
	Retry  crawler.RetryPolicy
	Pauser crawler.Pauser
	Clock  crawler.Clock
}

// Mapper walks category pages breadth-first. A Mapper is not safe for concurrent Discover calls.
type Mapper struct {
	renderer  crawler.Renderer
	extractor LinkExtractor
	filter    *crawler.URLFilter
	retry     crawler.RetryPolicy
	pauser    crawler.Pauser
	clock     crawler.Clock
	delay     time.Duration
	logger    *zap.Logger

	lastRender time.Time
}

type task struct {
	node   *crawler.SiteNode
	url    string
	depth  int
	isRoot bool
}

// NewMapper wires a Mapper. A nil filter allows every URL.
func NewMapper(
	renderer crawler.Renderer,
	extractor LinkExtractor,
	filter *crawler.URLFilter,
	cfg Config,
	logger *zap.Logger,
) *Mapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Retry == nil {
		cfg.Retry = crawler.NewExponentialRetryPolicy(0, 0, 0)
	}
	if cfg.Pauser == nil {
		cfg.Pauser = crawler.TimerPauser{}
	}
	if cfg.Clock == nil {
		cfg.Clock = system.New()
	}
	if filter == nil {
		filter, _ = crawler.NewURLFilter(nil, nil)
	}
	return &Mapper{
		renderer:  renderer,
		extractor: extractor,
		filter:    filter,
		retry:     cfg.Retry,
		pauser:    cfg.Pauser,
		clock:     cfg.Clock,
		delay:     cfg.Delay,
		logger:    logger.Named("discovery"),
	}
}

// Discover crawls from rootURLs down to maxDepth category levels.
// Pages that keep failing are recorded in SiteTree.Skipped and their subtree is
// abandoned. If no root renders, the partial tree is returned with crawler.ErrRootsUnreachable.
func (m *Mapper) Discover(ctx context.Context, rootURLs []string, maxDepth int) (*crawler.SiteTree, error) {
	if len(rootURLs) == 0 {
		return nil, fmt.Errorf("discover: no root urls configured")
	}
	if maxDepth < 0 {
		maxDepth = 0
	}

	visited := crawler.NewVisitedSet()
	tree := &crawler.SiteTree{GeneratedAt: m.clock.Now().UTC()}
	queue := make([]task, 0, len(rootURLs))
	for _, raw := range rootURLs {
		u, err := crawler.NormalizeURL(raw)
		if err != nil {
			return nil, fmt.Errorf("root url %q: %w", raw, err)
		}
		if !visited.MarkIfNew(u) {
			continue
		}
		root := &crawler.SiteNode{URL: u, Kind: crawler.NodeKindRoot}
		tree.Roots = append(tree.Roots, root)
		queue = append(queue, task{node: root, url: u, isRoot: true})
	}

	m.logger.Info("discovery started", zap.Strings("roots", rootURLs), zap.Int("max_depth", maxDepth))
	rootsReached := 0
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return tree, err
		}
		t := queue[0]
		queue = queue[1:]

		page, outcome := m.render(ctx, t.url)
		if !outcome.OK() {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return tree, ctxErr
			}
			m.skip(tree, t, outcome)
			continue
		}
		tree.PagesVisited++
		if t.isRoot {
			rootsReached++
			if title, err := m.extractor.PageTitle(page); err == nil && title != extract.DefaultTitle {
				t.node.Name = title
			}
		}

		links, err := m.extractor.Links(page)
		if err != nil {
			m.logger.Warn("link extraction failed", zap.String("url", t.url), zap.Error(err))
			continue
		}
		queue = m.expand(tree, visited, t, links, maxDepth, queue)
		m.logger.Debug("page mapped",
			zap.String("url", t.url),
			zap.Int("depth", t.depth),
			zap.Int("queued", len(queue)),
			zap.Int("articles", len(tree.ArticleURLs)),
		)
	}

	if rootsReached == 0 {
		return tree, fmt.Errorf("discover: %w", crawler.ErrRootsUnreachable)
	}
	m.logger.Info("discovery complete",
		zap.Int("articles", len(tree.ArticleURLs)),
		zap.Int("pages_visited", tree.PagesVisited),
		zap.Int("skipped", len(tree.Skipped)),
	)
	return tree, nil
}

func (m *Mapper) expand(
	tree *crawler.SiteTree,
	visited *crawler.VisitedSet,
	t task,
	links []extract.Link,
	maxDepth int,
	queue []task,
) []task {
	for _, link := range links {
		if !m.filter.Allow(link.URL) {
			continue
		}
		switch link.Kind {
		case extract.LinkArticle:
			if !visited.MarkIfNew(link.URL) {
				continue
			}
			t.node.AddArticle(link.URL, link.Text)
			tree.ArticleURLs = append(tree.ArticleURLs, link.URL)
		case extract.LinkCategory, extract.LinkSubcategory:
			if t.depth+1 > maxDepth {
				continue
			}
			if !visited.MarkIfNew(link.URL) {
				continue
			}
			kind := crawler.NodeKindCategory
			if link.Kind == extract.LinkSubcategory {
				kind = crawler.NodeKindSubcategory
			}
			child := t.node.AddChild(nodeName(link), link.URL, kind)
			queue = append(queue, task{node: child, url: link.URL, depth: t.depth + 1})
		case extract.LinkPagination:
			if !visited.MarkIfNew(link.URL) {
				continue
			}
			queue = append(queue, task{node: t.node, url: link.URL, depth: t.depth})
		}
	}
	return queue
}

func (m *Mapper) render(ctx context.Context, url string) (crawler.Page, crawler.Outcome) {
	var page crawler.Page
	outcome := crawler.Retry(ctx, m.retry, m.pauser, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			metrics.ObserveRetry(string(crawler.StageDiscover))
		}
		m.throttle(ctx)
		p, err := m.renderer.Render(ctx, url)
		if err != nil {
			metrics.ObservePage(string(crawler.StageDiscover), "failure")
			m.logger.Debug("render attempt failed", zap.String("url", url), zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		metrics.ObservePage(string(crawler.StageDiscover), "success")
		page = p
		return nil
	})
	return page, outcome
}

// throttle waits until Delay has passed since the previous render started.
func (m *Mapper) throttle(ctx context.Context) {
	now := m.clock.Now()
	if !m.lastRender.IsZero() && m.delay > 0 {
		if wait := m.delay - now.Sub(m.lastRender); wait > 0 {
			m.pauser.Pause(ctx, wait)
			now = m.clock.Now()
		}
	}
	m.lastRender = now
}

func (m *Mapper) skip(tree *crawler.SiteTree, t task, outcome crawler.Outcome) {
	reason := "unknown error"
	if outcome.Err != nil {
		reason = outcome.Err.Error()
	}
	rec := crawler.FailureRecord{
		URL:      t.url,
		Reason:   reason,
		Kind:     crawler.KindOf(outcome.Err),
		Retries:  outcome.Attempts,
		Stage:    crawler.StageDiscover,
		FailedAt: m.clock.Now().UTC(),
	}
	tree.Skipped = append(tree.Skipped, rec)
	m.logger.Warn("skipping page after retries",
		zap.String("url", t.url),
		zap.Int("depth", t.depth),
		zap.Int("attempts", outcome.Attempts),
		zap.String("kind", string(rec.Kind)),
		zap.Error(outcome.Err),
	)
}

func nodeName(link extract.Link) string {
	if link.Text != "" {
		return link.Text
	}
	name := path.Base(strings.TrimRight(link.URL, "/"))
	if name == "." || name == "/" {
		return link.URL
	}
	return name
}

// IsRootsUnreachable reports whether err means no root page could be rendered.
func IsRootsUnreachable(err error) bool {
	return errors.Is(err, crawler.ErrRootsUnreachable)
}
