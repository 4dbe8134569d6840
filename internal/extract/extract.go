// Package extract pulls classified links, titles, breadcrumbs and the main
// article body out of rendered pages using configured CSS selectors.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"go.uber.org/zap"

	"github.com/JakeFAU/kbmirror/internal/crawler"
)

// DefaultTitle is used when a page has no usable title.
const DefaultTitle = "Untitled Article"

// Selectors configures which elements carry links and content.
type Selectors struct {
	Category    string
	Subcategory string
	Article     string
	Pagination  string
	Title       []string
	Content     []string
	Breadcrumb  []string
	Strip       []string
}

// LinkKind is the classification of an anchor.
type LinkKind int

// Link kinds, in classification priority order.
const (
	LinkArticle LinkKind = iota + 1
	LinkSubcategory
	LinkCategory
	LinkPagination
)

func (k LinkKind) String() string {
	switch k {
	case LinkArticle:
		return "article"
	case LinkSubcategory:
		return "subcategory"
	case LinkCategory:
		return "category"
	case LinkPagination:
		return "pagination"
	default:
		return "unknown"
	}
}

// Link is a classified anchor resolved against the page URL.
type Link struct {
	Kind LinkKind
	URL  string
	Text string
}

// Article is the extracted main content of a page.
type Article struct {
	Title        string
	Breadcrumbs  []string
	ContentHTML  string
	UsedFallback bool
}

// Option customizes an Extractor.
type Option func(*Extractor)

// WithMinChars sets the minimum text length for a content match.
func WithMinChars(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.minChars = n
		}
	}
}

// WithReadabilityFallback enables go-readability when no selector matches.
func WithReadabilityFallback(enabled bool) Option {
	return func(e *Extractor) {
		e.readability = enabled
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Extractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Extractor applies Selectors to rendered pages. It is safe for concurrent use.
type Extractor struct {
	sel         Selectors
	minChars    int
	readability bool
	logger      *zap.Logger
}

// New builds an Extractor.
func New(sel Selectors, opts ...Option) *Extractor {
	e := &Extractor{
		sel:      sel,
		minChars: 100,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Links returns every classified anchor on the page in DOM order.
// Anchors that match no selector or do not resolve to an http(s) URL are dropped.
func (e *Extractor) Links(page crawler.Page) ([]Link, error) {
	doc, err := parse(page.HTML)
	if err != nil {
		return nil, err
	}
	base := page.BaseURL()
	var links []Link
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		kind := e.classify(s)
		if kind == 0 {
			return
		}
		href, _ := s.Attr("href")
		abs, err := crawler.Resolve(base, href)
		if err != nil {
			return
		}
		links = append(links, Link{Kind: kind, URL: abs, Text: cleanText(s.Text())})
	})
	return links, nil
}

func (e *Extractor) classify(s *goquery.Selection) LinkKind {
	switch {
	case e.sel.Article != "" && s.Is(e.sel.Article):
		return LinkArticle
	case e.sel.Subcategory != "" && s.Is(e.sel.Subcategory):
		return LinkSubcategory
	case e.sel.Category != "" && s.Is(e.sel.Category):
		return LinkCategory
	case e.sel.Pagination != "" && s.Is(e.sel.Pagination):
		return LinkPagination
	default:
		return 0
	}
}

// PageTitle returns the page title from the title selectors or the <title> element.
func (e *Extractor) PageTitle(page crawler.Page) (string, error) {
	doc, err := parse(page.HTML)
	if err != nil {
		return "", err
	}
	return e.title(doc), nil
}

// Article extracts the title, breadcrumbs and main content of an article page.
// It returns crawler.ErrContentNotFound when nothing long enough matches.
func (e *Extractor) Article(page crawler.Page) (Article, error) {
	doc, err := parse(page.HTML)
	if err != nil {
		return Article{}, err
	}
	out := Article{
		Title:       e.title(doc),
		Breadcrumbs: e.breadcrumbs(doc),
	}
	base, err := url.Parse(page.BaseURL())
	if err != nil {
		return Article{}, fmt.Errorf("parse page url: %w", err)
	}

	if len(e.sel.Strip) > 0 {
		doc.Find(strings.Join(e.sel.Strip, ", ")).Remove()
	}
	for _, selector := range e.sel.Content {
		content := doc.Find(selector).First()
		if content.Length() == 0 {
			continue
		}
		removeEmptyBlocks(content)
		if utf8.RuneCountInString(cleanText(content.Text())) < e.minChars {
			continue
		}
		absolutize(content, base)
		html, err := content.Html()
		if err != nil {
			return Article{}, fmt.Errorf("render content: %w", err)
		}
		e.logger.Debug("content matched", zap.String("url", page.URL), zap.String("selector", selector))
		out.ContentHTML = strings.TrimSpace(html)
		return out, nil
	}

	if e.readability {
		if html, title, ok := e.fallback(page.HTML, base); ok {
			out.ContentHTML = html
			out.UsedFallback = true
			if out.Title == DefaultTitle && title != "" {
				out.Title = title
			}
			e.logger.Debug("content from readability fallback", zap.String("url", page.URL))
			return out, nil
		}
	}
	return out, crawler.Wrap(crawler.ErrContentNotFound, fmt.Errorf("no content selector matched %s", page.URL))
}

func (e *Extractor) fallback(raw []byte, base *url.URL) (html, title string, ok bool) {
	article, err := readability.FromReader(bytes.NewReader(raw), base)
	if err != nil {
		return "", "", false
	}
	if utf8.RuneCountInString(cleanText(article.TextContent)) < e.minChars {
		return "", "", false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(article.Content))
	if err != nil {
		return "", "", false
	}
	absolutize(doc.Selection, base)
	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	html, err = body.Html()
	if err != nil {
		return "", "", false
	}
	return strings.TrimSpace(html), strings.TrimSpace(article.Title), true
}

func (e *Extractor) title(doc *goquery.Document) string {
	for _, selector := range e.sel.Title {
		if t := cleanText(doc.Find(selector).First().Text()); t != "" {
			return t
		}
	}
	if t := cleanText(doc.Find("title").First().Text()); t != "" {
		if i := strings.Index(t, " | "); i > 0 {
			t = strings.TrimSpace(t[:i])
		}
		return t
	}
	return DefaultTitle
}

var breadcrumbSeparators = map[string]struct{}{">": {}, "/": {}, "»": {}, "›": {}}

func (e *Extractor) breadcrumbs(doc *goquery.Document) []string {
	for _, selector := range e.sel.Breadcrumb {
		trail := doc.Find(selector).First()
		if trail.Length() == 0 {
			continue
		}
		items := collectCrumbs(trail.Find("li"))
		if len(items) == 0 {
			items = collectCrumbs(trail.Find("a, span"))
		}
		if len(items) > 0 {
			return items
		}
	}
	return nil
}

func collectCrumbs(s *goquery.Selection) []string {
	var items []string
	s.Each(func(_ int, item *goquery.Selection) {
		text := cleanText(item.Text())
		if text == "" {
			return
		}
		if _, sep := breadcrumbSeparators[text]; sep {
			return
		}
		items = append(items, text)
	})
	return items
}

// removeEmptyBlocks drops p and div elements that carry neither text nor media.
func removeEmptyBlocks(s *goquery.Selection) {
	s.Find("p, div").Each(func(_ int, block *goquery.Selection) {
		if strings.TrimSpace(block.Text()) != "" {
			return
		}
		if block.Find("img, table, iframe, video, pre").Length() > 0 {
			return
		}
		block.Remove()
	})
}

// absolutize rewrites relative link and image targets against base.
func absolutize(s *goquery.Selection, base *url.URL) {
	rewrite := func(sel, attr string) {
		s.Find(sel).Each(func(_ int, el *goquery.Selection) {
			v, ok := el.Attr(attr)
			v = strings.TrimSpace(v)
			if !ok || v == "" || strings.HasPrefix(v, "#") || strings.HasPrefix(v, "data:") {
				return
			}
			ref, err := url.Parse(v)
			if err != nil {
				return
			}
			el.SetAttr(attr, base.ResolveReference(ref).String())
		})
	}
	rewrite("a[href]", "href")
	rewrite("img[src]", "src")
}

func parse(raw []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
