package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/kbmirror/internal/crawler"
)

var testSelectors = Selectors{
	Category:    "a.cat",
	Subcategory: "a.sub",
	Article:     "a.art",
	Pagination:  "a.next",
	Title:       []string{"h1.article-title", "h1"},
	Content:     []string{".article-content", "main"},
	Breadcrumb:  []string{".breadcrumb"},
	Strip:       []string{"nav", "aside", ".sidebar", "script"},
}

func page(u, html string) crawler.Page {
	return crawler.Page{URL: u, HTML: []byte(html)}
}

func TestLinksClassifiedInDOMOrder(t *testing.T) {
	html := `<html><body>
		<a class="cat" href="/kb/start">Getting  Started</a>
		<a class="art" href="articles/one#intro">One</a>
		<a class="sub art" href="/kb/both">Both</a>
		<a class="next" href="?page=2">Next</a>
		<a href="/kb/plain">Plain</a>
		<a class="art" href="mailto:x@example.org">Mail</a>
		<a class="sub" href="https://example.org/kb/start/wiring/">Wiring</a>
	</body></html>`
	links, err := New(testSelectors).Links(page("https://example.org/kb/", html))
	require.NoError(t, err)
	require.Len(t, links, 5)

	assert.Equal(t, Link{Kind: LinkCategory, URL: "https://example.org/kb/start", Text: "Getting Started"}, links[0])
	assert.Equal(t, Link{Kind: LinkArticle, URL: "https://example.org/kb/articles/one", Text: "One"}, links[1])
	assert.Equal(t, LinkArticle, links[2].Kind, "article wins over subcategory")
	assert.Equal(t, Link{Kind: LinkPagination, URL: "https://example.org/kb?page=2", Text: "Next"}, links[3])
	assert.Equal(t, Link{Kind: LinkSubcategory, URL: "https://example.org/kb/start/wiring", Text: "Wiring"}, links[4])
}

func TestPageTitleFallsBackToTitleElement(t *testing.T) {
	title, err := New(testSelectors).PageTitle(page("https://example.org", `<title>Knowledge Base | Example Support</title>`))
	require.NoError(t, err)
	assert.Equal(t, "Knowledge Base", title)

	title, err = New(testSelectors).PageTitle(page("https://example.org", `<p>nothing</p>`))
	require.NoError(t, err)
	assert.Equal(t, DefaultTitle, title)
}

func TestArticleExtractsContent(t *testing.T) {
	body := strings.Repeat("Torque the bolts to the listed values before starting the engine. ", 5)
	html := `<html><head><title>Ignore | Site</title></head><body>
		<nav class="breadcrumb"><ol><li><a href="/">Home</a></li><li>&gt;</li><li>Wiring</li><li>Harness</li></ol></nav>
		<h1 class="article-title">Installing the harness</h1>
		<div class="article-content">
			<aside>Related stuff</aside>
			<p>` + body + `</p>
			<div>   </div>
			<p><img src="/img/diagram.png" alt="Diagram"></p>
			<a href="../other">Other</a>
		</div>
	</body></html>`
	art, err := New(testSelectors).Article(page("https://example.org/kb/articles/harness", html))
	require.NoError(t, err)

	assert.Equal(t, "Installing the harness", art.Title)
	assert.Equal(t, []string{"Home", "Wiring", "Harness"}, art.Breadcrumbs)
	assert.False(t, art.UsedFallback)
	assert.Contains(t, art.ContentHTML, "Torque the bolts")
	assert.NotContains(t, art.ContentHTML, "Related stuff")
	assert.NotContains(t, art.ContentHTML, "<div>")
	assert.Contains(t, art.ContentHTML, `src="https://example.org/img/diagram.png"`)
	assert.Contains(t, art.ContentHTML, `href="https://example.org/kb/other"`)
}

func TestArticleSkipsShortMatches(t *testing.T) {
	body := strings.Repeat("Long enough main body text for the article. ", 4)
	html := `<div class="article-content">too short</div><main><p>` + body + `</p></main>`
	art, err := New(testSelectors).Article(page("https://example.org/a", html))
	require.NoError(t, err)
	assert.Contains(t, art.ContentHTML, "Long enough main body")
}

func TestArticleContentNotFound(t *testing.T) {
	_, err := New(testSelectors).Article(page("https://example.org/a", `<div class="article-content">short</div>`))
	require.Error(t, err)
	assert.ErrorIs(t, err, crawler.ErrContentNotFound)
	assert.Equal(t, crawler.KindContentNotFound, crawler.KindOf(err))
}

func TestArticleReadabilityFallback(t *testing.T) {
	para := strings.Repeat("The ECU stores calibration tables in flash memory and reloads them on boot. ", 6)
	html := `<html><head><title>Calibration storage</title></head><body>
		<div id="wrapper"><div class="post"><h2>Calibration storage</h2>
		<p>` + para + `</p><p>` + para + `</p></div></div></body></html>`

	_, err := New(testSelectors).Article(page("https://example.org/a", html))
	require.ErrorIs(t, err, crawler.ErrContentNotFound)

	art, err := New(testSelectors, WithReadabilityFallback(true)).Article(page("https://example.org/a", html))
	require.NoError(t, err)
	assert.True(t, art.UsedFallback)
	assert.Contains(t, art.ContentHTML, "calibration tables")
}

func TestBreadcrumbsWithoutListItems(t *testing.T) {
	sel := testSelectors
	sel.Breadcrumb = []string{".crumbs"}
	html := `<div class="crumbs"><a href="/">Home</a><span>›</span><a href="/c">Tuning</a></div>`
	art, _ := New(sel).Article(page("https://example.org/a", html))
	assert.Equal(t, []string{"Home", "Tuning"}, art.Breadcrumbs)
}
