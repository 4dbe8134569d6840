package article

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/JakeFAU/kbmirror/internal/crawler"
)

func TestSlug(t *testing.T) {
	assert.Equal(t, "harness-install-guide", Slug("Harness Install: Guide!", 200))
	assert.Equal(t, "elite-2500-t", Slug("Elite 2500 T", 200))
	assert.Equal(t, "", Slug("  ", 200))

	long := strings.Repeat("word ", 60)
	got := Slug(long, 200)
	assert.LessOrEqual(t, len(got), 200)
	assert.False(t, strings.HasSuffix(got, "-"))
	assert.True(t, strings.HasSuffix(got, "word"), "cut at a separator, got %q", got)

	assert.Equal(t, "abcdefghij", Slug("abcdefghijklmnop", 10), "no separator keeps the hard cut")
}

func TestPathAllocator(t *testing.T) {
	a := NewPathAllocator(0)

	p1 := a.Allocate("https://kb.example.org/a", []string{"Wiring", "Tuning"}, "Harness Install")
	assert.Equal(t, "wiring/tuning/harness-install.md", p1)

	assert.Equal(t, p1, a.Allocate("https://kb.example.org/a", []string{"Other"}, "Different"),
		"a URL keeps its first path")

	p2 := a.Allocate("https://kb.example.org/b", []string{"Wiring", "Tuning"}, "Harness Install")
	assert.NotEqual(t, p1, p2)
	assert.Regexp(t, `^wiring/tuning/harness-install-[0-9a-f]{8}\.md$`, p2)

	p3 := a.Allocate("https://kb.example.org/c", nil, "Loose Article")
	assert.Equal(t, "articles/loose-article.md", p3)

	p4 := a.Allocate("https://kb.example.org/d", []string{"", "!!"}, "")
	assert.Equal(t, "articles/untitled.md", p4)
}

func TestPathAllocatorReservedPathsIgnoreFinishOrder(t *testing.T) {
	records := []crawler.ArticleRecord{
		{URL: "https://kb/x/2", LinkText: "Pinout", CategoryPath: []string{"Wiring"}},
		{URL: "https://kb/x/1", LinkText: "Pinout", CategoryPath: []string{"Wiring"}},
		{URL: "https://kb/x/3", LinkText: "Relay Board", CategoryPath: []string{"Wiring"}},
	}
	allocate := func(order ...string) map[string]string {
		a := NewPathAllocator(0)
		a.Reserve(records)
		got := make(map[string]string, len(order))
		for _, url := range order {
			got[url] = a.Allocate(url, []string{"Wiring"}, "Pinout")
		}
		return got
	}

	forward := allocate("https://kb/x/1", "https://kb/x/2")
	reverse := allocate("https://kb/x/2", "https://kb/x/1")
	assert.Equal(t, forward, reverse)
	assert.Equal(t, "wiring/pinout.md", forward["https://kb/x/1"], "the smallest URL keeps the plain name")
	assert.Regexp(t, `^wiring/pinout-[0-9a-f]{8}\.md$`, forward["https://kb/x/2"])

	alone := allocate("https://kb/x/2")
	assert.Equal(t, forward["https://kb/x/2"], alone["https://kb/x/2"], "a sibling that never finishes does not change the path")

	a := NewPathAllocator(0)
	a.Reserve(records)
	assert.Equal(t, "wiring/relay-board.md", a.Allocate("https://kb/x/3", []string{"Wiring"}, "Relay Board"))
	assert.Equal(t, "wiring/unlisted.md", a.Allocate("https://kb/x/9", []string{"Wiring"}, "Unlisted"),
		"paths outside the site map are first come")
}

func TestRelativeFrom(t *testing.T) {
	assert.Equal(t, "images/x.png", relativeFrom("index.md", "images/x.png"))
	assert.Equal(t, "../images/x.png", relativeFrom("wiring/a.md", "images/x.png"))
	assert.Equal(t, "../../images/x.png", relativeFrom("wiring/tuning/a.md", "images/x.png"))
}
