package article

import (
	"path"
	"strings"
	"sync"

	"github.com/gosimple/slug"

	"github.com/JakeFAU/kbmirror/internal/crawler"
	"github.com/JakeFAU/kbmirror/internal/hash/sha256"
)

const (
	// DefaultDir holds articles that have neither a category path nor breadcrumbs.
	DefaultDir = "articles"
	// DefaultMaxFilenameLength bounds a single slug.
	DefaultMaxFilenameLength = 200

	untitledSlug = "untitled"
	suffixLen    = 8
)

// Slug converts text to a lowercase, dash-separated path segment of at most
// maxLen bytes. Overlong slugs are cut back to the last separator.
func Slug(text string, maxLen int) string {
	s := slug.Make(text)
	if maxLen > 0 && len(s) > maxLen {
		s = s[:maxLen]
		if i := strings.LastIndex(s, "-"); i > 0 {
			s = s[:i]
		}
		s = strings.TrimRight(s, "-")
	}
	return s
}

// PathAllocator hands out output paths so that no two URLs share a file.
// A URL always receives the path it was first given.
type PathAllocator struct {
	mu       sync.Mutex
	maxLen   int
	byURL    map[string]string
	owners   map[string]string
	reserved map[string]string
}

// NewPathAllocator creates an allocator. maxLen <= 0 uses DefaultMaxFilenameLength.
func NewPathAllocator(maxLen int) *PathAllocator {
	if maxLen <= 0 {
		maxLen = DefaultMaxFilenameLength
	}
	return &PathAllocator{
		maxLen: maxLen,
		byURL:    make(map[string]string),
		owners:   make(map[string]string),
		reserved: make(map[string]string),
	}
}

// Reserve claims plain paths from the site map before any article is fetched.
// Each candidate path is built from a record's category path and link text and
// goes to the lexicographically smallest URL claiming it, so the outcome does
// not depend on which article finishes first.
func (a *PathAllocator) Reserve(records []crawler.ArticleRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, rec := range records {
		if rec.URL == "" {
			continue
		}
		p := a.plainPath(rec.CategoryPath, rec.LinkText)
		if owner, ok := a.reserved[p]; !ok || rec.URL < owner {
			a.reserved[p] = rec.URL
		}
	}
}

// Allocate returns the slash-separated output path for url under dirs.
// A path reserved for, or already owned by, another URL gets a short hash of
// url appended.
func (a *PathAllocator) Allocate(url string, dirs []string, title string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.byURL[url]; ok {
		return p
	}

	p := a.plainPath(dirs, title)
	owner, reserved := a.reserved[p]
	if !reserved {
		owner, reserved = a.owners[p]
	}
	if reserved && owner != url {
		p = strings.TrimSuffix(p, ".md") + "-" + sha256.Prefix([]byte(url), suffixLen) + ".md"
	}
	a.owners[p] = url
	a.byURL[url] = p
	return p
}

func (a *PathAllocator) plainPath(dirs []string, title string) string {
	parts := make([]string, 0, len(dirs)+1)
	for _, d := range dirs {
		if s := Slug(d, a.maxLen); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		parts = append(parts, DefaultDir)
	}
	name := Slug(title, a.maxLen)
	if name == "" {
		name = untitledSlug
	}
	return path.Join(append(parts, name+".md")...)
}

// relativeFrom returns target (relative to the output root) as seen from the
// directory holding the file at from.
func relativeFrom(from, target string) string {
	dir := path.Dir(from)
	if dir == "." || dir == "" {
		return target
	}
	depth := strings.Count(dir, "/") + 1
	return strings.Repeat("../", depth) + target
}
