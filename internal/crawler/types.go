package crawler

import (
	"time"
)

// NodeKind labels how a SiteNode was discovered.
type NodeKind string

// Node kinds recorded in the site map.
const (
	NodeKindRoot        NodeKind = "root"
	NodeKindCategory    NodeKind = "category"
	NodeKindSubcategory NodeKind = "subcategory"
)

// Stage identifies which phase produced a failure.
type Stage string

// Failure stages.
const (
	StageDiscover Stage = "discover"
	StageFetch    Stage = "fetch"
)

// SiteNode is a category or subcategory in the discovered tree.
type SiteNode struct {
	Name     string           `json:"name"`
	URL      string           `json:"url"`
	Kind     NodeKind         `json:"kind"`
	Parent   *SiteNode        `json:"-"`
	Children []*SiteNode      `json:"children,omitempty"`
	Articles []*ArticleRecord `json:"articles,omitempty"`
}

// AddChild appends a child node and links it back to n.
func (n *SiteNode) AddChild(name, url string, kind NodeKind) *SiteNode {
	child := &SiteNode{Name: name, URL: url, Kind: kind, Parent: n}
	n.Children = append(n.Children, child)
	return child
}

// AddArticle appends an article leaf whose category path is n's path.
func (n *SiteNode) AddArticle(url, linkText string) *ArticleRecord {
	rec := &ArticleRecord{URL: url, LinkText: linkText, CategoryPath: n.Path()}
	n.Articles = append(n.Articles, rec)
	return rec
}

// Path returns the category names from below the root down to n.
// Root and unnamed nodes are skipped.
func (n *SiteNode) Path() []string {
	var rev []string
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Name != "" && cur.Kind != NodeKindRoot {
			rev = append(rev, cur.Name)
		}
	}
	out := make([]string, 0, len(rev))
	for i := len(rev) - 1; i >= 0; i-- {
		out = append(out, rev[i])
	}
	return out
}

// relink restores Parent pointers after the tree was decoded.
func (n *SiteNode) relink(parent *SiteNode) {
	n.Parent = parent
	for _, child := range n.Children {
		child.relink(n)
	}
}

// ArticleRecord is one discovered article. Title and OutputPath are filled at fetch time.
type ArticleRecord struct {
	URL          string   `json:"url"`
	LinkText     string   `json:"link_text,omitempty"`
	Title        string   `json:"title,omitempty"`
	CategoryPath []string `json:"category_path,omitempty"`
	OutputPath   string   `json:"output_path,omitempty"`
}

// SiteTree is the result of discovery and the payload of the persisted site map.
type SiteTree struct {
	RunID        string          `json:"run_id"`
	GeneratedAt  time.Time       `json:"generated_at"`
	Roots        []*SiteNode     `json:"roots"`
	ArticleURLs  []string        `json:"articles"`
	PagesVisited int             `json:"total_pages_visited"`
	Skipped      []FailureRecord `json:"skipped,omitempty"`
}

// Relink restores parent back-references across the whole tree.
func (t *SiteTree) Relink() {
	for _, root := range t.Roots {
		root.relink(nil)
	}
}

// Articles returns copies of every article record in discovery order.
func (t *SiteTree) Articles() []ArticleRecord {
	byURL := make(map[string]*ArticleRecord, len(t.ArticleURLs))
	var walk func(n *SiteNode)
	walk = func(n *SiteNode) {
		for _, rec := range n.Articles {
			byURL[rec.URL] = rec
		}
		for _, child := range n.Children {
			walk(child)
		}
	}
	for _, root := range t.Roots {
		walk(root)
	}
	out := make([]ArticleRecord, 0, len(t.ArticleURLs))
	for _, u := range t.ArticleURLs {
		if rec, ok := byURL[u]; ok {
			cp := *rec
			cp.CategoryPath = append([]string(nil), rec.CategoryPath...)
			out = append(out, cp)
			continue
		}
		out = append(out, ArticleRecord{URL: u})
	}
	return out
}

// FailureRecord describes a URL given up on after retries.
type FailureRecord struct {
	RunID    string    `json:"run_id,omitempty"`
	URL      string    `json:"url"`
	Reason   string    `json:"reason"`
	Kind     ErrorKind `json:"kind"`
	Retries  int       `json:"retries"`
	Stage    Stage     `json:"stage"`
	FailedAt time.Time `json:"failed_at"`
}

// Page is a rendered document snapshot.
type Page struct {
	URL          string
	FinalURL     string
	StatusCode   int
	HTML         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// BaseURL returns the URL relative links on the page resolve against.
func (p Page) BaseURL() string {
	if p.FinalURL != "" {
		return p.FinalURL
	}
	return p.URL
}

// ArticleEvent is published after an article file is written.
type ArticleEvent struct {
	RunID       string    `json:"run_id"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Location    string    `json:"location"`
	Category    string    `json:"category,omitempty"`
	Subcategory string    `json:"subcategory,omitempty"`
	ScrapedAt   time.Time `json:"scraped_at"`
}
