// Package index renders the top-level index.md of a mirrored knowledge base.
package index

import (
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/kbmirror/internal/crawler"
)

// FileName is the index location relative to the output root.
const FileName = "index.md"

const (
	uncategorized = "Uncategorized"
	maxHeading    = 6
)

// Generate renders the index. Categories follow tree order; only written
// articles (results with an OutputPath) are listed. Articles with no category
// in the tree are grouped under "Uncategorized".
func Generate(title string, tree *crawler.SiteTree, results []crawler.ArticleRecord, now time.Time) []byte {
	written := make(map[string]crawler.ArticleRecord, len(results))
	for _, rec := range results {
		if rec.OutputPath != "" {
			written[rec.URL] = rec
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "Generated on: %s\n\n", now.UTC().Format(time.DateTime))
	fmt.Fprintf(&b, "Total articles: %d\n", len(written))

	listed := make(map[string]struct{}, len(written))
	var loose []crawler.ArticleRecord

	var sections strings.Builder
	if tree != nil {
		for _, root := range tree.Roots {
			loose = append(loose, collect(root.Articles, written, listed)...)
			for _, child := range root.Children {
				writeNode(&sections, child, 3, written, listed)
			}
		}
	}
	if sections.Len() > 0 {
		b.WriteString("\n## Categories\n")
		b.WriteString(sections.String())
	}

	for _, rec := range results {
		if _, ok := written[rec.URL]; !ok {
			continue
		}
		if _, done := listed[rec.URL]; done {
			continue
		}
		listed[rec.URL] = struct{}{}
		loose = append(loose, rec)
	}
	if len(loose) > 0 {
		fmt.Fprintf(&b, "\n## %s\n\n", uncategorized)
		writeEntries(&b, loose)
	}
	return []byte(b.String())
}

// writeNode renders node and its descendants when at least one of them has a written article.
func writeNode(b *strings.Builder, node *crawler.SiteNode, level int, written map[string]crawler.ArticleRecord, listed map[string]struct{}) {
	if !hasWritten(node, written, listed) {
		return
	}
	if level > maxHeading {
		level = maxHeading
	}
	fmt.Fprintf(b, "\n%s %s\n", strings.Repeat("#", level), node.Name)
	if entries := collect(node.Articles, written, listed); len(entries) > 0 {
		b.WriteString("\n")
		writeEntries(b, entries)
	}
	for _, child := range node.Children {
		writeNode(b, child, level+1, written, listed)
	}
}

func hasWritten(node *crawler.SiteNode, written map[string]crawler.ArticleRecord, listed map[string]struct{}) bool {
	for _, rec := range node.Articles {
		if _, ok := written[rec.URL]; ok {
			if _, done := listed[rec.URL]; !done {
				return true
			}
		}
	}
	for _, child := range node.Children {
		if hasWritten(child, written, listed) {
			return true
		}
	}
	return false
}

func collect(records []*crawler.ArticleRecord, written map[string]crawler.ArticleRecord, listed map[string]struct{}) []crawler.ArticleRecord {
	var out []crawler.ArticleRecord
	for _, rec := range records {
		got, ok := written[rec.URL]
		if !ok {
			continue
		}
		if _, done := listed[rec.URL]; done {
			continue
		}
		listed[rec.URL] = struct{}{}
		out = append(out, got)
	}
	return out
}

func writeEntries(b *strings.Builder, records []crawler.ArticleRecord) {
	for _, rec := range records {
		title := rec.Title
		if title == "" {
			title = rec.URL
		}
		fmt.Fprintf(b, "- [%s](%s)\n", escapeLinkText(title), rec.OutputPath)
	}
}

var linkTextEscaper = strings.NewReplacer(`\`, `\\`, "[", `\[`, "]", `\]`)

func escapeLinkText(s string) string {
	return linkTextEscaper.Replace(s)
}
