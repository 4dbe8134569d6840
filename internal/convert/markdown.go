// Package convert turns extracted article HTML into GitHub-flavored markdown.
package convert

import (
	"fmt"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
)

// imageRe matches markdown image references: ![alt](src "title"). A bare src may
// hold one level of balanced parentheses; <src> may hold anything but angle brackets.
var imageRe = regexp.MustCompile(`!\[([^\]]*)\]\(\s*(?:<([^<>\n]+)>|((?:[^()\s]|\([^()\s]*\))+))(\s+"[^"]*")?\s*\)`)

// ImageRef is a markdown image reference found in converted output.
type ImageRef struct {
	Alt string
	Src string
}

// Converter converts HTML fragments to markdown. It is safe for concurrent use.
type Converter struct {
	converter *md.Converter
}

// NewConverter creates a converter with ATX headings, dash bullets, fenced code
// blocks and GitHub-flavored tables, strikethrough and task lists.
func NewConverter() *Converter {
	converter := md.NewConverter("", true, &md.Options{
		HeadingStyle:     "atx",
		BulletListMarker: "-",
		CodeBlockStyle:   "fenced",
		Fence:            "```",
	})
	converter.Use(plugin.GitHubFlavored())
	return &Converter{converter: converter}
}

// Convert transforms an HTML fragment into cleaned markdown.
func (c *Converter) Convert(html string) (string, error) {
	markdown, err := c.converter.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("convert html: %w", err)
	}
	return Clean(markdown), nil
}

// Clean collapses runs of blank lines, drops empty code fences and trims
// trailing whitespace. Lines inside fenced code blocks are left untouched.
func Clean(content string) string {
	lines := strings.Split(content, "\n")
	out := make([]string, 0, len(lines))
	fence := ""
	blanks := 0
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if fence != "" {
			if fenceMarker(line) == fence {
				fence = ""
				line = strings.TrimRight(line, " \t")
			}
			out = append(out, line)
			continue
		}
		line = strings.TrimRight(line, " \t")
		if marker := fenceMarker(line); marker != "" {
			if i+1 < len(lines) && fenceMarker(lines[i+1]) == marker {
				i++
				continue
			}
			fence = marker
		}
		if line == "" {
			blanks++
			if blanks > 1 {
				continue
			}
		} else {
			blanks = 0
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func fenceMarker(line string) string {
	trimmed := strings.TrimLeft(line, " ")
	for _, marker := range []string{"```", "~~~"} {
		if strings.HasPrefix(trimmed, marker) {
			return marker
		}
	}
	return ""
}

// Images lists image references in document order. Duplicates are kept.
func Images(markdown string) []ImageRef {
	matches := imageRe.FindAllStringSubmatch(markdown, -1)
	refs := make([]ImageRef, 0, len(matches))
	for _, m := range matches {
		refs = append(refs, ImageRef{Alt: m[1], Src: imageSrc(m)})
	}
	return refs
}

// RewriteImages replaces image sources using replace. A source mapped to ""
// or absent from the result keeps its original target.
func RewriteImages(markdown string, replace func(src string) string) string {
	return imageRe.ReplaceAllStringFunc(markdown, func(ref string) string {
		m := imageRe.FindStringSubmatch(ref)
		src := imageSrc(m)
		next := replace(src)
		if next == "" || next == src {
			return ref
		}
		return "![" + m[1] + "](" + next + m[4] + ")"
	})
}

func imageSrc(m []string) string {
	if m[2] != "" {
		return m[2]
	}
	return m[3]
}
