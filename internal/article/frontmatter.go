package article

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const fence = "---"

// FrontMatter is the YAML header written at the top of every article.
type FrontMatter struct {
	Title       string `yaml:"title"`
	URL         string `yaml:"url"`
	DateScraped string `yaml:"date_scraped"`
	Category    string `yaml:"category,omitempty"`
	Subcategory string `yaml:"subcategory,omitempty"`
}

// Render prefixes body with the front matter block.
func (fm FrontMatter) Render(body string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(fence + "\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(fm); err != nil {
		return nil, fmt.Errorf("encode front matter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode front matter: %w", err)
	}
	buf.WriteString(fence + "\n\n")
	buf.WriteString(strings.TrimSpace(body))
	buf.WriteString("\n")
	return buf.Bytes(), nil
}

// ParseFrontMatter splits a written article into its header and body.
func ParseFrontMatter(doc []byte) (FrontMatter, string, error) {
	text := string(doc)
	if !strings.HasPrefix(text, fence+"\n") {
		return FrontMatter{}, "", fmt.Errorf("parse front matter: missing opening fence")
	}
	rest := text[len(fence)+1:]
	end := strings.Index(rest, "\n"+fence+"\n")
	if end < 0 {
		return FrontMatter{}, "", fmt.Errorf("parse front matter: missing closing fence")
	}
	var fm FrontMatter
	if err := yaml.Unmarshal([]byte(rest[:end+1]), &fm); err != nil {
		return FrontMatter{}, "", fmt.Errorf("parse front matter: %w", err)
	}
	body := strings.TrimSpace(rest[end+len(fence)+2:])
	return fm, body, nil
}
