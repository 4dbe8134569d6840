package article

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrontMatterRoundTrip(t *testing.T) {
	fm := FrontMatter{
		Title:       "Step 1: Wiring # the loom",
		URL:         "https://kb.example.org/articles/harness?lang=en&v=2",
		DateScraped: "2024-05-01",
		Category:    "Wiring",
	}
	doc, err := fm.Render("# Heading\n\nBody text.\n\n")
	require.NoError(t, err)

	text := string(doc)
	assert.True(t, strings.HasPrefix(text, "---\ntitle: "))
	assert.NotContains(t, text, "subcategory", "empty subcategory is omitted")
	assert.True(t, strings.HasSuffix(text, "Body text.\n"))

	got, body, err := ParseFrontMatter(doc)
	require.NoError(t, err)
	assert.Equal(t, fm, got)
	assert.Equal(t, fm.URL, got.URL)
	assert.Equal(t, "# Heading\n\nBody text.", body)
}

func TestParseFrontMatterErrors(t *testing.T) {
	_, _, err := ParseFrontMatter([]byte("# no header"))
	assert.Error(t, err)
	_, _, err = ParseFrontMatter([]byte("---\ntitle: x\n"))
	assert.Error(t, err)
}
