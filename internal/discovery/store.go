package discovery

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/JakeFAU/kbmirror/internal/crawler"
)

// File names written below the logs directory.
const (
	SiteMapFile     = "site_map.json"
	ArticleURLsFile = "article_urls.txt"
)

// ErrNoSiteMap is returned by Load when no site map has been saved yet.
var ErrNoSiteMap = errors.New("site map not found")

// Store persists discovery results so a later run can skip the mapper.
type Store struct {
	dir    string
	logger *zap.Logger
}

// NewStore returns a Store rooted at dir.
func NewStore(dir string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{dir: dir, logger: logger.Named("sitemap")}
}

type siteMapDocument struct {
	*crawler.SiteTree
	TotalArticles int `json:"total_articles"`
}

// Path returns the location of the site map file.
func (s *Store) Path() string {
	return filepath.Join(s.dir, SiteMapFile)
}

// Save writes the site map and the flat article list.
func (s *Store) Save(tree *crawler.SiteTree) error {
	if tree == nil {
		return fmt.Errorf("save site map: nil tree")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create logs dir: %w", err)
	}
	data, err := json.MarshalIndent(siteMapDocument{SiteTree: tree, TotalArticles: len(tree.ArticleURLs)}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal site map: %w", err)
	}
	if err := writeAtomic(s.Path(), data); err != nil {
		return fmt.Errorf("write site map: %w", err)
	}

	urlsPath := filepath.Join(s.dir, ArticleURLsFile)
	f, err := os.Create(urlsPath)
	if err != nil {
		return fmt.Errorf("create article list: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, u := range tree.ArticleURLs {
		if _, err := w.WriteString(u + "\n"); err != nil {
			_ = f.Close()
			return fmt.Errorf("write article list: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush article list: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close article list: %w", err)
	}
	s.logger.Info("site map saved",
		zap.String("path", s.Path()),
		zap.Int("articles", len(tree.ArticleURLs)),
	)
	return nil
}

// Load reads a previously saved site map and restores parent links.
func (s *Store) Load() (*crawler.SiteTree, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoSiteMap
		}
		return nil, fmt.Errorf("read site map: %w", err)
	}
	doc := siteMapDocument{SiteTree: &crawler.SiteTree{}}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode site map: %w", err)
	}
	doc.SiteTree.Relink()
	s.logger.Info("site map loaded",
		zap.String("path", s.Path()),
		zap.Int("articles", len(doc.ArticleURLs)),
	)
	return doc.SiteTree, nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
