package article

import (
	"context"
	"fmt"
	"mime"
	"net/url"
	"path"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/kbmirror/internal/convert"
	"github.com/JakeFAU/kbmirror/internal/crawler"
	"github.com/JakeFAU/kbmirror/internal/hash/sha256"
	"github.com/JakeFAU/kbmirror/internal/metrics"
)

const (
	// DefaultImageDir is the directory below the output root that holds images.
	DefaultImageDir = "images"
	defaultImageExt = ".jpg"
	imageNameLen    = 16
)

var knownImageExts = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".webp": {}, ".svg": {}, ".bmp": {}, ".ico": {}, ".avif": {},
}

var extByContentType = map[string]string{
	"image/jpeg":    ".jpg",
	"image/png":     ".png",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/svg+xml": ".svg",
	"image/bmp":     ".bmp",
	"image/x-icon":  ".ico",
	"image/avif":    ".avif",
}

// ImageConfig controls image localization.
type ImageConfig struct {
	// Dir is relative to the output root.
	Dir    string
	Retry  crawler.RetryPolicy
	Pauser crawler.Pauser
}

// ImageStore downloads each image once per run and writes it under Dir.
type ImageStore struct {
	fetcher crawler.ImageFetcher
	sink    crawler.OutputSink
	cfg     ImageConfig
	logger  *zap.Logger

	group singleflight.Group
	mu    sync.Mutex
	local map[string]string // remote URL -> path below the output root
	dead  map[string]error
}

// NewImageStore creates an ImageStore.
func NewImageStore(fetcher crawler.ImageFetcher, sink crawler.OutputSink, cfg ImageConfig, logger *zap.Logger) *ImageStore {
	if cfg.Dir == "" {
		cfg.Dir = DefaultImageDir
	}
	cfg.Dir = strings.Trim(cfg.Dir, "/")
	if cfg.Retry == nil {
		cfg.Retry = crawler.NewExponentialRetryPolicy(0, 0, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImageStore{
		fetcher: fetcher,
		sink:    sink,
		cfg:     cfg,
		logger:  logger.Named("images"),
		local:   make(map[string]string),
		dead:    make(map[string]error),
	}
}

// Localize downloads every remote image referenced by markdown and rewrites
// the references relative to the article at articlePath. Images that cannot be
// downloaded keep their remote URL and are returned in failed. Only a write
// failure is returned as an error.
func (s *ImageStore) Localize(ctx context.Context, articlePath, markdown string) (string, []string, error) {
	replacements := make(map[string]string)
	var failed []string
	for _, ref := range convert.Images(markdown) {
		if _, done := replacements[ref.Src]; done {
			continue
		}
		if !isRemote(ref.Src) {
			continue
		}
		local, err := s.fetch(ctx, ref.Src)
		if err != nil {
			if crawler.IsFatal(err) {
				return "", nil, err
			}
			failed = append(failed, ref.Src)
			replacements[ref.Src] = ""
			continue
		}
		replacements[ref.Src] = relativeFrom(articlePath, local)
	}
	out := convert.RewriteImages(markdown, func(src string) string {
		return replacements[src]
	})
	return out, failed, nil
}

func (s *ImageStore) fetch(ctx context.Context, src string) (string, error) {
	if local, ok, err := s.cached(src); ok {
		metrics.ObserveImage("cached")
		return local, err
	}
	v, err, _ := s.group.Do(src, func() (any, error) {
		if local, ok, err := s.cached(src); ok {
			return local, err
		}
		local, err := s.download(ctx, src)
		if err != nil && !crawler.IsFatal(err) && ctx.Err() == nil {
			s.mu.Lock()
			s.dead[src] = err
			s.mu.Unlock()
		}
		if err == nil {
			s.mu.Lock()
			s.local[src] = local
			s.mu.Unlock()
		}
		return local, err
	})
	if err != nil {
		return "", err //nolint:wrapcheck
	}
	return v.(string), nil
}

func (s *ImageStore) cached(src string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if local, ok := s.local[src]; ok {
		return local, true, nil
	}
	if err, ok := s.dead[src]; ok {
		return "", true, err
	}
	return "", false, nil
}

func (s *ImageStore) download(ctx context.Context, src string) (string, error) {
	var (
		data        []byte
		contentType string
	)
	outcome := crawler.Retry(ctx, s.cfg.Retry, s.cfg.Pauser, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			metrics.ObserveRetry("image")
		}
		var err error
		data, contentType, err = s.fetcher.Download(ctx, src)
		if err != nil {
			return crawler.Wrap(crawler.ErrImageDownload, err)
		}
		return nil
	})
	if !outcome.OK() {
		metrics.ObserveImage("failed")
		s.logger.Warn("image download failed",
			zap.String("src", src),
			zap.String("kind", string(crawler.KindImageDownload)),
			zap.Int("attempts", outcome.Attempts),
			zap.Error(outcome.Err),
		)
		return "", outcome.Err
	}

	local := path.Join(s.cfg.Dir, sha256.Prefix(data, imageNameLen)+imageExt(src, contentType))
	if _, err := s.sink.Write(ctx, local, contentType, data); err != nil {
		return "", crawler.Wrap(crawler.ErrWrite, fmt.Errorf("write image %s: %w", local, err))
	}
	metrics.ObserveImage("downloaded")
	s.logger.Debug("image stored", zap.String("src", src), zap.String("path", local), zap.Int("bytes", len(data)))
	return local, nil
}

// imageExt picks the file extension from the URL path, then the content type, then .jpg.
func imageExt(src, contentType string) string {
	if u, err := url.Parse(src); err == nil {
		ext := strings.ToLower(path.Ext(u.Path))
		if _, ok := knownImageExts[ext]; ok {
			if ext == ".jpeg" {
				return ".jpg"
			}
			return ext
		}
	}
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		if ext, ok := extByContentType[strings.ToLower(mediaType)]; ok {
			return ext
		}
	}
	return defaultImageExt
}

func isRemote(src string) bool {
	u, err := url.Parse(src)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
