package crawler

import (
	"context"
	"time"
)

// Renderer returns the DOM of a page after its scripts have run.
type Renderer interface {
	Render(ctx context.Context, url string) (Page, error)
}

// ImageFetcher downloads a single binary resource.
type ImageFetcher interface {
	Download(ctx context.Context, url string) (data []byte, contentType string, err error)
}

// OutputSink writes a document below the output root and returns its location.
type OutputSink interface {
	Write(ctx context.Context, relPath string, contentType string, data []byte) (string, error)
}

// Publisher announces written articles to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, event ArticleEvent) (string, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
