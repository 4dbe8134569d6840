package headless

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"

	"github.com/JakeFAU/kbmirror/internal/crawler"
)

func TestNewChromedpValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewChromedp(Config{MaxParallel: -1}, nil); err == nil {
		t.Fatal("expected error for negative max parallel")
	}
	r, err := NewChromedp(Config{MaxParallel: 2}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer r.Close()
	if cap(r.limiter) != 2 {
		t.Fatalf("expected limiter capacity 2, got %d", cap(r.limiter))
	}
	if r.cfg.Timeout != 30*time.Second || r.cfg.WaitSelector != "body" {
		t.Fatalf("expected defaults, got %+v", r.cfg)
	}
}

func TestAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	r := &Renderer{limiter: make(chan struct{}, 1)}
	if err := r.acquire(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled acquire, got %v", err)
	}
	r.release()
	if err := r.acquire(context.Background()); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	parent := context.Background()
	expired, cancel := context.WithTimeout(parent, -time.Second)
	defer cancel()

	err := classify(parent, expired, "https://kb/a", errors.New("chromedp run: context deadline exceeded"))
	if crawler.KindOf(err) != crawler.KindRenderTimeout {
		t.Fatalf("expected render timeout, got %v", crawler.KindOf(err))
	}

	err = classify(parent, parent, "https://kb/a", errors.New("net::ERR_NAME_NOT_RESOLVED"))
	if crawler.KindOf(err) != crawler.KindNetwork {
		t.Fatalf("expected network error, got %v", crawler.KindOf(err))
	}

	canceled, stop := context.WithCancel(parent)
	stop()
	err = classify(canceled, canceled, "https://kb/a", errors.New("boom"))
	if !errors.Is(err, context.Canceled) || crawler.IsRetryable(err) {
		t.Fatalf("expected terminal cancellation, got %v", err)
	}
}

func TestResponseMetaCaptureAndFallbacks(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.capture(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status: 204,
			URL:    "https://example.com/rendered",
		},
	})
	status, url := meta.snapshotWithFallbacks("https://req", "")
	if status != 204 || url != "https://example.com/rendered" {
		t.Fatalf("unexpected snapshot values: status=%d url=%s", status, url)
	}

	meta.captureEvent(&network.EventResponseReceived{Type: network.ResourceTypeImage, Response: &network.Response{Status: 500}})
	if status, _ := meta.snapshotWithFallbacks("https://req", ""); status != 204 {
		t.Fatalf("non-document responses must be ignored, got %d", status)
	}

	meta = newResponseMeta()
	status, url = meta.snapshotWithFallbacks("https://req", "https://final")
	if status != http.StatusOK || url != "https://final" {
		t.Fatalf("expected fallback values, got status=%d url=%s", status, url)
	}
}
