package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLimiterWaitSpacesRequests(t *testing.T) {
	// 10 requests per second = one token every 100ms, starting with one.
	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	start := time.Now()
	if err := l.Wait(ctx, "https://test.com/a"); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Logf("warning: first wait took %v", time.Since(start))
	}

	start = time.Now()
	if err := l.Wait(ctx, "https://TEST.com/b"); err != nil {
		t.Fatal(err)
	}
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms, got %v", dur)
	}
	if l.Hosts() != 1 {
		t.Errorf("expected host keys to be case-insensitive, got %d hosts", l.Hosts())
	}
}

func TestLimiterDifferentHostsDoNotShareTokens(t *testing.T) {
	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	ctx := context.Background()

	if err := l.Wait(ctx, "https://a.com/1"); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if err := l.Wait(ctx, "https://b.com/1"); err != nil {
		t.Fatal(err)
	}
	if dur := time.Since(start); dur > 100*time.Millisecond {
		t.Errorf("expected immediate grant for a new host, waited %v", dur)
	}
}

func TestLimiterUnlimitedAndCanceled(t *testing.T) {
	unlimited := New(Config{})
	for i := 0; i < 100; i++ {
		if err := unlimited.Wait(context.Background(), "https://x.com"); err != nil {
			t.Fatal(err)
		}
	}

	l := New(Config{DefaultRPS: 0.1, DefaultBurst: 1})
	if err := l.Wait(context.Background(), "https://slow.com"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.Wait(ctx, "https://slow.com")
	if err == nil || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled wait, got %v", err)
	}
}
