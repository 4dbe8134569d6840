package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/kbmirror/internal/clock/system"
	"github.com/JakeFAU/kbmirror/internal/crawler"
)

type recordingPauser struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recordingPauser) Pause(_ context.Context, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits = append(r.waits, d)
}

func records(n int) []crawler.ArticleRecord {
	out := make([]crawler.ArticleRecord, n)
	for i := range out {
		out[i] = crawler.ArticleRecord{URL: fmt.Sprintf("https://kb.example.org/articles/%d", i)}
	}
	return out
}

func TestPoolProcessesEveryRecord(t *testing.T) {
	t.Parallel()

	pool := NewPool(Config{Concurrency: 3, Pauser: crawler.NoopPauser{}}, zap.NewNop())
	var (
		mu   sync.Mutex
		seen = map[string]int{}
	)
	err := pool.Run(context.Background(), records(20), func(_ context.Context, rec crawler.ArticleRecord) error {
		mu.Lock()
		defer mu.Unlock()
		seen[rec.URL]++
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, seen, 20)
	for url, n := range seen {
		assert.Equal(t, 1, n, url)
	}
	assert.Equal(t, 0, pool.InFlight())
}

func TestPoolBoundsInFlight(t *testing.T) {
	t.Parallel()

	const n = 3
	pool := NewPool(Config{Concurrency: n, Pauser: crawler.NoopPauser{}}, zap.NewNop())
	var current, maxSeen atomic.Int64
	err := pool.Run(context.Background(), records(30), func(context.Context, crawler.ArticleRecord) error {
		c := current.Add(1)
		for {
			m := maxSeen.Load()
			if c <= m || maxSeen.CompareAndSwap(m, c) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		current.Add(-1)
		return nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, maxSeen.Load(), int64(n))
	assert.LessOrEqual(t, pool.Peak(), n)
	assert.GreaterOrEqual(t, pool.Peak(), 1)
}

func TestPoolFatalErrorStopsRun(t *testing.T) {
	t.Parallel()

	fatal := crawler.Wrap(crawler.ErrWrite, errors.New("disk full"))
	pool := NewPool(Config{Concurrency: 2, Pauser: crawler.NoopPauser{}}, zap.NewNop())
	var handled atomic.Int64
	err := pool.Run(context.Background(), records(100), func(ctx context.Context, rec crawler.ArticleRecord) error {
		if handled.Add(1) == 3 {
			return fatal
		}
		return nil
	})
	require.Error(t, err)
	assert.True(t, crawler.IsFatal(err))
	assert.Less(t, handled.Load(), int64(100))
}

func TestPoolEnforcesPerWorkerDelay(t *testing.T) {
	t.Parallel()

	pauser := &recordingPauser{}
	clk := system.Fixed{T: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	pool := NewPool(Config{Concurrency: 1, Delay: 1500 * time.Millisecond, Clock: clk, Pauser: pauser}, zap.NewNop())

	require.NoError(t, pool.Run(context.Background(), records(3), func(context.Context, crawler.ArticleRecord) error {
		return nil
	}))
	assert.Equal(t, []time.Duration{1500 * time.Millisecond, 1500 * time.Millisecond}, pauser.waits)
}

func TestPoolStopsBetweenUnitsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool := NewPool(Config{Concurrency: 1, Pauser: crawler.NoopPauser{}}, zap.NewNop())
	var handled atomic.Int64
	err := pool.Run(ctx, records(10), func(context.Context, crawler.ArticleRecord) error {
		if handled.Add(1) == 2 {
			cancel()
		}
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(2), handled.Load())
}
