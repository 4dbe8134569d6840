package crawler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestVisitedSetMarkIfNew(t *testing.T) {
	set := NewVisitedSet()
	require.True(t, set.MarkIfNew("https://example.org/first"))
	require.False(t, set.MarkIfNew("https://example.org/first"))
	require.True(t, set.MarkIfNew("https://example.org/second"))
	require.False(t, set.MarkIfNew(""), "empty url is never recorded")
	require.True(t, set.Seen("https://example.org/second"))
	require.Equal(t, 2, set.Len())
}

func TestVisitedSetConcurrentMarks(t *testing.T) {
	set := NewVisitedSet()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if set.MarkIfNew(fmt.Sprintf("https://example.org/%d", j)) {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 50, wins, "each url must be claimed exactly once")
	require.Equal(t, 50, set.Len())
}

func TestTimerPauserHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	TimerPauser{}.Pause(ctx, 5*time.Second)
	require.Less(t, time.Since(start), time.Second, "pause should exit immediately when context is done")
}
