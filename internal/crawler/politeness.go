package crawler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// VisitedSet tracks normalized URLs so none is processed twice.
type VisitedSet struct {
	seen  sync.Map
	count atomic.Int64
}

// NewVisitedSet returns an empty set.
func NewVisitedSet() *VisitedSet {
	return &VisitedSet{}
}

// MarkIfNew stores the URL if it has not been seen before and returns true.
func (s *VisitedSet) MarkIfNew(url string) bool {
	if url == "" {
		return false
	}
	_, loaded := s.seen.LoadOrStore(url, struct{}{})
	if !loaded {
		s.count.Add(1)
	}
	return !loaded
}

// Seen reports whether the URL was already marked.
func (s *VisitedSet) Seen(url string) bool {
	_, ok := s.seen.Load(url)
	return ok
}

// Len returns the number of marked URLs.
func (s *VisitedSet) Len() int {
	return int(s.count.Load())
}

// Pauser abstracts how the crawler waits between attempts and requests.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration)
}

// TimerPauser sleeps for the delay or until ctx is done.
type TimerPauser struct{}

// Pause blocks for delay unless ctx finishes first.
func (TimerPauser) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// NoopPauser never waits.
type NoopPauser struct{}

// Pause returns immediately.
func (NoopPauser) Pause(context.Context, time.Duration) {}
