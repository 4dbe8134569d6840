// Package worker runs article units over a fixed number of concurrent workers.
package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/kbmirror/internal/clock/system"
	"github.com/JakeFAU/kbmirror/internal/crawler"
	"github.com/JakeFAU/kbmirror/internal/metrics"
)

// Handler processes a single article. It returns an error only when the whole run must stop.
type Handler func(ctx context.Context, record crawler.ArticleRecord) error

// Config controls Pool behavior.
type Config struct {
	// Concurrency is the number of workers; values below one mean one.
	Concurrency int
	// Delay is the minimum time between the starts of two units on the same worker.
	Delay  time.Duration
	Clock  crawler.Clock
	Pauser crawler.Pauser
}

// Pool fans article units out to Concurrency workers.
type Pool struct {
	cfg      Config
	logger   *zap.Logger
	inFlight atomic.Int64
	peak     atomic.Int64
}

// NewPool creates a Pool.
func NewPool(cfg Config, logger *zap.Logger) *Pool {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Clock == nil {
		cfg.Clock = system.New()
	}
	if cfg.Pauser == nil {
		cfg.Pauser = crawler.TimerPauser{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{cfg: cfg, logger: logger.Named("worker")}
}

// Run hands every record to handler and blocks until all are processed,
// a handler fails, or ctx is done. The first handler error cancels the
// remaining workers and is returned.
func (p *Pool) Run(ctx context.Context, records []crawler.ArticleRecord, handler Handler) error {
	g, gctx := errgroup.WithContext(ctx)
	units := make(chan crawler.ArticleRecord)

	g.Go(func() error {
		defer close(units)
		for _, rec := range records {
			select {
			case units <- rec:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	for i := 0; i < p.cfg.Concurrency; i++ {
		id := i
		g.Go(func() error {
			return p.work(gctx, id, units, handler)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("worker pool stopped: %w", err)
	}
	return nil
}

func (p *Pool) work(ctx context.Context, id int, units <-chan crawler.ArticleRecord, handler Handler) error {
	var lastStart time.Time
	for {
		var (
			rec crawler.ArticleRecord
			ok  bool
		)
		select {
		case <-ctx.Done():
			return nil
		case rec, ok = <-units:
			if !ok {
				return nil
			}
		}

		if !lastStart.IsZero() && p.cfg.Delay > 0 {
			if wait := p.cfg.Delay - p.cfg.Clock.Now().Sub(lastStart); wait > 0 {
				p.cfg.Pauser.Pause(ctx, wait)
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		lastStart = p.cfg.Clock.Now()

		p.enter()
		err := handler(ctx, rec)
		p.leave()
		if err != nil {
			p.logger.Error("worker stopping on fatal error",
				zap.Int("worker", id),
				zap.String("url", rec.URL),
				zap.Error(err),
			)
			return fmt.Errorf("worker %d: %w", id, err)
		}
	}
}

func (p *Pool) enter() {
	n := p.inFlight.Add(1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	metrics.IncActiveWorkers()
}

func (p *Pool) leave() {
	p.inFlight.Add(-1)
	metrics.DecActiveWorkers()
}

// InFlight returns the number of handler calls currently running.
func (p *Pool) InFlight() int {
	return int(p.inFlight.Load())
}

// Peak returns the highest InFlight value observed.
func (p *Pool) Peak() int {
	return int(p.peak.Load())
}
