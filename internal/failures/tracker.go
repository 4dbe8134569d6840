// Package failures records articles given up on during a run.
//
// Every record is appended as one JSON line to the failure log; Close also
// writes a plain URL list next to it. An optional Store mirrors rows into a
// database.
package failures

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/kbmirror/internal/clock/system"
	"github.com/JakeFAU/kbmirror/internal/crawler"
)

// URLListFile is the plain-text companion written by Close.
const URLListFile = "failed_urls.txt"

// Store persists failure rows outside the log file.
type Store interface {
	Insert(ctx context.Context, rec crawler.FailureRecord) error
}

// Config controls the Tracker.
type Config struct {
	// Path is the JSONL failure log.
	Path  string
	RunID string
	Clock crawler.Clock
}

// Tracker serializes failure appends from concurrent workers.
type Tracker struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	runID   string
	clock   crawler.Clock
	store   Store
	logger  *zap.Logger
	records []crawler.FailureRecord
	closed  bool
}

// New opens (or creates) the failure log for appending. store may be nil.
func New(cfg Config, store Store, logger *zap.Logger) (*Tracker, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("failure log path is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create failure log dir: %w", err)
	}
	// #nosec G304 -- path comes from operator configuration.
	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open failure log: %w", err)
	}
	return &Tracker{
		file:   f,
		path:   cfg.Path,
		runID:  cfg.RunID,
		clock:  cfg.Clock,
		store:  store,
		logger: logger.Named("failures"),
	}, nil
}

// Path returns the failure log location.
func (t *Tracker) Path() string {
	return t.path
}

// Record appends rec to the failure log. A log write failure is a write error;
// a store failure is only logged.
func (t *Tracker) Record(ctx context.Context, rec crawler.FailureRecord) error {
	if rec.RunID == "" {
		rec.RunID = t.runID
	}
	if rec.FailedAt.IsZero() {
		rec.FailedAt = t.clock.Now()
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal failure record: %w", err)
	}
	line = append(line, '\n')

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return crawler.Wrap(crawler.ErrWrite, fmt.Errorf("failure log %s is closed", t.path))
	}
	if _, err := t.file.Write(line); err != nil {
		t.mu.Unlock()
		return crawler.Wrap(crawler.ErrWrite, fmt.Errorf("append failure log: %w", err))
	}
	t.records = append(t.records, rec)
	t.mu.Unlock()

	t.logger.Warn("article failed",
		zap.String("url", rec.URL),
		zap.String("kind", string(rec.Kind)),
		zap.Int("retries", rec.Retries),
		zap.String("reason", rec.Reason),
	)

	if t.store != nil {
		if err := t.store.Insert(ctx, rec); err != nil {
			t.logger.Error("failure store insert failed", zap.String("url", rec.URL), zap.Error(err))
		}
	}
	return nil
}

// Summary returns the number of failures and a copy of the records in arrival order.
func (t *Tracker) Summary() (int, []crawler.FailureRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := append([]crawler.FailureRecord(nil), t.records...)
	return len(out), out
}

// Close flushes the log and writes the URL list. A run without failures removes
// any URL list left by an earlier run.
func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if err := t.file.Close(); err != nil {
		return fmt.Errorf("close failure log: %w", err)
	}
	listPath := filepath.Join(filepath.Dir(t.path), URLListFile)
	if len(t.records) == 0 {
		if err := os.Remove(listPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove stale url list: %w", err)
		}
		return nil
	}
	return writeURLList(listPath, t.records)
}

func writeURLList(path string, records []crawler.FailureRecord) error {
	// #nosec G304 -- path is derived from the configured failure log.
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create url list: %w", err)
	}
	w := bufio.NewWriter(f)
	seen := make(map[string]struct{}, len(records))
	for _, rec := range records {
		if _, dup := seen[rec.URL]; dup {
			continue
		}
		seen[rec.URL] = struct{}{}
		if _, err := w.WriteString(rec.URL + "\n"); err != nil {
			_ = f.Close()
			return fmt.Errorf("write url list: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush url list: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close url list: %w", err)
	}
	return nil
}
