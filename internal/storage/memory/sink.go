// Package memory keeps written documents in memory, for dry runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/kbmirror/internal/storage"
)

// Sink stores documents in-memory and returns pseudo URIs.
type Sink struct {
	mu    sync.RWMutex
	data  map[string][]byte
	types map[string]string
}

// NewSink creates an empty in-memory sink.
func NewSink() *Sink {
	return &Sink{
		data:  make(map[string][]byte),
		types: make(map[string]string),
	}
}

// Write stores a copy of data at relPath.
func (s *Sink) Write(_ context.Context, relPath string, contentType string, data []byte) (string, error) {
	key, err := storage.CleanKey(relPath)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), data...)
	s.types[key] = contentType
	return fmt.Sprintf("memory://%s", key), nil
}

// Get returns the stored document.
func (s *Sink) Get(relPath string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[relPath]
	return data, ok
}

// ContentType returns the content type recorded for relPath.
func (s *Sink) ContentType(relPath string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.types[relPath]
}

// Keys lists stored paths in sorted order.
func (s *Sink) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
