// Package storage holds helpers shared by the output sinks.
package storage

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/stretchr/testify/mock"
)

// CleanKey validates a slash-separated relative output path and returns it cleaned.
// Absolute paths and paths escaping the output root are rejected.
func CleanKey(relPath string) (string, error) {
	if strings.TrimSpace(relPath) == "" {
		return "", fmt.Errorf("path is required")
	}
	if strings.HasPrefix(relPath, "/") || strings.Contains(relPath, "\\") {
		return "", fmt.Errorf("path %q must be relative", relPath)
	}
	cleaned := path.Clean(relPath)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("path traversal detected in %q", relPath)
	}
	return cleaned, nil
}

// MockSink is a testify mock of crawler.OutputSink.
type MockSink struct {
	mock.Mock
}

// Write is the mock implementation of the Write method.
func (m *MockSink) Write(ctx context.Context, relPath, contentType string, data []byte) (string, error) {
	args := m.Called(ctx, relPath, contentType, data)
	return args.String(0), args.Error(1) //nolint:wrapcheck
}
