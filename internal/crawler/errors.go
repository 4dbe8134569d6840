package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind is the failure taxonomy recorded for a URL.
type ErrorKind string

// Error kinds.
const (
	KindRenderTimeout   ErrorKind = "render_timeout"
	KindContentNotFound ErrorKind = "content_not_found"
	KindNetwork         ErrorKind = "network_error"
	KindImageDownload   ErrorKind = "image_download_error"
	KindWrite           ErrorKind = "write_error"
	KindCanceled        ErrorKind = "canceled"
	KindUnknown         ErrorKind = "unknown"
)

var (
	// ErrRenderTimeout means the page did not finish rendering within the budget.
	ErrRenderTimeout = errors.New("render timeout")
	// ErrContentNotFound means the main content selector matched nothing usable.
	ErrContentNotFound = errors.New("content not found")
	// ErrNetwork covers transport failures and non-success HTTP statuses.
	ErrNetwork = errors.New("network error")
	// ErrImageDownload marks an image that could not be fetched.
	ErrImageDownload = errors.New("image download failed")
	// ErrWrite marks an output write failure; it is fatal to the run.
	ErrWrite = errors.New("write failed")
	// ErrRootsUnreachable means discovery could not render any root URL.
	ErrRootsUnreachable = errors.New("no root url could be reached")
)

// Wrap tags err with a taxonomy sentinel while keeping the original chain.
func Wrap(kind error, err error) error {
	if err == nil {
		return kind
	}
	if errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// KindOf classifies err into the failure taxonomy.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrWrite):
		return KindWrite
	case errors.Is(err, ErrRenderTimeout):
		return KindRenderTimeout
	case errors.Is(err, ErrContentNotFound):
		return KindContentNotFound
	case errors.Is(err, ErrImageDownload):
		return KindImageDownload
	case errors.Is(err, ErrNetwork):
		return KindNetwork
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return KindRenderTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindRenderTimeout
		}
		return KindNetwork
	}
	return KindUnknown
}

// IsFatal reports whether err must abort the whole run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrWrite)
}

// IsRetryable reports whether another attempt could succeed.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindRenderTimeout, KindContentNotFound, KindNetwork, KindImageDownload, KindUnknown:
		return true
	default:
		return false
	}
}
