// Package sha256 provides content digests used for image names and path suffixes.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements crawler.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	return Sum(data), nil
}

// Sum returns the full hex digest of data.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Prefix returns the first n hex characters of the digest of data.
func Prefix(data []byte, n int) string {
	digest := Sum(data)
	if n <= 0 || n >= len(digest) {
		return digest
	}
	return digest[:n]
}
