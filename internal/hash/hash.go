// Package hash selects the fingerprint algorithm for URL and content hashes.
package hash

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/html-cache-renderer/internal/crawler"
	"github.com/JakeFAU/html-cache-renderer/internal/hash/md5"
	"github.com/JakeFAU/html-cache-renderer/internal/hash/sha256"
	"github.com/JakeFAU/html-cache-renderer/internal/hash/xxhash"
)

// ErrUnknownAlgorithm is returned for algorithm names New does not support.
var ErrUnknownAlgorithm = errors.New("unknown hash algorithm")

// Supported algorithm names.
const (
	MD5    = "md5"
	SHA256 = "sha256"
	XXHash = "xxhash"
)

// New returns the hasher registered under algorithm. An empty name selects MD5.
func New(algorithm string) (crawler.Hasher, error) {
	switch strings.ToLower(strings.TrimSpace(algorithm)) {
	case "", MD5:
		return md5.New(), nil
	case SHA256:
		return sha256.New(), nil
	case XXHash:
		return xxhash.New(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algorithm)
	}
}
