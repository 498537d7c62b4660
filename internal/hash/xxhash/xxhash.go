// Package xxhash provides a fast non-cryptographic content hasher.
package xxhash

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Hasher implements crawler.Hasher using 64-bit xxHash.
type Hasher struct{}

// New returns an xxHash hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the digest as 16 lower-case hex characters.
func (h *Hasher) Hash(data []byte) (string, error) {
	return fmt.Sprintf("%016x", xxhash.Sum64(data)), nil
}
