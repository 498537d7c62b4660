// Package file implements a cache store on the local filesystem. Each record
// is a JSON document at <base>/<hash[:2]>/<hash>.json.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/html-cache-renderer/internal/crawler"
)

// Config captures the parameters for the filesystem cache store.
type Config struct {
	// BaseDir is the root directory where records will be stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// CacheStore reads and writes records under a base directory.
type CacheStore struct {
	baseDir string
}

// New creates a filesystem-backed cache store.
func New(cfg Config) (*CacheStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	// Check for write permissions.
	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &CacheStore{baseDir: cfg.BaseDir}, nil
}

// path maps a URL hash to its record file and rejects anything that would
// escape baseDir.
func (s *CacheStore) path(urlHash string) (string, error) {
	if strings.TrimSpace(urlHash) == "" {
		return "", fmt.Errorf("hash is required")
	}
	shard := urlHash
	if len(shard) > 2 {
		shard = shard[:2]
	}
	fullPath := filepath.Join(s.baseDir, shard, urlHash+".json")

	cleanBaseDir := filepath.Clean(s.baseDir)
	if !strings.HasPrefix(filepath.Clean(fullPath), cleanBaseDir+string(filepath.Separator)) ||
		strings.ContainsAny(urlHash, `/\`) {
		return "", fmt.Errorf("path traversal detected")
	}
	return fullPath, nil
}

// FindByHash loads the record file, or returns nil when it does not exist.
func (s *CacheStore) FindByHash(_ context.Context, urlHash string) (*crawler.CacheRecord, error) {
	path, err := s.path(urlHash)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path) //nolint:gosec // path is confined to baseDir
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read record: %w", err)
	}
	var rec crawler.CacheRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", urlHash, err)
	}
	rec.ID = urlHash
	return &rec, nil
}

// Save writes the record through a temp file and rename so readers never
// observe a partial document.
func (s *CacheStore) Save(_ context.Context, record crawler.CacheRecord) (bool, error) {
	path, err := s.path(record.URLHash)
	if err != nil {
		return false, err
	}
	record.ID = record.URLHash
	data, err := json.Marshal(record)
	if err != nil {
		return false, fmt.Errorf("encode record: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return false, fmt.Errorf("failed to create parent directories: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return false, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return false, fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return false, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return false, fmt.Errorf("rename record: %w", err)
	}
	return true, nil
}

// Close is a no-op.
func (s *CacheStore) Close() error {
	return nil
}
