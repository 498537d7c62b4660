// Package memory provides an in-memory cache store for dry runs and tests.
package memory

import (
	"context"
	"strconv"
	"sync"

	"github.com/JakeFAU/html-cache-renderer/internal/crawler"
)

// CacheStore keeps records in a map keyed by URL hash.
type CacheStore struct {
	mu      sync.RWMutex
	records map[string]crawler.CacheRecord
	nextID  int
	saves   int
}

// NewCacheStore constructs an empty CacheStore.
func NewCacheStore() *CacheStore {
	return &CacheStore{records: make(map[string]crawler.CacheRecord)}
}

// FindByHash returns a copy of the stored record, or nil.
func (s *CacheStore) FindByHash(_ context.Context, urlHash string) (*crawler.CacheRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[urlHash]
	if !ok {
		return nil, nil
	}
	rec.Content = append([]byte(nil), rec.Content...)
	return &rec, nil
}

// Save upserts record by URL hash, assigning a sequential ID on first insert.
func (s *CacheStore) Save(_ context.Context, record crawler.CacheRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.records[record.URLHash]; ok {
		record.ID = prev.ID
	} else if record.ID == "" {
		s.nextID++
		record.ID = strconv.Itoa(s.nextID)
	}
	record.Content = append([]byte(nil), record.Content...)
	s.records[record.URLHash] = record
	s.saves++
	return true, nil
}

// Len returns the number of distinct records.
func (s *CacheStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Saves returns the number of Save calls.
func (s *CacheStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

// Close is a no-op.
func (s *CacheStore) Close() error {
	return nil
}
