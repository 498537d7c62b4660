// Package redisstore keeps rendered pages in Redis hashes, one per URL hash.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/html-cache-renderer/internal/crawler"
)

// ErrEmptyAddress is returned when the Redis address is not configured.
var ErrEmptyAddress = errors.New("redis address is required")

const connectionTimeout = 5 * time.Second

// Hash field names.
const (
	fieldHash        = "hash"
	fieldURL         = "url"
	fieldRenderDate  = "renderDate"
	fieldLastmodDate = "lastmodDate"
	fieldContentHash = "contentHash"
	fieldContent     = "content"
)

// Config holds Redis connection configuration.
type Config struct {
	Address  string
	Password string //nolint:gosec // connection config
	DB       int
	// Prefix is prepended to every key.
	Prefix string
}

// CacheStore implements crawler.CacheStore over go-redis.
type CacheStore struct {
	client redis.UniversalClient
	prefix string
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*CacheStore, error) {
	if cfg.Address == "" {
		return nil, ErrEmptyAddress
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewWithClient(client, cfg.Prefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.UniversalClient, prefix string) *CacheStore {
	return &CacheStore{client: client, prefix: prefix}
}

func (s *CacheStore) key(urlHash string) string {
	return s.prefix + urlHash
}

// FindByHash reads the hash stored under urlHash. The key doubles as the
// record ID.
func (s *CacheStore) FindByHash(ctx context.Context, urlHash string) (*crawler.CacheRecord, error) {
	key := s.key(urlHash)
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", key, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	rec := &crawler.CacheRecord{
		ID:          key,
		URLHash:     fields[fieldHash],
		URL:         fields[fieldURL],
		ContentHash: fields[fieldContentHash],
		Content:     []byte(fields[fieldContent]),
	}
	if rec.RenderedAt, err = parseTime(fields[fieldRenderDate]); err != nil {
		return nil, fmt.Errorf("parse %s of %s: %w", fieldRenderDate, key, err)
	}
	if rec.SourceModifiedAt, err = parseTime(fields[fieldLastmodDate]); err != nil {
		return nil, fmt.Errorf("parse %s of %s: %w", fieldLastmodDate, key, err)
	}
	return rec, nil
}

// Save writes every field in one MULTI/EXEC transaction.
func (s *CacheStore) Save(ctx context.Context, record crawler.CacheRecord) (bool, error) {
	key := s.key(record.URLHash)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			fieldHash, record.URLHash,
			fieldURL, record.URL,
			fieldRenderDate, formatTime(record.RenderedAt),
			fieldLastmodDate, formatTime(record.SourceModifiedAt),
			fieldContentHash, record.ContentHash,
			fieldContent, record.Content,
		)
		return nil
	})
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("save %s: %w", key, err)
	}
	return true, nil
}

// Close closes the client.
func (s *CacheStore) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}
