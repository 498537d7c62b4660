// Package gcs provides a cache store backed by Google Cloud Storage.
package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/html-cache-renderer/internal/crawler"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	// Prefix is prepended to every object name.
	Prefix string
}

// CacheStore keeps one JSON object per URL hash in a bucket.
type CacheStore struct {
	client     *storage.Client
	bucket     string
	prefix     string
	ownsClient bool
}

// Open creates a client from application default credentials and wraps it.
func Open(ctx context.Context, cfg Config) (*CacheStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	store, err := New(client, cfg)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("bucket %s: %w", cfg.Bucket, err)
	}
	store.ownsClient = true
	return store, nil
}

// New creates a GCS-backed cache store on an existing client.
func New(client *storage.Client, cfg Config) (*CacheStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &CacheStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// ObjectName returns the object that holds urlHash.
func (s *CacheStore) ObjectName(urlHash string) string {
	name := urlHash + ".json"
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// FindByHash downloads and decodes the record object, or returns nil when
// it does not exist.
func (s *CacheStore) FindByHash(ctx context.Context, urlHash string) (*crawler.CacheRecord, error) {
	name := s.ObjectName(urlHash)
	reader, err := s.client.Bucket(s.bucket).Object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open object %s: %w", name, err)
	}
	defer reader.Close() //nolint:errcheck

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", name, err)
	}
	var rec crawler.CacheRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode object %s: %w", name, err)
	}
	rec.ID = fmt.Sprintf("gs://%s/%s", s.bucket, name)
	return &rec, nil
}

// Save uploads the record as JSON, replacing any previous object.
func (s *CacheStore) Save(ctx context.Context, record crawler.CacheRecord) (bool, error) {
	if strings.TrimSpace(record.URLHash) == "" {
		return false, fmt.Errorf("hash is required")
	}
	name := s.ObjectName(record.URLHash)
	record.ID = ""
	data, err := json.Marshal(record)
	if err != nil {
		return false, fmt.Errorf("encode record: %w", err)
	}

	writer := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := writer.Write(data); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return false, fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return false, fmt.Errorf("write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return false, fmt.Errorf("close writer: %w", err)
	}
	return writer.Attrs() != nil, nil
}

// Close closes the client when the store created it.
func (s *CacheStore) Close() error {
	if !s.ownsClient {
		return nil
	}
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close storage client: %w", err)
	}
	return nil
}
