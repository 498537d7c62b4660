package crawler

import (
	"context"
	"time"
)

// CacheStore persists rendered pages keyed by URL hash.
type CacheStore interface {
	// FindByHash returns nil and no error when no record exists.
	FindByHash(ctx context.Context, urlHash string) (*CacheRecord, error)
	// Save upserts the record. A false result means the backend did not
	// acknowledge the write.
	Save(ctx context.Context, record CacheRecord) (bool, error)
}

// Browser opens page sessions on a running headless browser.
type Browser interface {
	OpenSession(ctx context.Context) (Session, error)
	Close() error
}

// Session is a single reusable browser page.
type Session interface {
	// Navigate loads url and returns the main document status code.
	Navigate(ctx context.Context, url string, timeout time.Duration) (int, error)
	// Content returns the serialized DOM of the current document.
	Content(ctx context.Context) (string, error)
	// WaitForCondition polls the JavaScript function predicate with args
	// until it returns a truthy value or timeout elapses.
	WaitForCondition(ctx context.Context, predicate string, args []any, timeout time.Duration) error
	// Evaluate calls the JavaScript function fn with args and returns the
	// JSON encoded result.
	Evaluate(ctx context.Context, fn string, args []any) ([]byte, error)
	// Screenshot writes a full page PNG to path.
	Screenshot(ctx context.Context, path string) error
	// Reset navigates to a blank document.
	Reset(ctx context.Context) error
	Close() error
}

// Publisher pushes cache update events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for URL identity and content comparison.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
