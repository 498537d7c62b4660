// Package postgres provides a Postgres-backed cache store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/html-cache-renderer/internal/crawler"
)

// DefaultTable is used when Config.Table is empty.
const DefaultTable = "renders"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for render rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// CacheStore keeps one row per URL hash.
type CacheStore struct {
	pool  pgxPool
	table string
}

// New connects to Postgres, pings it and creates the table if missing.
func New(ctx context.Context, cfg Config) (*CacheStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool pgxPool, table string) (*CacheStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &CacheStore{pool: pool, table: table}, nil
}

// EnsureSchema creates the render table and its unique hash index.
func (s *CacheStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	hash TEXT NOT NULL UNIQUE,
	url TEXT NOT NULL,
	render_date TIMESTAMPTZ NOT NULL,
	lastmod_date TIMESTAMPTZ NOT NULL,
	content_hash TEXT NOT NULL,
	content BYTEA NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// FindByHash returns the row for urlHash, or nil when absent.
func (s *CacheStore) FindByHash(ctx context.Context, urlHash string) (*crawler.CacheRecord, error) {
	query := fmt.Sprintf(`
SELECT id, hash, url, render_date, lastmod_date, content_hash, content
FROM %s WHERE hash = $1 LIMIT 1`, s.table)

	var (
		id  int64
		rec crawler.CacheRecord
	)
	err := s.pool.QueryRow(ctx, query, urlHash).Scan(
		&id,
		&rec.URLHash,
		&rec.URL,
		&rec.RenderedAt,
		&rec.SourceModifiedAt,
		&rec.ContentHash,
		&rec.Content,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select render %s: %w", urlHash, err)
	}
	rec.ID = strconv.FormatInt(id, 10)
	return &rec, nil
}

// Save upserts record on its hash. The row ID survives updates.
func (s *CacheStore) Save(ctx context.Context, record crawler.CacheRecord) (bool, error) {
	query := fmt.Sprintf(`
INSERT INTO %s (hash, url, render_date, lastmod_date, content_hash, content)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (hash) DO UPDATE SET
	url = EXCLUDED.url,
	render_date = EXCLUDED.render_date,
	lastmod_date = EXCLUDED.lastmod_date,
	content_hash = EXCLUDED.content_hash,
	content = EXCLUDED.content
RETURNING id`, s.table)

	var id int64
	err := s.pool.QueryRow(ctx, query,
		record.URLHash,
		record.URL,
		record.RenderedAt,
		record.SourceModifiedAt,
		record.ContentHash,
		record.Content,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("upsert render %s: %w", record.URLHash, err)
	}
	return true, nil
}

// Close releases the underlying pool resources.
func (s *CacheStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
