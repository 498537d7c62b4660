// Package mysql provides a MySQL-backed cache store built on sqlx.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/JakeFAU/html-cache-renderer/internal/crawler"
)

const (
	// DefaultTable is used when Config.Table is empty.
	DefaultTable = "renders"
	// DefaultPort is the MySQL port used when Config.Port is zero.
	DefaultPort = 3306

	defaultPingTimeout = 5 * time.Second
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config describes the MySQL connection.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string //nolint:gosec // connection config
	DB       string
	Table    string
	MaxConns int
}

// DSN renders cfg as a go-sql-driver DSN. ClientFoundRows makes an upsert
// of an unchanged row report one affected row.
func (c Config) DSN() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	dc := gomysql.NewConfig()
	dc.Net = "tcp"
	dc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(port))
	dc.DBName = c.DB
	if c.User != "" && c.Password != "" {
		dc.User = c.User
		dc.Passwd = c.Password
	}
	dc.ParseTime = true
	dc.Loc = time.UTC
	dc.ClientFoundRows = true
	return dc.FormatDSN()
}

type renderRow struct {
	ID          int64     `db:"id"`
	Hash        string    `db:"hash"`
	URL         string    `db:"url"`
	RenderDate  time.Time `db:"renderDate"`
	LastmodDate time.Time `db:"lastmodDate"`
	ContentHash string    `db:"contentHash"`
	Content     []byte    `db:"content"`
}

// CacheStore keeps one row per URL hash in a MySQL table.
type CacheStore struct {
	db    *sqlx.DB
	table string
}

// New connects, pings and creates the table when it does not exist.
func New(ctx context.Context, cfg Config) (*CacheStore, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("db.host is required")
	}
	db, err := sqlx.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
		db.SetMaxIdleConns(cfg.MaxConns)
	}
	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	store, err := NewWithDB(db, cfg.Table)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewWithDB wraps an existing handle (primarily for testing).
func NewWithDB(db *sqlx.DB, table string) (*CacheStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &CacheStore{db: db, table: table}, nil
}

// EnsureSchema creates the render table.
func (s *CacheStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS `%s` ("+
		"`id` BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,"+
		"`hash` VARCHAR(64) NOT NULL,"+
		"`url` VARCHAR(2048) NOT NULL,"+
		"`renderDate` DATETIME(3) NOT NULL,"+
		"`lastmodDate` DATETIME(3) NOT NULL,"+
		"`contentHash` VARCHAR(64) NOT NULL,"+
		"`content` MEDIUMBLOB NOT NULL,"+
		"UNIQUE KEY `uniq_hash` (`hash`)"+
		") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4", s.table)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// FindByHash returns the row for urlHash, or nil when absent.
func (s *CacheStore) FindByHash(ctx context.Context, urlHash string) (*crawler.CacheRecord, error) {
	query := fmt.Sprintf("SELECT `id`, `hash`, `url`, `renderDate`, `lastmodDate`, `contentHash`, `content` "+
		"FROM `%s` WHERE `hash` = ? LIMIT 1", s.table)
	var row renderRow
	if err := s.db.GetContext(ctx, &row, query, urlHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select render %s: %w", urlHash, err)
	}
	return &crawler.CacheRecord{
		ID:               strconv.FormatInt(row.ID, 10),
		URLHash:          row.Hash,
		URL:              row.URL,
		RenderedAt:       row.RenderDate,
		SourceModifiedAt: row.LastmodDate,
		ContentHash:      row.ContentHash,
		Content:          row.Content,
	}, nil
}

// Save upserts record on the unique hash key.
func (s *CacheStore) Save(ctx context.Context, record crawler.CacheRecord) (bool, error) {
	query := fmt.Sprintf("INSERT INTO `%s` (`hash`, `url`, `renderDate`, `lastmodDate`, `contentHash`, `content`) "+
		"VALUES (:hash, :url, :renderDate, :lastmodDate, :contentHash, :content) "+
		"ON DUPLICATE KEY UPDATE `url` = VALUES(`url`), `renderDate` = VALUES(`renderDate`), "+
		"`lastmodDate` = VALUES(`lastmodDate`), `contentHash` = VALUES(`contentHash`), `content` = VALUES(`content`)",
		s.table)
	content := record.Content
	if content == nil {
		content = []byte{}
	}
	res, err := s.db.NamedExecContext(ctx, query, renderRow{
		Hash:        record.URLHash,
		URL:         record.URL,
		RenderDate:  record.RenderedAt.UTC(),
		LastmodDate: record.SourceModifiedAt.UTC(),
		ContentHash: record.ContentHash,
		Content:     content,
	})
	if err != nil {
		return false, fmt.Errorf("upsert render %s: %w", record.URLHash, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Close closes the connection pool.
func (s *CacheStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
