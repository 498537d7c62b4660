// Package storage selects and opens the cache store backend named by
// db_driver.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/html-cache-renderer/internal/config"
	"github.com/JakeFAU/html-cache-renderer/internal/crawler"
	"github.com/JakeFAU/html-cache-renderer/internal/storage/file"
	"github.com/JakeFAU/html-cache-renderer/internal/storage/gcs"
	"github.com/JakeFAU/html-cache-renderer/internal/storage/memory"
	"github.com/JakeFAU/html-cache-renderer/internal/storage/mongo"
	"github.com/JakeFAU/html-cache-renderer/internal/storage/mysql"
	"github.com/JakeFAU/html-cache-renderer/internal/storage/postgres"
	redisstore "github.com/JakeFAU/html-cache-renderer/internal/storage/redis"
)

// Supported db_driver values.
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverGCS      = "gcs"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverRedis    = "redis"
	DriverMongo    = "mongodb"
)

const (
	defaultPostgresPort = 5432
	defaultRedisPort    = 6379
	defaultMongoPort    = 27017
)

// ErrUnknownDriver is returned for a db_driver outside the supported set.
var ErrUnknownDriver = errors.New("unknown db driver")

// Store is a cache store that owns connections.
type Store interface {
	crawler.CacheStore
	io.Closer
}

// Open connects to the backend selected by cfg.DBDriver. Connection and
// schema failures are returned before any URL is processed.
func Open(ctx context.Context, cfg config.Config, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db := cfg.DB
	driver := strings.ToLower(strings.TrimSpace(cfg.DBDriver))

	var (
		store Store
		err   error
	)
	switch driver {
	case "":
		return nil, fmt.Errorf("%w: db_driver is empty", ErrUnknownDriver)
	case DriverMemory:
		store = memory.NewCacheStore()
	case DriverFile:
		store, err = file.New(file.Config{BaseDir: db.BaseDir})
	case DriverGCS:
		store, err = gcs.Open(ctx, gcs.Config{Bucket: db.Bucket, Prefix: db.Prefix})
	case DriverPostgres:
		store, err = postgres.New(ctx, postgres.Config{
			DSN:      PostgresDSN(db),
			Table:    db.Table,
			MaxConns: int32(db.MaxConns), //nolint:gosec // bounded by config validation
		})
	case DriverMySQL:
		store, err = mysql.New(ctx, mysql.Config{
			Host:     db.Host,
			Port:     db.Port,
			User:     db.User,
			Password: db.Passwd,
			DB:       db.DB,
			Table:    db.Table,
			MaxConns: db.MaxConns,
		})
	case DriverRedis:
		var index int
		index, err = redisDB(db.DB)
		if err != nil {
			return nil, err
		}
		store, err = redisstore.New(ctx, redisstore.Config{
			Address:  hostPort(db.Host, db.Port, defaultRedisPort),
			Password: db.Passwd,
			DB:       index,
			Prefix:   db.Prefix,
		})
	case DriverMongo, "mongo":
		store, err = mongo.New(ctx, mongo.Config{
			URI:        MongoURI(db),
			DB:         db.DB,
			Collection: db.Collection,
		})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.DBDriver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}
	logger.Info("cache store ready", zap.String("driver", driver))
	return store, nil
}

// PostgresDSN returns db.DSN or builds a URL from the discrete fields.
func PostgresDSN(db config.DBConfig) string {
	if db.DSN != "" {
		return db.DSN
	}
	if db.Host == "" {
		return ""
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   hostPort(db.Host, db.Port, defaultPostgresPort),
		Path:   "/" + db.DB,
	}
	if db.User != "" {
		u.User = url.UserPassword(db.User, db.Passwd)
	}
	return u.String()
}

// MongoURI returns db.URI or builds one from the discrete fields.
func MongoURI(db config.DBConfig) string {
	if db.URI != "" {
		return db.URI
	}
	if db.Host == "" {
		return ""
	}
	u := url.URL{Scheme: "mongodb", Host: hostPort(db.Host, db.Port, defaultMongoPort)}
	if db.User != "" && db.Passwd != "" {
		u.User = url.UserPassword(db.User, db.Passwd)
	}
	return u.String()
}

func hostPort(host string, port, fallback int) string {
	if port == 0 {
		port = fallback
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func redisDB(v string) (int, error) {
	if strings.TrimSpace(v) == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("db.db must be a redis database index, got %q", v)
	}
	return n, nil
}
