package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/html-cache-renderer/internal/crawler"
)

var renderColumns = []string{"id", "hash", "url", "render_date", "lastmod_date", "content_hash", "content"}

func newMockStore(t *testing.T) (*CacheStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewWithPool(mock, "")
	require.NoError(t, err)
	return store, mock
}

func TestNewWithPoolRejectsBadTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "renders; DROP TABLE x")
	require.Error(t, err)
	_, err = NewWithPool(nil, "renders")
	require.Error(t, err)
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS renders")).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByHashReturnsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	rendered := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	lastmod := time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT id, hash, url").
		WithArgs("abc").
		WillReturnRows(pgxmock.NewRows(renderColumns).
			AddRow(int64(42), "abc", "https://example.com/a", rendered, lastmod, "ch", []byte("<html/>")))

	rec, err := store.FindByHash(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, &crawler.CacheRecord{
		ID:               "42",
		URLHash:          "abc",
		URL:              "https://example.com/a",
		RenderedAt:       rendered,
		SourceModifiedAt: lastmod,
		ContentHash:      "ch",
		Content:          []byte("<html/>"),
	}, rec)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByHashMissingReturnsNil(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id, hash, url").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	rec, err := store.FindByHash(context.Background(), "missing")
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestFindByHashPropagatesErrors(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id, hash, url").
		WithArgs("abc").
		WillReturnError(errors.New("connection reset"))

	_, err := store.FindByHash(context.Background(), "abc")
	require.ErrorContains(t, err, "connection reset")
}

func TestSaveUpserts(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	rec := crawler.CacheRecord{
		URLHash:          "abc",
		URL:              "https://example.com/a",
		RenderedAt:       time.Unix(1700000000, 0).UTC(),
		SourceModifiedAt: time.Unix(1690000000, 0).UTC(),
		ContentHash:      "ch",
		Content:          []byte("<html/>"),
	}

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (hash) DO UPDATE")).
		WithArgs(rec.URLHash, rec.URL, rec.RenderedAt, rec.SourceModifiedAt, rec.ContentHash, rec.Content).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))

	ok, err := store.Save(context.Background(), rec)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveWithoutReturnedRowIsNotAcknowledged(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("INSERT INTO renders").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)

	ok, err := store.Save(context.Background(), crawler.CacheRecord{URLHash: "abc"})
	require.NoError(t, err)
	require.False(t, ok)
}
