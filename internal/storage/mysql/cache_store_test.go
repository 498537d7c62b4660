package mysql

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/html-cache-renderer/internal/crawler"
)

func newMockStore(t *testing.T) (*CacheStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewWithDB(sqlx.NewDb(db, "mysql"), "")
	require.NoError(t, err)
	return store, mock
}

func TestConfigDSN(t *testing.T) {
	t.Parallel()

	dsn := Config{Host: "db.local", User: "cache", Password: "secret", DB: "html"}.DSN()
	require.Contains(t, dsn, "cache:secret@tcp(db.local:3306)/html")
	require.Contains(t, dsn, "parseTime=true")
	require.Contains(t, dsn, "clientFoundRows=true")

	anon := Config{Host: "db.local", Port: 3307, User: "cache", DB: "html"}.DSN()
	require.Contains(t, anon, "tcp(db.local:3307)/html")
	require.NotContains(t, anon, "cache@")
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS `renders`")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByHash(t *testing.T) {
	t.Parallel()

	rendered := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	lastmod := time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC)

	testCases := []struct {
		name    string
		setup   func(sqlmock.Sqlmock)
		want    *crawler.CacheRecord
		wantErr bool
	}{
		{
			name: "returns row",
			setup: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows([]string{"id", "hash", "url", "renderDate", "lastmodDate", "contentHash", "content"}).
					AddRow(int64(3), "abc", "https://example.com/a", rendered, lastmod, "ch", []byte("<html/>"))
				mock.ExpectQuery("SELECT (.+) FROM `renders` WHERE `hash` = \\?").
					WithArgs("abc").
					WillReturnRows(rows)
			},
			want: &crawler.CacheRecord{
				ID:               "3",
				URLHash:          "abc",
				URL:              "https://example.com/a",
				RenderedAt:       rendered,
				SourceModifiedAt: lastmod,
				ContentHash:      "ch",
				Content:          []byte("<html/>"),
			},
		},
		{
			name: "missing row is nil",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT (.+) FROM `renders`").
					WithArgs("abc").
					WillReturnError(sql.ErrNoRows)
			},
		},
		{
			name: "driver error",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT (.+) FROM `renders`").
					WithArgs("abc").
					WillReturnError(sql.ErrConnDone)
			},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			store, mock := newMockStore(t)
			tc.setup(mock)

			got, err := store.FindByHash(context.Background(), "abc")
			if tc.wantErr {
				require.ErrorIs(t, err, sql.ErrConnDone)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSaveUpsertsOnHash(t *testing.T) {
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

	mock.ExpectExec(regexp.QuoteMeta("ON DUPLICATE KEY UPDATE")).
		WithArgs(rec.URLHash, rec.URL, rec.RenderedAt, rec.SourceModifiedAt, rec.ContentHash, rec.Content).
		WillReturnResult(sqlmock.NewResult(1, 2))

	ok, err := store.Save(context.Background(), rec)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveWithNoAffectedRowsIsNotAcknowledged(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO `renders`").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.Save(context.Background(), crawler.CacheRecord{URLHash: "abc"})
	require.NoError(t, err)
	require.False(t, ok)
}
