package gcs

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/html-cache-renderer/internal/crawler"
)

func newOfflineClient(t *testing.T) *storage.Client {
	t.Helper()
	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.ErrorContains(t, err, "client")

	_, err = New(newOfflineClient(t), Config{})
	require.ErrorContains(t, err, "bucket")
}

func TestObjectName(t *testing.T) {
	t.Parallel()

	client := newOfflineClient(t)

	plain, err := New(client, Config{Bucket: "b"})
	require.NoError(t, err)
	require.Equal(t, "abc.json", plain.ObjectName("abc"))

	prefixed, err := New(client, Config{Bucket: "b", Prefix: "/renders/"})
	require.NoError(t, err)
	require.Equal(t, "renders/abc.json", prefixed.ObjectName("abc"))
}

func TestSaveRequiresHash(t *testing.T) {
	t.Parallel()

	store, err := New(newOfflineClient(t), Config{Bucket: "b"})
	require.NoError(t, err)
	_, err = store.Save(context.Background(), crawlerRecordWithoutHash())
	require.ErrorContains(t, err, "hash is required")
	require.NoError(t, store.Close())
}

func crawlerRecordWithoutHash() crawler.CacheRecord {
	return crawler.CacheRecord{URL: "https://example.com"}
}
