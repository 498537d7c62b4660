package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/html-cache-renderer/internal/crawler"
)

func TestCacheStoreUpsertIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewCacheStore()
	rec := crawler.CacheRecord{
		URLHash:     "abc",
		URL:         "https://x/a",
		RenderedAt:  time.Unix(10, 0).UTC(),
		ContentHash: "h",
		Content:     []byte("<html></html>"),
	}

	ok, err := store.Save(ctx, rec)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = store.Save(ctx, rec)
	require.NoError(t, err)
	require.True(t, ok)

	require.Equal(t, 1, store.Len())
	require.Equal(t, 2, store.Saves())

	got, err := store.FindByHash(ctx, "abc")
	require.NoError(t, err)
	require.Equal(t, "1", got.ID)
	require.Equal(t, rec.Content, got.Content)
}

func TestCacheStoreFindMissing(t *testing.T) {
	t.Parallel()

	got, err := NewCacheStore().FindByHash(context.Background(), "missing")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestCacheStoreReturnsCopies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewCacheStore()
	content := []byte("abc")
	_, err := store.Save(ctx, crawler.CacheRecord{URLHash: "k", Content: content})
	require.NoError(t, err)
	content[0] = 'z'

	got, err := store.FindByHash(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), got.Content)
	got.Content[0] = 'y'

	again, err := store.FindByHash(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), again.Content)
}
