package mongo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/JakeFAU/html-cache-renderer/internal/crawler"
)

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{DB: "cache"})
	require.ErrorContains(t, err, "db.uri")
	_, err = New(context.Background(), Config{URI: "mongodb://localhost:27017"})
	require.ErrorContains(t, err, "db.db")
}

func TestUpdateDocumentSetsEveryField(t *testing.T) {
	t.Parallel()

	rendered := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	doc := updateDocument(crawler.CacheRecord{
		ID:          "ignored",
		URLHash:     "abc",
		URL:         "https://example.com/a",
		RenderedAt:  rendered,
		ContentHash: "ch",
	})

	require.Len(t, doc, 1)
	require.Equal(t, "$set", doc[0].Key)
	set, ok := doc[0].Value.(bson.D)
	require.True(t, ok)

	got := map[string]any{}
	for _, e := range set {
		got[e.Key] = e.Value
	}
	require.NotContains(t, got, "_id")
	require.Equal(t, "abc", got["hash"])
	require.Equal(t, rendered, got["renderDate"])
	require.Equal(t, []byte{}, got["content"])
}

func TestDocumentRoundTripThroughBSON(t *testing.T) {
	t.Parallel()

	id := bson.NewObjectID()
	in := renderDocument{
		ID:          id,
		Hash:        "abc",
		URL:         "https://example.com/a",
		RenderDate:  time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		LastmodDate: time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC),
		ContentHash: "ch",
		Content:     []byte("<html/>"),
	}
	raw, err := bson.Marshal(in)
	require.NoError(t, err)

	var out renderDocument
	require.NoError(t, bson.Unmarshal(raw, &out))

	rec := out.record()
	require.Equal(t, id.Hex(), rec.ID)
	require.Equal(t, "abc", rec.URLHash)
	require.True(t, rec.RenderedAt.Equal(in.RenderDate))
	require.Equal(t, []byte("<html/>"), rec.Content)
}
