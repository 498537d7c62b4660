package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New(nil)
	id1, err := pub.Publish(context.Background(), "renders", map[string]string{"hash": "abc"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "renders-b", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "renders", msgs[0].Topic)
	require.Equal(t, "renders-b", msgs[1].Topic)

	msgs[0].Topic = "modified"
	require.NotEqual(t, "modified", pub.Messages()[0].Topic, "Messages() must return a copy")
	require.NoError(t, pub.Close())
}

func TestPublisherLogsAtDebug(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	pub := New(zap.New(core))
	_, err := pub.Publish(context.Background(), "renders", "x")
	require.NoError(t, err)

	entries := logs.FilterMessage("cache update recorded").All()
	require.Len(t, entries, 1)
	require.Equal(t, "renders", entries[0].ContextMap()["topic"])
}
