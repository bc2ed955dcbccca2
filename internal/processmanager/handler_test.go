package processmanager_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podsync/syncd/internal/aggregate"
	"github.com/podsync/syncd/internal/dispatcher"
	"github.com/podsync/syncd/internal/eventlog"
	"github.com/podsync/syncd/internal/processmanager"
	"github.com/podsync/syncd/internal/testdb"
)

func TestHandlerCreatesDefaultCollectionOnFirstSubscribe(t *testing.T) {
	client := testdb.NewTestClient(t)
	store := eventlog.New(client.DB())
	d := dispatcher.New(store, nil, dispatcher.DefaultConfig())
	ctx := context.Background()

	subscribedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := store.Append(ctx, "user-1", 0, []eventlog.NewEvent{
		{Type: "UserSubscribed", Payload: mustJSON(t, map[string]any{
			"Feed": "feed-1", "SourceID": "manual", "SubscribedAt": subscribedAt,
		})},
	}, nil)
	require.NoError(t, err)

	h := processmanager.New(client.DB(), store, d, processmanager.Config{BatchSize: 100, PollEvery: time.Minute})
	// The UserSubscribed plus the CollectionCreated and FeedAddedToCollection
	// events the handler itself appends, which ProcessOnce also drains.
	n, err := h.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	records, err := store.ReadStream(ctx, "user-1")
	require.NoError(t, err)

	var sawCreate, sawAdd bool
	for _, rec := range records {
		switch rec.Type {
		case "CollectionCreated":
			sawCreate = true
		case "FeedAddedToCollection":
			sawAdd = true
		}
	}
	assert.True(t, sawCreate, "expected a CollectionCreated event for the default collection")
	assert.True(t, sawAdd, "expected a FeedAddedToCollection event linking the subscribed feed")
	assert.NotEmpty(t, processmanager.DefaultCollectionID("user-1"))

	// A second subscribe must reuse the existing default collection rather
	// than erroring out on ErrDefaultCollectionExists. It goes through the
	// dispatcher, the stream's single writer, so the actor's cached state
	// knows feed-2 when the handler adds it to the collection.
	_, err = d.Dispatch(ctx, "user-1", aggregate.Subscribe{
		Feed: "feed-2", SourceID: "manual", SubscribedAt: &subscribedAt,
	}, aggregate.EventInfos{})
	require.NoError(t, err)

	// The UserSubscribed plus the handler's own FeedAddedToCollection.
	n, err = h.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	records, err = store.ReadStream(ctx, "user-1")
	require.NoError(t, err)
	createCount := 0
	for _, rec := range records {
		if rec.Type == "CollectionCreated" {
			createCount++
		}
	}
	assert.Equal(t, 1, createCount, "the default collection must only be created once")
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
