package projection_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podsync/syncd/internal/eventlog"
	"github.com/podsync/syncd/internal/projection"
	"github.com/podsync/syncd/internal/testdb"
)

func TestCollectionsProjectorAddsFeedsAndSoftDeletes(t *testing.T) {
	client := testdb.NewTestClient(t)
	store := eventlog.New(client.DB())
	ctx := context.Background()

	pipeline := projection.New(client.DB(), store, projection.Config{BatchSize: 100, MaxRetries: 5, PollEvery: time.Minute},
		projection.CollectionsProjector{})

	_, err := store.Append(ctx, "user-4", 0, []eventlog.NewEvent{
		{Type: "CollectionCreated", Payload: mustJSON(t, map[string]any{
			"CollectionID": "col-1", "Title": "Tech", "IsDefault": false, "Description": "", "Color": "",
		})},
	}, nil)
	require.NoError(t, err)
	_, err = pipeline.ProcessOnce(ctx, "collections")
	require.NoError(t, err)

	_, err = store.Append(ctx, "user-4", 1, []eventlog.NewEvent{
		{Type: "FeedAddedToCollection", Payload: mustJSON(t, map[string]any{
			"CollectionID": "col-1", "Feed": "feed-a",
		})},
	}, nil)
	require.NoError(t, err)
	_, err = pipeline.ProcessOnce(ctx, "collections")
	require.NoError(t, err)

	var feedCount int
	require.NoError(t, client.DB().QueryRowContext(ctx, `SELECT count(*) FROM collection_feeds WHERE collection_id = $1`, "col-1").Scan(&feedCount))
	assert.Equal(t, 1, feedCount)

	_, err = store.Append(ctx, "user-4", 2, []eventlog.NewEvent{
		{Type: "CollectionDeleted", Payload: mustJSON(t, map[string]any{"CollectionID": "col-1"})},
	}, nil)
	require.NoError(t, err)
	_, err = pipeline.ProcessOnce(ctx, "collections")
	require.NoError(t, err)

	var deleted bool
	require.NoError(t, client.DB().QueryRowContext(ctx, `SELECT deleted FROM collections WHERE collection_id = $1`, "col-1").Scan(&deleted))
	assert.True(t, deleted)
}
