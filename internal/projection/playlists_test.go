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

func TestPlaylistsProjectorTracksSaveAndReorder(t *testing.T) {
	client := testdb.NewTestClient(t)
	store := eventlog.New(client.DB())
	ctx := context.Background()

	pipeline := projection.New(client.DB(), store, projection.Config{BatchSize: 100, MaxRetries: 5, PollEvery: time.Minute},
		projection.PlaylistsProjector{})

	_, err := store.Append(ctx, "user-3", 0, []eventlog.NewEvent{
		{Type: "PlaylistCreated", Payload: mustJSON(t, map[string]any{
			"PlaylistID": "pl-1", "Name": "Commute", "Description": "",
		})},
	}, nil)
	require.NoError(t, err)
	_, err = pipeline.ProcessOnce(ctx, "playlists")
	require.NoError(t, err)

	_, err = store.Append(ctx, "user-3", 1, []eventlog.NewEvent{
		{Type: "EpisodeSaved", Payload: mustJSON(t, map[string]any{
			"Playlist": "pl-1", "Feed": "f1", "Item": "i1", "ItemTitle": "Ep 1", "FeedTitle": "Show",
		})},
		{Type: "EpisodeSaved", Payload: mustJSON(t, map[string]any{
			"Playlist": "pl-1", "Feed": "f1", "Item": "i2", "ItemTitle": "Ep 2", "FeedTitle": "Show",
		})},
	}, nil)
	require.NoError(t, err)
	n, err := pipeline.ProcessOnce(ctx, "playlists")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var count int
	require.NoError(t, client.DB().QueryRowContext(ctx, `SELECT count(*) FROM playlist_items WHERE playlist_id = $1`, "pl-1").Scan(&count))
	assert.Equal(t, 2, count)

	_, err = store.Append(ctx, "user-3", 3, []eventlog.NewEvent{
		{Type: "PlaylistReordered", Payload: mustJSON(t, map[string]any{
			"PlaylistID": "pl-1",
			"Items": []map[string]any{
				{"Feed": "f1", "Item": "i2"},
				{"Feed": "f1", "Item": "i1"},
			},
		})},
	}, nil)
	require.NoError(t, err)
	_, err = pipeline.ProcessOnce(ctx, "playlists")
	require.NoError(t, err)

	var firstItem string
	require.NoError(t, client.DB().QueryRowContext(ctx, `
		SELECT item_id FROM playlist_items WHERE playlist_id = $1 ORDER BY position LIMIT 1`, "pl-1").Scan(&firstItem))
	assert.Equal(t, "i2", firstItem, "reorder must put i2 first")
}
