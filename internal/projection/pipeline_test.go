package projection_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podsync/syncd/internal/eventlog"
	"github.com/podsync/syncd/internal/projection"
	"github.com/podsync/syncd/internal/testdb"
)

func TestSubscriptionsProjectorUpsertsAndUnsubscribes(t *testing.T) {
	client := testdb.NewTestClient(t)
	store := eventlog.New(client.DB())
	ctx := context.Background()

	pipeline := projection.New(client.DB(), store, projection.Config{BatchSize: 100, MaxRetries: 5, PollEvery: time.Minute},
		projection.SubscriptionsProjector{})

	subscribedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := store.Append(ctx, "user-1", 0, []eventlog.NewEvent{
		{Type: "UserSubscribed", Payload: mustJSON(t, map[string]any{
			"Feed": "feed-1", "SourceID": "opml", "SubscribedAt": subscribedAt,
		})},
	}, nil)
	require.NoError(t, err)

	n, err := pipeline.ProcessOnce(ctx, "subscriptions")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var sourceID string
	require.NoError(t, client.DB().QueryRowContext(ctx, `SELECT source_id FROM subscriptions WHERE user_id = $1 AND feed_id = $2`, "user-1", "feed-1").Scan(&sourceID))
	assert.Equal(t, "opml", sourceID)

	unsubscribedAt := subscribedAt.Add(time.Hour)
	_, err = store.Append(ctx, "user-1", 1, []eventlog.NewEvent{
		{Type: "UserUnsubscribed", Payload: mustJSON(t, map[string]any{
			"Feed": "feed-1", "SourceID": "opml", "UnsubscribedAt": unsubscribedAt,
		})},
	}, nil)
	require.NoError(t, err)

	n, err = pipeline.ProcessOnce(ctx, "subscriptions")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var hasUnsub bool
	require.NoError(t, client.DB().QueryRowContext(ctx, `SELECT unsubscribed_at IS NOT NULL FROM subscriptions WHERE user_id = $1 AND feed_id = $2`, "user-1", "feed-1").Scan(&hasUnsub))
	assert.True(t, hasUnsub)
}

func TestPlayStatusesProjectorNeverRegressesPosition(t *testing.T) {
	client := testdb.NewTestClient(t)
	store := eventlog.New(client.DB())
	ctx := context.Background()

	pipeline := projection.New(client.DB(), store, projection.Config{BatchSize: 100, MaxRetries: 5, PollEvery: time.Minute},
		projection.PlayStatusesProjector{})

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := store.Append(ctx, "user-2", 0, []eventlog.NewEvent{
		{Type: "PlayRecorded", Payload: mustJSON(t, map[string]any{
			"Feed": "f1", "Item": "i1", "Position": int64(500), "Played": false, "At": now,
		})},
	}, nil)
	require.NoError(t, err)
	_, err = pipeline.ProcessOnce(ctx, "play_statuses")
	require.NoError(t, err)

	_, err = store.Append(ctx, "user-2", 1, []eventlog.NewEvent{
		{Type: "PositionUpdated", Payload: mustJSON(t, map[string]any{
			"Feed": "f1", "Item": "i1", "Position": int64(100), "At": now.Add(time.Minute),
		})},
	}, nil)
	require.NoError(t, err)
	_, err = pipeline.ProcessOnce(ctx, "play_statuses")
	require.NoError(t, err)

	var position int64
	require.NoError(t, client.DB().QueryRowContext(ctx, `SELECT position FROM play_statuses WHERE user_id = $1 AND item_id = $2`, "user-2", "i1").Scan(&position))
	assert.Equal(t, int64(500), position, "a stale position update must not regress progress")
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
