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

func TestPublicActivityProjectorReconcilesOnPrivacyChange(t *testing.T) {
	client := testdb.NewTestClient(t)
	store := eventlog.New(client.DB())
	ctx := context.Background()

	pipeline := projection.New(client.DB(), store, projection.Config{BatchSize: 100, MaxRetries: 5, PollEvery: time.Minute},
		projection.NewPublicActivityProjector(store))

	_, err := store.Append(ctx, "user-6", 0, []eventlog.NewEvent{
		{Type: "UserSubscribed", Payload: mustJSON(t, map[string]any{
			"Feed": "feed-pub", "SourceID": "opml", "SubscribedAt": time.Now().UTC(),
		})},
	}, nil)
	require.NoError(t, err)
	_, err = pipeline.ProcessOnce(ctx, "public_events")
	require.NoError(t, err)

	var count int64
	require.NoError(t, client.DB().QueryRowContext(ctx, `SELECT count(*) FROM public_events WHERE user_id = $1`, "user-6").Scan(&count))
	assert.Equal(t, int64(0), count, "default privacy is private, nothing should be public yet")

	_, err = store.Append(ctx, "user-6", 1, []eventlog.NewEvent{
		{Type: "PrivacyChanged", Payload: mustJSON(t, map[string]any{
			"Scope": "global", "Feed": "", "Item": "", "Level": "public",
		})},
	}, nil)
	require.NoError(t, err)
	_, err = pipeline.ProcessOnce(ctx, "public_events")
	require.NoError(t, err)

	require.NoError(t, client.DB().QueryRowContext(ctx, `SELECT count(*) FROM public_events WHERE user_id = $1`, "user-6").Scan(&count))
	assert.Equal(t, int64(1), count, "reconcile after going public should surface the earlier subscribe")

	var subscriberCount int64
	require.NoError(t, client.DB().QueryRowContext(ctx, `SELECT subscriber_count FROM feed_popularity WHERE feed_id = $1`, "feed-pub").Scan(&subscriberCount))
	assert.Equal(t, int64(1), subscriberCount)
}
