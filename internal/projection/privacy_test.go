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

func TestUserPrivacyProjectorScopesByFeedAndItem(t *testing.T) {
	client := testdb.NewTestClient(t)
	store := eventlog.New(client.DB())
	ctx := context.Background()

	pipeline := projection.New(client.DB(), store, projection.Config{BatchSize: 100, MaxRetries: 5, PollEvery: time.Minute},
		projection.UserPrivacyProjector{})

	_, err := store.Append(ctx, "user-5", 0, []eventlog.NewEvent{
		{Type: "PrivacyChanged", Payload: mustJSON(t, map[string]any{
			"Scope": "global", "Feed": "", "Item": "", "Level": "private",
		})},
		{Type: "PrivacyChanged", Payload: mustJSON(t, map[string]any{
			"Scope": "feed", "Feed": "feed-9", "Item": "", "Level": "public",
		})},
	}, nil)
	require.NoError(t, err)
	n, err := pipeline.ProcessOnce(ctx, "user_privacy")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var globalLevel, feedLevel string
	require.NoError(t, client.DB().QueryRowContext(ctx, `
		SELECT level FROM user_privacy WHERE user_id = $1 AND scope = 'global' AND subject_id = ''`, "user-5").Scan(&globalLevel))
	require.NoError(t, client.DB().QueryRowContext(ctx, `
		SELECT level FROM user_privacy WHERE user_id = $1 AND scope = 'feed' AND subject_id = $2`, "user-5", "feed-9").Scan(&feedLevel))
	assert.Equal(t, "private", globalLevel)
	assert.Equal(t, "public", feedLevel)
}
