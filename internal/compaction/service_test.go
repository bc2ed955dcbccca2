package compaction

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podsync/syncd/internal/dispatcher"
	"github.com/podsync/syncd/internal/eventlog"
	"github.com/podsync/syncd/internal/testdb"
)

func TestCompactUserCheckpointsAndPrunesOnlyProjectedEvents(t *testing.T) {
	client := testdb.NewTestClient(t)
	store := eventlog.New(client.DB())
	d := dispatcher.New(store, nil, dispatcher.DefaultConfig())
	ctx := context.Background()

	subscribedAt := time.Now().UTC()
	_, err := store.Append(ctx, "user-1", 0, []eventlog.NewEvent{
		{Type: "UserSubscribed", Payload: mustJSON(t, map[string]any{
			"Feed": "feed-1", "SourceID": "manual", "SubscribedAt": subscribedAt,
		})},
	}, nil)
	require.NoError(t, err)

	// The safety floor is min(projector_checkpoints.position); with no
	// projectors registered yet, nothing is eligible to prune. svc.now is
	// pushed ahead of the event's real wall-clock recorded_at so the
	// checkpoint threshold is crossed without waiting in real time.
	svc := New(client.DB(), d, store, Config{
		Interval:        time.Hour,
		CheckpointAfter: 24 * time.Hour,
		PruneAfter:      time.Hour,
	})
	svc.now = func() time.Time { return time.Now().UTC().Add(48 * time.Hour) }

	svc.runAll(ctx)

	records, err := store.ReadStream(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, records, 1, "nothing should be checkpointed until a projector checkpoint clears the safety floor")

	// Register a checkpoint row that has already consumed this event, then
	// sweep again: now the snapshot/prune cycle should run.
	_, err = client.DB().ExecContext(ctx, `INSERT INTO projector_checkpoints (name, position) VALUES ('subscriptions', $1)`, records[0].GlobalPosition)
	require.NoError(t, err)

	svc.runAll(ctx)

	records, err = store.ReadStream(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, records, 1, "the original event should be pruned, leaving only the checkpoint")
	assert.Equal(t, "UserCheckpoint", records[0].Type)
}

func TestCompactUserPrunesOnlyEventsOlderThanPruneCutoff(t *testing.T) {
	client := testdb.NewTestClient(t)
	store := eventlog.New(client.DB())
	d := dispatcher.New(store, nil, dispatcher.DefaultConfig())
	ctx := context.Background()

	_, err := store.Append(ctx, "user-2", 0, []eventlog.NewEvent{
		{Type: "UserSubscribed", Payload: mustJSON(t, map[string]any{
			"Feed": "feed-old", "SourceID": "manual", "SubscribedAt": time.Now().UTC(),
		})},
	}, nil)
	require.NoError(t, err)

	time.Sleep(1200 * time.Millisecond)

	_, err = store.Append(ctx, "user-2", 1, []eventlog.NewEvent{
		{Type: "UserSubscribed", Payload: mustJSON(t, map[string]any{
			"Feed": "feed-new", "SourceID": "manual", "SubscribedAt": time.Now().UTC(),
		})},
	}, nil)
	require.NoError(t, err)

	records, err := store.ReadStream(ctx, "user-2")
	require.NoError(t, err)
	require.Len(t, records, 2)
	oldRecordedAt := records[0].RecordedAt
	newRecordedAt := records[1].RecordedAt

	// Both events are already consumed by the "subscriptions" projector, so
	// the only thing that should still gate pruning is event age.
	_, err = client.DB().ExecContext(ctx, `INSERT INTO projector_checkpoints (name, position) VALUES ('subscriptions', $1)`, records[1].GlobalPosition)
	require.NoError(t, err)

	midpoint := oldRecordedAt.Add(newRecordedAt.Sub(oldRecordedAt) / 2)
	fixedNow := newRecordedAt.Add(time.Hour)

	svc := New(client.DB(), d, store, Config{
		Interval:        time.Hour,
		CheckpointAfter: fixedNow.Sub(oldRecordedAt) - time.Hour, // both events are old enough to make the stream eligible
		PruneAfter:      fixedNow.Sub(midpoint),                  // cutoff falls strictly between the two events
	})
	svc.now = func() time.Time { return fixedNow }

	svc.runAll(ctx)

	records, err = store.ReadStream(ctx, "user-2")
	require.NoError(t, err)
	require.Len(t, records, 2, "the recent event must survive alongside the checkpoint")

	var sawCheckpoint, sawNewSubscribe bool
	for _, r := range records {
		switch r.Type {
		case "UserCheckpoint":
			sawCheckpoint = true
		case "UserSubscribed":
			sawNewSubscribe = true
			assert.Equal(t, newRecordedAt, r.RecordedAt, "the surviving raw event must be the recent one, not the old one")
		}
	}
	assert.True(t, sawCheckpoint)
	assert.True(t, sawNewSubscribe)
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
