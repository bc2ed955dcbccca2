package dispatcher_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podsync/syncd/internal/aggregate"
	"github.com/podsync/syncd/internal/dispatcher"
	"github.com/podsync/syncd/internal/eventlog"
	"github.com/podsync/syncd/internal/testdb"
)

func TestDispatchAppliesCommandAndPersists(t *testing.T) {
	client := testdb.NewTestClient(t)
	store := eventlog.New(client.DB())
	d := dispatcher.New(store, nil, dispatcher.DefaultConfig())
	ctx := context.Background()

	records, err := d.Dispatch(ctx, "user-1", aggregate.Subscribe{Feed: "feed1", SourceID: "opml"}, aggregate.EventInfos{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "UserSubscribed", records[0].Type)
	assert.Equal(t, 1, records[0].Version)
}

func TestDispatchRejectsInvalidCommand(t *testing.T) {
	client := testdb.NewTestClient(t)
	store := eventlog.New(client.DB())
	d := dispatcher.New(store, nil, dispatcher.DefaultConfig())
	ctx := context.Background()

	_, err := d.Dispatch(ctx, "user-2", aggregate.RecordPlay{Feed: "f", Item: "i", Position: -5}, aggregate.EventInfos{})
	require.Error(t, err)
	var domainErr *aggregate.DomainError
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, aggregate.ErrInvalidPosition, domainErr.Kind)
}

func TestDispatchSerializesConcurrentCommandsForSameUser(t *testing.T) {
	client := testdb.NewTestClient(t)
	store := eventlog.New(client.DB())
	d := dispatcher.New(store, nil, dispatcher.DefaultConfig())
	ctx := context.Background()

	// No more commands than the actor's inbox holds (8), so none is turned
	// away with InfraBusy.
	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := d.Dispatch(ctx, "user-3", aggregate.RecordPlay{
				Feed: "f", Item: "i", Position: int64(i),
			}, aggregate.EventInfos{})
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	records, err := store.ReadStream(ctx, "user-3")
	require.NoError(t, err)
	require.Len(t, records, n)
	for i, rec := range records {
		assert.Equal(t, i+1, rec.Version)
	}
}

func TestDispatchTimesOutWhenDeadlineExceeded(t *testing.T) {
	client := testdb.NewTestClient(t)
	store := eventlog.New(client.DB())
	d := dispatcher.New(store, nil, dispatcher.Config{MaxRetries: 3, DefaultDeadline: 5 * time.Second, ActorIdleTTL: time.Minute})
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	_, err := d.Dispatch(ctx, "user-4", aggregate.Subscribe{Feed: "f"}, aggregate.EventInfos{})
	require.Error(t, err)
	var infraErr *dispatcher.InfrastructureError
	require.True(t, errors.As(err, &infraErr))
	assert.Equal(t, dispatcher.InfraTimeout, infraErr.Kind)
}

func TestDispatchReturnsInfrastructureConflictWhenRetriesExhausted(t *testing.T) {
	client := testdb.NewTestClient(t)
	store := eventlog.New(client.DB())
	d := dispatcher.New(store, nil, dispatcher.Config{MaxRetries: 0, DefaultDeadline: 5 * time.Second, ActorIdleTTL: time.Minute})
	ctx := context.Background()

	_, err := d.Dispatch(ctx, "user-5", aggregate.Subscribe{Feed: "feed1", SourceID: "opml"}, aggregate.EventInfos{})
	require.NoError(t, err)

	// Simulate a writer appending behind the dispatcher's cached state (e.g.
	// a process restart reusing the same stream), so its next append will
	// observe a stale expected version.
	_, err = store.Append(ctx, "user-5", 1, []eventlog.NewEvent{
		{Type: "UserUnsubscribed", Payload: mustJSON(t, map[string]any{
			"Feed": "feed1", "SourceID": "opml", "UnsubscribedAt": time.Now().UTC(),
		})},
	}, nil)
	require.NoError(t, err)

	_, err = d.Dispatch(ctx, "user-5", aggregate.Subscribe{Feed: "feed2", SourceID: "opml"}, aggregate.EventInfos{})
	require.Error(t, err)
	var infraErr *dispatcher.InfrastructureError
	require.True(t, errors.As(err, &infraErr))
	assert.Equal(t, dispatcher.InfraConflict, infraErr.Kind)
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
