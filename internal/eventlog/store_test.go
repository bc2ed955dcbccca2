package eventlog_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podsync/syncd/internal/eventlog"
	"github.com/podsync/syncd/internal/testdb"
)

func TestAppendAssignsConsecutiveVersions(t *testing.T) {
	client := testdb.NewTestClient(t)
	store := eventlog.New(client.DB())
	ctx := context.Background()

	records, err := store.Append(ctx, "user-1", 0, []eventlog.NewEvent{
		{Type: "UserSubscribed", Payload: json.RawMessage(`{"feed":"f1"}`)},
		{Type: "UserSubscribed", Payload: json.RawMessage(`{"feed":"f2"}`)},
	}, nil)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 1, records[0].Version)
	assert.Equal(t, 2, records[1].Version)
}

func TestAppendRejectsStaleExpectedVersion(t *testing.T) {
	client := testdb.NewTestClient(t)
	store := eventlog.New(client.DB())
	ctx := context.Background()

	_, err := store.Append(ctx, "user-2", 0, []eventlog.NewEvent{
		{Type: "UserSubscribed", Payload: json.RawMessage(`{"feed":"f1"}`)},
	}, nil)
	require.NoError(t, err)

	_, err = store.Append(ctx, "user-2", 0, []eventlog.NewEvent{
		{Type: "UserSubscribed", Payload: json.RawMessage(`{"feed":"f2"}`)},
	}, nil)
	require.Error(t, err)
	var conflict *eventlog.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, 1, conflict.ActualVersion)
}

func TestReadStreamReturnsVersionOrder(t *testing.T) {
	client := testdb.NewTestClient(t)
	store := eventlog.New(client.DB())
	ctx := context.Background()

	_, err := store.Append(ctx, "user-3", 0, []eventlog.NewEvent{
		{Type: "UserSubscribed", Payload: json.RawMessage(`{"feed":"f1"}`)},
		{Type: "PlayRecorded", Payload: json.RawMessage(`{"item":"i1"}`)},
	}, nil)
	require.NoError(t, err)

	records, err := store.ReadStream(ctx, "user-3")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "UserSubscribed", records[0].Type)
	assert.Equal(t, "PlayRecorded", records[1].Type)
}

func TestReadAllOrdersByGlobalPosition(t *testing.T) {
	client := testdb.NewTestClient(t)
	store := eventlog.New(client.DB())
	ctx := context.Background()

	_, err := store.Append(ctx, "user-4", 0, []eventlog.NewEvent{
		{Type: "UserSubscribed", Payload: json.RawMessage(`{}`)},
	}, nil)
	require.NoError(t, err)
	_, err = store.Append(ctx, "user-5", 0, []eventlog.NewEvent{
		{Type: "UserSubscribed", Payload: json.RawMessage(`{}`)},
	}, nil)
	require.NoError(t, err)

	records, err := store.ReadAll(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.True(t, records[0].GlobalPosition < records[1].GlobalPosition)
}

func TestPruneDeletesUpToCutoffVersion(t *testing.T) {
	client := testdb.NewTestClient(t)
	store := eventlog.New(client.DB())
	ctx := context.Background()

	_, err := store.Append(ctx, "user-6", 0, []eventlog.NewEvent{
		{Type: "UserSubscribed", Payload: json.RawMessage(`{}`)},
		{Type: "PlayRecorded", Payload: json.RawMessage(`{}`)},
		{Type: "PlayRecorded", Payload: json.RawMessage(`{}`)},
	}, nil)
	require.NoError(t, err)

	deleted, err := store.Prune(ctx, "user-6", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	records, err := store.ReadStream(ctx, "user-6")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 3, records[0].Version)
}
