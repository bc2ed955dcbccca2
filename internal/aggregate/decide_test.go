package aggregate

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecideSubscribeUnsubscribe(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New("u1")

	events, err := Decide(s, Subscribe{Feed: "feed1", SourceID: "opml"}, now)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventUserSubscribed, events[0].Type)

	s = Apply(s, events[0])
	assert.True(t, s.Subscriptions["feed1"].Active())

	events, err = Decide(s, Unsubscribe{Feed: "feed1"}, now.Add(time.Hour))
	require.NoError(t, err)
	s = Apply(s, events[0])
	assert.False(t, s.Subscriptions["feed1"].Active())
}

func TestDecideRecordPlayRejectsNegativePosition(t *testing.T) {
	s := New("u1")
	_, err := Decide(s, RecordPlay{Feed: "f", Item: "i", Position: -1}, time.Now())
	require.Error(t, err)
	var domainErr *DomainError
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, ErrInvalidPosition, domainErr.Kind)
}

func TestDecideUpdatePositionPreservesPlayedFlag(t *testing.T) {
	now := time.Now()
	s := New("u1")
	events, _ := Decide(s, RecordPlay{Feed: "f", Item: "i", Position: 10, Played: true}, now)
	s = Apply(s, events[0])

	events, err := Decide(s, UpdatePosition{Feed: "f", Item: "i", Position: 20}, now.Add(time.Minute))
	require.NoError(t, err)
	s = Apply(s, events[0])
	assert.Equal(t, int64(20), s.PlayStatuses["i"].Position)
	assert.True(t, s.PlayStatuses["i"].Played)
}

func TestDecideCreateCollectionRejectsEmptyTitle(t *testing.T) {
	s := New("u1")
	_, err := Decide(s, CreateCollection{Title: "  "}, time.Now())
	require.Error(t, err)
	var domainErr *DomainError
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, ErrEmptyTitle, domainErr.Kind)
}

func TestDecideCreateCollectionRejectsSecondDefault(t *testing.T) {
	now := time.Now()
	s := New("u1")
	events, err := Decide(s, CreateCollection{CollectionID: "c1", Title: "Default", IsDefault: true}, now)
	require.NoError(t, err)
	s = Apply(s, events[0])

	_, err = Decide(s, CreateCollection{CollectionID: "c2", Title: "Other Default", IsDefault: true}, now)
	require.Error(t, err)
	var domainErr *DomainError
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, ErrDefaultCollectionExists, domainErr.Kind)
}

func TestDecideCreateCollectionRejectsDuplicateSlug(t *testing.T) {
	now := time.Now()
	s := New("u1")
	events, err := Decide(s, CreateCollection{CollectionID: "c1", Title: "Tech"}, now)
	require.NoError(t, err)
	s = Apply(s, events[0])

	_, err = Decide(s, CreateCollection{CollectionID: "c2", Title: "tech"}, now)
	require.Error(t, err)
	var domainErr *DomainError
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, ErrDuplicateSlug, domainErr.Kind)
}

func TestDecideCreateCollectionIsIdempotentByID(t *testing.T) {
	now := time.Now()
	s := New("u1")
	events, err := Decide(s, CreateCollection{CollectionID: "c1", Title: "Tech"}, now)
	require.NoError(t, err)
	s = Apply(s, events[0])

	events, err = Decide(s, CreateCollection{CollectionID: "c1", Title: "Tech"}, now)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestDecideDeleteCollectionRejectsDefault(t *testing.T) {
	now := time.Now()
	s := New("u1")
	events, _ := Decide(s, CreateCollection{CollectionID: "c1", Title: "Default", IsDefault: true}, now)
	s = Apply(s, events[0])

	_, err := Decide(s, DeleteCollection{CollectionID: "c1"}, now)
	require.Error(t, err)
	var domainErr *DomainError
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, ErrCannotDeleteDefault, domainErr.Kind)
}

func TestDecideAddFeedToCollectionRequiresSubscription(t *testing.T) {
	now := time.Now()
	s := New("u1")
	events, _ := Decide(s, CreateCollection{CollectionID: "c1", Title: "Tech"}, now)
	s = Apply(s, events[0])

	_, err := Decide(s, AddFeedToCollection{CollectionID: "c1", Feed: "feed1"}, now)
	require.Error(t, err)
	var domainErr *DomainError
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, ErrFeedNotSubscribed, domainErr.Kind)

	subEvents, _ := Decide(s, Subscribe{Feed: "feed1"}, now)
	s = Apply(s, subEvents[0])
	events, err = Decide(s, AddFeedToCollection{CollectionID: "c1", Feed: "feed1"}, now)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestDecideUpdatePlaylistRejectsMissingAndEmptyTitle(t *testing.T) {
	now := time.Now()
	s := New("u1")
	name := ""
	_, err := Decide(s, UpdatePlaylist{PlaylistID: "missing", Name: &name}, now)
	require.Error(t, err)
	var domainErr *DomainError
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, ErrPlaylistNotFound, domainErr.Kind)

	events, _ := Decide(s, CreatePlaylist{PlaylistID: "p1", Name: "Listen Later"}, now)
	s = Apply(s, events[0])

	_, err = Decide(s, UpdatePlaylist{PlaylistID: "p1", Name: &name}, now)
	require.Error(t, err)
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, ErrEmptyTitle, domainErr.Kind)
}

func TestDecideChangePrivacyValidatesLevel(t *testing.T) {
	s := New("u1")
	_, err := Decide(s, ChangePrivacy{Scope: ScopeGlobal, Level: "bogus"}, time.Now())
	require.Error(t, err)
	var domainErr *DomainError
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, ErrInvalidPrivacyLevel, domainErr.Kind)
}

func TestDecideSyncSubscriptionPrefersLocalWhenNewer(t *testing.T) {
	now := time.Now()
	s := New("u1")
	events, _ := Decide(s, Subscribe{Feed: "feed1", SourceID: "server"}, now)
	s = Apply(s, events[0])

	newer := now.Add(time.Hour)
	events, err := Decide(s, Sync{
		LocalSubscriptions: map[string]Subscription{
			"feed2": {Feed: "feed2", SourceID: "device", SubscribedAt: newer},
		},
	}, now)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventUserSubscribed, events[0].Type)
}

func TestDecideSnapshotProducesCheckpoint(t *testing.T) {
	now := time.Now()
	s := New("u1")
	events, _ := Decide(s, Subscribe{Feed: "feed1"}, now)
	s = Apply(s, events[0])

	events, err := Decide(s, Snapshot{}, now)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventUserCheckpoint, events[0].Type)
	payload := events[0].Payload.(UserCheckpointPayload)
	assert.Contains(t, payload.Subscriptions, "feed1")
}
