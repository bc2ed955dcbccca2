package conflict

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ts(minutesFromEpoch int) time.Time {
	return time.Date(2026, 1, 1, 0, minutesFromEpoch, 0, 0, time.UTC)
}

func TestResolveSubscriptionNewerWins(t *testing.T) {
	local := Subscription{SubscribedAt: ts(10)}
	remote := Subscription{SubscribedAt: ts(5)}
	winner, resolution, info := ResolveSubscription(local, remote)
	assert.Equal(t, local, winner)
	assert.Equal(t, LocalWins, resolution)
	assert.NotNil(t, info)
}

func TestResolveSubscriptionTieBreaksTowardSubscribedSide(t *testing.T) {
	// Both effective at the same instant: local is subscribed (no unsubscribe),
	// remote was subscribed-then-unsubscribed at the same timestamp. Tie
	// should favor whichever side is currently active.
	at := ts(10)
	local := Subscription{SubscribedAt: at}
	remote := Subscription{SubscribedAt: ts(1), UnsubscribedAt: at}
	winner, resolution, info := ResolveSubscription(local, remote)
	assert.Equal(t, local, winner)
	assert.Equal(t, Merged, resolution)
	assert.NotNil(t, info)
}

func TestResolvePlayPositionLocalResetAlwaysWins(t *testing.T) {
	local := PlayPosition{Position: 0, Reset: true, UpdatedAt: ts(1)}
	remote := PlayPosition{Position: 500, UpdatedAt: ts(100)}
	winner, resolution, _ := ResolvePlayPosition(local, remote)
	assert.Equal(t, local, winner)
	assert.Equal(t, LocalWins, resolution)
}

func TestResolvePlayPositionHigherProgressWins(t *testing.T) {
	local := PlayPosition{Position: 300, UpdatedAt: ts(1)}
	remote := PlayPosition{Position: 120, UpdatedAt: ts(50)}
	winner, resolution, _ := ResolvePlayPosition(local, remote)
	assert.Equal(t, local, winner)
	assert.Equal(t, LocalWins, resolution)
}

func TestResolvePlayPositionPlayedFlagBeatsPosition(t *testing.T) {
	local := PlayPosition{Position: 10, Played: true, UpdatedAt: ts(1)}
	remote := PlayPosition{Position: 900, Played: false, UpdatedAt: ts(50)}
	winner, resolution, _ := ResolvePlayPosition(local, remote)
	assert.Equal(t, local, winner)
	assert.Equal(t, LocalWins, resolution)
}

func TestResolvePlayPositionEqualFallsBackToNoConflict(t *testing.T) {
	same := PlayPosition{Position: 100, UpdatedAt: ts(5)}
	_, resolution, info := ResolvePlayPosition(same, same)
	assert.Equal(t, NoConflict, resolution)
	assert.Nil(t, info)
}

func TestResolvePlaylistUnionWithoutBase(t *testing.T) {
	local := PlaylistSnapshot{
		Meta:  PlaylistMeta{Name: "Mix", UpdatedAt: ts(1)},
		Items: map[PlaylistItemKey]int{{Feed: "f1", Item: "i1"}: 0},
	}
	remote := PlaylistSnapshot{
		Meta:  PlaylistMeta{Name: "Mix", UpdatedAt: ts(1)},
		Items: map[PlaylistItemKey]int{{Feed: "f2", Item: "i2"}: 0},
	}
	_, items, resolution, info := ResolvePlaylist(local, remote, nil)
	assert.Equal(t, Merged, resolution)
	assert.NotNil(t, info)
	assert.Len(t, items, 2)
}

func TestResolvePlaylistRemovalRespectsBase(t *testing.T) {
	keyA := PlaylistItemKey{Feed: "f1", Item: "i1"}
	keyB := PlaylistItemKey{Feed: "f2", Item: "i2"}
	base := PlaylistSnapshot{Items: map[PlaylistItemKey]int{keyA: 0, keyB: 1}}
	// local removed keyA; remote still has both.
	local := PlaylistSnapshot{Items: map[PlaylistItemKey]int{keyB: 0}}
	remote := PlaylistSnapshot{Items: map[PlaylistItemKey]int{keyA: 0, keyB: 1}}
	_, items, _, _ := ResolvePlaylist(local, remote, &base)
	assert.Equal(t, []PlaylistItemKey{keyB}, items)
}

func TestResolvePlaylistOrdersByOriginalPosition(t *testing.T) {
	keyA := PlaylistItemKey{Feed: "f1", Item: "i1"}
	keyB := PlaylistItemKey{Feed: "f2", Item: "i2"}
	keyC := PlaylistItemKey{Feed: "f3", Item: "i3"}
	local := PlaylistSnapshot{Items: map[PlaylistItemKey]int{keyC: 2, keyA: 0}}
	remote := PlaylistSnapshot{Items: map[PlaylistItemKey]int{keyB: 1}}
	_, items, _, _ := ResolvePlaylist(local, remote, nil)
	assert.Equal(t, []PlaylistItemKey{keyA, keyB, keyC}, items)
}

func TestResolvePrivacyNewerWins(t *testing.T) {
	local := PrivacyValue{Level: "public", UpdatedAt: ts(10)}
	remote := PrivacyValue{Level: "private", UpdatedAt: ts(1)}
	winner, resolution, _ := ResolvePrivacy(local, remote)
	assert.Equal(t, local, winner)
	assert.Equal(t, LocalWins, resolution)
}
