// Package conflict implements the pure merge functions C3 uses to reconcile
// a device's local view of subscriptions, play positions, playlists, and
// privacy against the server's current state during a Sync command. Every
// function here is side-effect free and takes an injected "now" nowhere —
// resolution only ever compares timestamps already present in its inputs.
package conflict

import "time"

// Resolution names which side won a merge, or that the merge produced a
// genuinely blended result.
type Resolution string

const (
	LocalWins  Resolution = "local_wins"
	RemoteWins Resolution = "remote_wins"
	Merged     Resolution = "merged"
	NoConflict Resolution = "no_conflict"
)

// ConflictType distinguishes which domain concept a ConflictInfo describes.
type ConflictType string

const (
	TypeSubscription ConflictType = "subscription"
	TypePlayPosition ConflictType = "play_position"
	TypePlaylist     ConflictType = "playlist"
	TypePrivacy      ConflictType = "privacy"
)

// Info records a non-trivial resolution for audit/telemetry. Local/Remote
// are opaque to the caller (it already has concrete values); only the
// metadata is reported here.
type Info struct {
	Type       ConflictType
	Resolution Resolution
	Reason     string
}

// Subscription is the minimal shape the subscription merge needs.
type Subscription struct {
	SubscribedAt   time.Time
	UnsubscribedAt time.Time
}

// effective returns max(subscribed_at, unsubscribed_at), epoch zero for a
// missing field.
func (s Subscription) effective() time.Time {
	if s.UnsubscribedAt.After(s.SubscribedAt) {
		return s.UnsubscribedAt
	}
	return s.SubscribedAt
}

// ResolveSubscription implements the LWW rule: greater effective timestamp
// wins; on a tie, the subscribed side wins (spec.md §4.3, scenario 7).
func ResolveSubscription(local, remote Subscription) (Subscription, Resolution, *Info) {
	le, re := local.effective(), remote.effective()
	switch {
	case le.After(re):
		return local, LocalWins, &Info{Type: TypeSubscription, Resolution: LocalWins, Reason: "newer local subscription event"}
	case re.After(le):
		return remote, RemoteWins, &Info{Type: TypeSubscription, Resolution: RemoteWins, Reason: "newer remote subscription event"}
	default:
		// Tie: prefer whichever side is currently subscribed.
		localActive := !local.SubscribedAt.IsZero() && (local.UnsubscribedAt.IsZero() || local.SubscribedAt.After(local.UnsubscribedAt))
		if localActive {
			return local, Merged, &Info{Type: TypeSubscription, Resolution: Merged, Reason: "tie broken in favor of subscribed side (local)"}
		}
		return remote, Merged, &Info{Type: TypeSubscription, Resolution: Merged, Reason: "tie broken in favor of subscribed side (remote)"}
	}
}

// PlayPosition is the minimal shape the play-position merge needs. Reset
// signals a local "start over" action that should always win regardless of
// progress.
type PlayPosition struct {
	Position  int64
	Played    bool
	UpdatedAt time.Time
	Reset     bool
}

// ResolvePlayPosition implements the highest-progress-wins precedence chain
// from spec.md §4.3: local reset, then played-flag, then position, then
// recency.
func ResolvePlayPosition(local, remote PlayPosition) (PlayPosition, Resolution, *Info) {
	if local.Reset {
		return local, LocalWins, &Info{Type: TypePlayPosition, Resolution: LocalWins, Reason: "local reset"}
	}
	if local.Played != remote.Played {
		if local.Played {
			return local, LocalWins, &Info{Type: TypePlayPosition, Resolution: LocalWins, Reason: "local marked played"}
		}
		return remote, RemoteWins, &Info{Type: TypePlayPosition, Resolution: RemoteWins, Reason: "remote marked played"}
	}
	if local.Position != remote.Position {
		if local.Position > remote.Position {
			return local, LocalWins, &Info{Type: TypePlayPosition, Resolution: LocalWins, Reason: "higher local position"}
		}
		return remote, RemoteWins, &Info{Type: TypePlayPosition, Resolution: RemoteWins, Reason: "higher remote position"}
	}
	// Equal positions: newer updated_at wins.
	if local.UpdatedAt.After(remote.UpdatedAt) {
		return local, LocalWins, &Info{Type: TypePlayPosition, Resolution: LocalWins, Reason: "equal position, newer local timestamp"}
	}
	if remote.UpdatedAt.After(local.UpdatedAt) {
		return remote, RemoteWins, &Info{Type: TypePlayPosition, Resolution: RemoteWins, Reason: "equal position, newer remote timestamp"}
	}
	return local, NoConflict, nil
}

// PlaylistItemKey identifies an item within a playlist.
type PlaylistItemKey struct {
	Feed string
	Item string
}

// PlaylistMeta is the LWW-merged subset of playlist fields.
type PlaylistMeta struct {
	Name        string
	Description string
	IsPublic    bool
	UpdatedAt   time.Time
}

// PlaylistSnapshot is one side's view of a playlist for the three-way merge.
type PlaylistSnapshot struct {
	Meta  PlaylistMeta
	Items map[PlaylistItemKey]int // key -> original position, used only for final ordering
}

// ResolvePlaylist performs the three-way merge from spec.md §4.3: item sets
// union minus removals computed against base (or plain union if base is
// absent), with metadata resolved by LWW. Returned items are ordered by
// ascending original position, then re-indexed 0..N-1 to the returned slice
// order (the caller assigns positions by index).
func ResolvePlaylist(local, remote PlaylistSnapshot, base *PlaylistSnapshot) (PlaylistMeta, []PlaylistItemKey, Resolution, *Info) {
	meta := remote.Meta
	metaResolution := RemoteWins
	if local.Meta.UpdatedAt.After(remote.Meta.UpdatedAt) {
		meta = local.Meta
		metaResolution = LocalWins
	} else if local.Meta.UpdatedAt.Equal(remote.Meta.UpdatedAt) {
		metaResolution = NoConflict
		meta = local.Meta
	}

	var baseItems map[PlaylistItemKey]int
	if base != nil {
		baseItems = base.Items
	}

	union := map[PlaylistItemKey]int{}
	for k, pos := range local.Items {
		union[k] = pos
	}
	for k, pos := range remote.Items {
		if _, exists := union[k]; !exists {
			union[k] = pos
		}
	}

	// Removals: present in base but missing from local (local removal) or
	// missing from remote (remote removal).
	if baseItems != nil {
		for k := range baseItems {
			_, inLocal := local.Items[k]
			_, inRemote := remote.Items[k]
			if !inLocal || !inRemote {
				delete(union, k)
			}
		}
	}

	type ordered struct {
		key PlaylistItemKey
		pos int
	}
	all := make([]ordered, 0, len(union))
	for k, pos := range union {
		all = append(all, ordered{k, pos})
	}
	for i := 1; i < len(all); i++ {
		for j := i; j > 0 && all[j].pos < all[j-1].pos; j-- {
			all[j], all[j-1] = all[j-1], all[j]
		}
	}
	items := make([]PlaylistItemKey, len(all))
	for i, o := range all {
		items[i] = o.key
	}

	diverges := itemSetsDiffer(local.Items, remote.Items)
	resolution := Resolution(metaResolution)
	var info *Info
	if diverges {
		resolution = Merged
		info = &Info{Type: TypePlaylist, Resolution: Merged, Reason: "item sets diverge"}
	} else if metaResolution != NoConflict {
		info = &Info{Type: TypePlaylist, Resolution: metaResolution, Reason: "metadata LWW"}
	}
	return meta, items, resolution, info
}

func itemSetsDiffer(a, b map[PlaylistItemKey]int) bool {
	if len(a) != len(b) {
		return true
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return true
		}
	}
	return false
}

// PrivacyValue is a single privacy-scope value with its update timestamp.
type PrivacyValue struct {
	Level     string
	UpdatedAt time.Time
}

// ResolvePrivacy implements LWW: greater updated_at wins.
func ResolvePrivacy(local, remote PrivacyValue) (PrivacyValue, Resolution, *Info) {
	if local.UpdatedAt.After(remote.UpdatedAt) {
		return local, LocalWins, &Info{Type: TypePrivacy, Resolution: LocalWins, Reason: "newer local timestamp"}
	}
	if remote.UpdatedAt.After(local.UpdatedAt) {
		return remote, RemoteWins, &Info{Type: TypePrivacy, Resolution: RemoteWins, Reason: "newer remote timestamp"}
	}
	return local, NoConflict, nil
}
