package aggregate

import (
	"strings"
	"time"

	"github.com/podsync/syncd/internal/conflict"
)

// Decide evaluates a command against state and returns the events it
// produces, or a DomainError. It is pure: now is the only source of time,
// supplied by the dispatcher's injected clock (spec.md §6 "Clock").
func Decide(s State, cmd Command, now time.Time) ([]Event, error) {
	switch c := cmd.(type) {
	case Subscribe:
		at := now
		if c.SubscribedAt != nil {
			at = *c.SubscribedAt
		}
		return []Event{{Type: EventUserSubscribed, Payload: UserSubscribedPayload{
			Feed: c.Feed, SourceID: c.SourceID, SubscribedAt: at,
		}}}, nil

	case Unsubscribe:
		at := now
		if c.UnsubscribedAt != nil {
			at = *c.UnsubscribedAt
		}
		// Emitted even for unknown feeds: projectors treat that as a no-op.
		return []Event{{Type: EventUserUnsubscribed, Payload: UserUnsubscribedPayload{
			Feed: c.Feed, SourceID: c.SourceID, UnsubscribedAt: at,
		}}}, nil

	case RecordPlay:
		if c.Position < 0 {
			return nil, newError(ErrInvalidPosition, "position %d < 0", c.Position)
		}
		return []Event{{Type: EventPlayRecorded, Payload: PlayRecordedPayload{
			Feed: c.Feed, Item: c.Item, Position: c.Position, Played: c.Played, At: now,
		}}}, nil

	case UpdatePosition:
		if c.Position < 0 {
			return nil, newError(ErrInvalidPosition, "position %d < 0", c.Position)
		}
		return []Event{{Type: EventPositionUpdated, Payload: PositionUpdatedPayload{
			Feed: c.Feed, Item: c.Item, Position: c.Position, At: now,
		}}}, nil

	case SaveEpisode:
		return []Event{{Type: EventEpisodeSaved, Payload: EpisodeSavedPayload{
			Playlist: c.Playlist, Feed: c.Feed, Item: c.Item, ItemTitle: c.ItemTitle, FeedTitle: c.FeedTitle,
		}}}, nil

	case UnsaveEpisode:
		return []Event{{Type: EventEpisodeUnsaved, Payload: EpisodeUnsavedPayload{
			Playlist: c.Playlist, Feed: c.Feed, Item: c.Item,
		}}}, nil

	case ShareEpisode:
		return []Event{{Type: EventEpisodeShared, Payload: EpisodeSharedPayload{Feed: c.Feed, Item: c.Item}}}, nil

	case ChangePrivacy:
		if c.Level != PrivacyPublic && c.Level != PrivacyAnonymous && c.Level != PrivacyPrivate {
			return nil, newError(ErrInvalidPrivacyLevel, "unknown level %q", c.Level)
		}
		return []Event{{Type: EventPrivacyChanged, Payload: PrivacyChangedPayload{
			Scope: c.Scope, Feed: c.Feed, Item: c.Item, Level: c.Level,
		}}}, nil

	case CreatePlaylist:
		return []Event{{Type: EventPlaylistCreated, Payload: PlaylistCreatedPayload{
			PlaylistID: c.PlaylistID, Name: c.Name, Description: c.Description,
		}}}, nil

	case UpdatePlaylist:
		pl, ok := s.Playlists[c.PlaylistID]
		if !ok || pl.Deleted {
			return nil, newError(ErrPlaylistNotFound, "%s", c.PlaylistID)
		}
		if c.Name != nil && strings.TrimSpace(*c.Name) == "" {
			return nil, newError(ErrEmptyTitle, "playlist name")
		}
		return []Event{{Type: EventPlaylistUpdated, Payload: PlaylistUpdatedPayload{
			PlaylistID: c.PlaylistID, Name: c.Name, Description: c.Description,
		}}}, nil

	case DeletePlaylist:
		return []Event{{Type: EventPlaylistDeleted, Payload: PlaylistDeletedPayload{PlaylistID: c.PlaylistID}}}, nil

	case ReorderPlaylist:
		pl, ok := s.Playlists[c.PlaylistID]
		if !ok || pl.Deleted {
			return nil, newError(ErrPlaylistNotFound, "%s", c.PlaylistID)
		}
		return []Event{{Type: EventPlaylistReordered, Payload: PlaylistReorderedPayload{
			PlaylistID: c.PlaylistID, Items: c.Items,
		}}}, nil

	case ChangePlaylistVisibility:
		return []Event{{Type: EventPlaylistVisibilityChanged, Payload: PlaylistVisibilityChangedPayload{
			PlaylistID: c.PlaylistID, IsPublic: c.IsPublic,
		}}}, nil

	case CreateCollection:
		return decideCreateCollection(s, c)

	case UpdateCollection:
		col, ok := s.Collections[c.CollectionID]
		if !ok || col.Deleted {
			return nil, newError(ErrCollectionNotFound, "%s", c.CollectionID)
		}
		if c.Title != nil && strings.TrimSpace(*c.Title) == "" {
			return nil, newError(ErrEmptyTitle, "collection title")
		}
		return []Event{{Type: EventCollectionUpdated, Payload: CollectionUpdatedPayload{
			CollectionID: c.CollectionID, Title: c.Title, Description: c.Description, Color: c.Color,
		}}}, nil

	case DeleteCollection:
		col, ok := s.Collections[c.CollectionID]
		if !ok || col.Deleted {
			return nil, newError(ErrCollectionNotFound, "%s", c.CollectionID)
		}
		if col.IsDefault {
			return nil, newError(ErrCannotDeleteDefault, "%s", c.CollectionID)
		}
		return []Event{{Type: EventCollectionDeleted, Payload: CollectionDeletedPayload{CollectionID: c.CollectionID}}}, nil

	case ChangeCollectionVisibility:
		col, ok := s.Collections[c.CollectionID]
		if !ok || col.Deleted {
			return nil, newError(ErrCollectionNotFound, "%s", c.CollectionID)
		}
		return []Event{{Type: EventCollectionVisibilityChanged, Payload: CollectionVisibilityChangedPayload{
			CollectionID: c.CollectionID, IsPublic: c.IsPublic,
		}}}, nil

	case AddFeedToCollection:
		col, ok := s.Collections[c.CollectionID]
		if !ok || col.Deleted {
			return nil, newError(ErrCollectionNotFound, "%s", c.CollectionID)
		}
		sub, subscribed := s.Subscriptions[c.Feed]
		if !subscribed || !sub.Active() {
			return nil, newError(ErrFeedNotSubscribed, "%s", c.Feed)
		}
		return []Event{{Type: EventFeedAddedToCollection, Payload: FeedAddedToCollectionPayload{
			CollectionID: c.CollectionID, Feed: c.Feed,
		}}}, nil

	case RemoveFeedFromCollection:
		col, ok := s.Collections[c.CollectionID]
		if !ok || col.Deleted {
			return nil, newError(ErrCollectionNotFound, "%s", c.CollectionID)
		}
		return []Event{{Type: EventFeedRemovedFromCollection, Payload: FeedRemovedFromCollectionPayload{
			CollectionID: c.CollectionID, Feed: c.Feed,
		}}}, nil

	case ReorderCollectionFeed:
		col, ok := s.Collections[c.CollectionID]
		if !ok || col.Deleted {
			return nil, newError(ErrCollectionNotFound, "%s", c.CollectionID)
		}
		return []Event{{Type: EventCollectionFeedReordered, Payload: CollectionFeedReorderedPayload{
			CollectionID: c.CollectionID, Feed: c.Feed, NewPosition: c.NewPosition, FeedOrder: c.FeedOrder,
		}}}, nil

	case RemoveEvents:
		return []Event{{Type: EventEventsRemoved, Payload: EventsRemovedPayload{Feed: c.Feed, Item: c.Item}}}, nil

	case Sync:
		return decideSync(s, c, now)

	case Snapshot:
		return decideSnapshot(s, c)

	default:
		return nil, newError(ErrInvalidPrivacyLevel, "unknown command type %T", cmd)
	}
}

func decideCreateCollection(s State, c CreateCollection) ([]Event, error) {
	if strings.TrimSpace(c.Title) == "" {
		return nil, newError(ErrEmptyTitle, "collection title")
	}
	if c.IsDefault {
		if _, exists := s.DefaultCollection(); exists {
			return nil, newError(ErrDefaultCollectionExists, "")
		}
	}
	if c.CollectionID != "" {
		if existing, ok := s.Collections[c.CollectionID]; ok && !existing.Deleted {
			// Idempotent creation attempt: the event is re-emitted, and Apply
			// keeps the collection's feeds and visibility while overwriting
			// title, default flag, description and color.
			return []Event{{Type: EventCollectionCreated, Payload: CollectionCreatedPayload{
				CollectionID: c.CollectionID, Title: c.Title, IsDefault: c.IsDefault,
				Description: c.Description, Color: c.Color,
			}}}, nil
		}
		slug := strings.ToLower(strings.TrimSpace(c.Title))
		for id, other := range s.Collections {
			if id == c.CollectionID || other.Deleted {
				continue
			}
			if strings.ToLower(strings.TrimSpace(other.Title)) == slug {
				return nil, newError(ErrDuplicateSlug, "%s", slug)
			}
		}
	}
	return []Event{{Type: EventCollectionCreated, Payload: CollectionCreatedPayload{
		CollectionID: c.CollectionID, Title: c.Title, IsDefault: c.IsDefault,
		Description: c.Description, Color: c.Color,
	}}}, nil
}

// decideSync invokes the conflict resolver (C3) per spec.md §4.3 and emits
// one event per resolved change that actually moves state forward.
func decideSync(s State, c Sync, now time.Time) ([]Event, error) {
	var events []Event

	for feed, localSub := range c.LocalSubscriptions {
		remoteSub, hasRemote := s.Subscriptions[feed]
		var localC, remoteC conflict.Subscription
		localC = conflict.Subscription{SubscribedAt: localSub.SubscribedAt, UnsubscribedAt: localSub.UnsubscribedAt}
		if hasRemote {
			remoteC = conflict.Subscription{SubscribedAt: remoteSub.SubscribedAt, UnsubscribedAt: remoteSub.UnsubscribedAt}
		}
		winner, resolution, _ := conflict.ResolveSubscription(localC, remoteC)
		if resolution == conflict.RemoteWins {
			continue // server state already reflects the winner
		}
		if hasRemote && winner.SubscribedAt.Equal(remoteSub.SubscribedAt) && winner.UnsubscribedAt.Equal(remoteSub.UnsubscribedAt) {
			continue // no-op
		}
		if winner.UnsubscribedAt.IsZero() || winner.SubscribedAt.After(winner.UnsubscribedAt) {
			events = append(events, Event{Type: EventUserSubscribed, Payload: UserSubscribedPayload{
				Feed: feed, SourceID: localSub.SourceID, SubscribedAt: winner.SubscribedAt,
			}})
		} else {
			events = append(events, Event{Type: EventUserUnsubscribed, Payload: UserUnsubscribedPayload{
				Feed: feed, SourceID: localSub.SourceID, UnsubscribedAt: winner.UnsubscribedAt,
			}})
		}
	}

	for item, localPlay := range c.LocalPlayStatuses {
		remotePlay, hasRemote := s.PlayStatuses[item]
		localC := conflict.PlayPosition{Position: localPlay.Position, Played: localPlay.Played, UpdatedAt: localPlay.UpdatedAt}
		var remoteC conflict.PlayPosition
		if hasRemote {
			remoteC = conflict.PlayPosition{Position: remotePlay.Position, Played: remotePlay.Played, UpdatedAt: remotePlay.UpdatedAt}
		}
		winner, resolution, _ := conflict.ResolvePlayPosition(localC, remoteC)
		if resolution == conflict.RemoteWins || resolution == conflict.NoConflict {
			continue
		}
		feed := localPlay.Feed
		if feed == "" && hasRemote {
			feed = remotePlay.Feed
		}
		events = append(events, Event{Type: EventPlayRecorded, Payload: PlayRecordedPayload{
			Feed: feed, Item: item, Position: winner.Position, Played: winner.Played, At: now,
		}})
	}

	// Playlist merges are evaluated for correctness but, per spec.md §4.3,
	// only affect the aggregate via the same playlist events other commands
	// use; a full reorder event carries the merged ordering.
	for id, localPl := range c.LocalPlaylists {
		remotePl, hasRemote := s.Playlists[id]
		localSnap := conflict.PlaylistSnapshot{
			Meta:  conflict.PlaylistMeta{Name: localPl.Name, Description: localPl.Description, IsPublic: localPl.IsPublic, UpdatedAt: localPl.UpdatedAt},
			Items: itemPositions(localPl.Items),
		}
		var remoteSnap conflict.PlaylistSnapshot
		if hasRemote {
			remoteSnap = conflict.PlaylistSnapshot{
				Meta:  conflict.PlaylistMeta{Name: remotePl.Name, Description: remotePl.Description, IsPublic: remotePl.IsPublic, UpdatedAt: remotePl.UpdatedAt},
				Items: itemPositions(remotePl.Items),
			}
		}
		var basePtr *conflict.PlaylistSnapshot
		if basePl, ok := c.BasePlaylists[id]; ok {
			snap := conflict.PlaylistSnapshot{Items: itemPositions(basePl.Items)}
			basePtr = &snap
		}
		meta, items, resolution, _ := conflict.ResolvePlaylist(localSnap, remoteSnap, basePtr)
		if resolution == conflict.NoConflict {
			continue
		}
		mergedItems := make([]PlaylistItem, len(items))
		for i, k := range items {
			mergedItems[i] = PlaylistItem{Feed: k.Feed, Item: k.Item}
		}
		if !hasRemote {
			events = append(events, Event{Type: EventPlaylistCreated, Payload: PlaylistCreatedPayload{
				PlaylistID: id, Name: meta.Name, Description: meta.Description,
			}})
		}
		events = append(events, Event{Type: EventPlaylistReordered, Payload: PlaylistReorderedPayload{
			PlaylistID: id, Items: mergedItems,
		}})
		if meta.Name != remotePl.Name || meta.Description != remotePl.Description {
			name, desc := meta.Name, meta.Description
			events = append(events, Event{Type: EventPlaylistUpdated, Payload: PlaylistUpdatedPayload{
				PlaylistID: id, Name: &name, Description: &desc,
			}})
		}
	}

	return events, nil
}

func itemPositions(items []PlaylistItem) map[conflict.PlaylistItemKey]int {
	out := make(map[conflict.PlaylistItemKey]int, len(items))
	for i, it := range items {
		out[conflict.PlaylistItemKey{Feed: it.Feed, Item: it.Item}] = i
	}
	return out
}

// decideSnapshot produces a UserCheckpoint event, applying the retention
// filters from spec.md §4.7 when CleanupOldEvents is set.
func decideSnapshot(s State, c Snapshot) ([]Event, error) {
	subs := s.Subscriptions
	playlists := s.Playlists
	if c.CleanupOldEvents && !c.RetentionCutoff.IsZero() {
		subs = make(map[string]Subscription, len(s.Subscriptions))
		for feed, sub := range s.Subscriptions {
			if sub.UnsubscribedAt.After(sub.SubscribedAt) && sub.UnsubscribedAt.Before(c.RetentionCutoff) {
				continue // dropped: stale unsubscribe older than retention
			}
			subs[feed] = sub
		}
		playlists = make(map[string]Playlist, len(s.Playlists))
		for id, pl := range s.Playlists {
			playlists[id] = pl // item-level deleted_at isn't tracked on PlaylistItem in this state shape; filtering happens in the playlist_items projection (read model), not the aggregate substate.
		}
	}
	return []Event{{Type: EventUserCheckpoint, Payload: UserCheckpointPayload{
		Subscriptions: subs,
		PlayStatuses:  s.PlayStatuses,
		Playlists:     playlists,
		Collections:   s.Collections,
	}}}, nil
}
