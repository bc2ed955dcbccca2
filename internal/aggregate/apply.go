package aggregate

// Apply folds one event into state, returning the new state. It is pure: no
// I/O, no clock reads — every timestamp it needs already lives in the event
// payload. Apply never returns an error; by the time an event reaches the
// log it has already been validated by Decide.
func Apply(s State, evt Event) State {
	next := s.Clone()
	switch p := evt.Payload.(type) {
	case UserSubscribedPayload:
		next.Subscriptions[p.Feed] = Subscription{
			Feed:         p.Feed,
			SourceID:     p.SourceID,
			SubscribedAt: p.SubscribedAt,
		}
	case UserUnsubscribedPayload:
		sub, ok := next.Subscriptions[p.Feed]
		if !ok {
			// Unknown feed: record nothing to fold over, but still accept
			// the event (projectors treat unknown feeds as no-op).
			return next
		}
		sub.UnsubscribedAt = p.UnsubscribedAt
		sub.SourceID = p.SourceID
		next.Subscriptions[p.Feed] = sub
	case PlayRecordedPayload:
		next.PlayStatuses[p.Item] = PlayStatus{
			Feed: p.Feed, Item: p.Item, Position: p.Position, Played: p.Played, UpdatedAt: p.At,
		}
	case PositionUpdatedPayload:
		cur := next.PlayStatuses[p.Item]
		next.PlayStatuses[p.Item] = PlayStatus{
			Feed: p.Feed, Item: p.Item, Position: p.Position, Played: cur.Played, UpdatedAt: p.At,
		}
	case EpisodeSavedPayload:
		pl, ok := next.Playlists[p.Playlist]
		if !ok {
			pl = Playlist{ID: p.Playlist, Name: p.Playlist}
		}
		key := PlaylistItem{Feed: p.Feed, Item: p.Item}
		if !containsItem(pl.Items, key) {
			pl.Items = append(pl.Items, key)
		}
		next.Playlists[p.Playlist] = pl
	case EpisodeUnsavedPayload:
		pl, ok := next.Playlists[p.Playlist]
		if !ok {
			return next
		}
		key := PlaylistItem{Feed: p.Feed, Item: p.Item}
		filtered := pl.Items[:0:0]
		for _, it := range pl.Items {
			if it != key {
				filtered = append(filtered, it)
			}
		}
		pl.Items = filtered
		next.Playlists[p.Playlist] = pl
	case EpisodeSharedPayload:
		// Sharing does not mutate aggregate state; it is recorded purely
		// for the event log and public_events/popularity projectors.
	case PrivacyChangedPayload:
		applyPrivacyChanged(&next, p)
	case PlaylistCreatedPayload:
		next.Playlists[p.PlaylistID] = Playlist{ID: p.PlaylistID, Name: p.Name, Description: p.Description}
	case PlaylistUpdatedPayload:
		pl, ok := next.Playlists[p.PlaylistID]
		if !ok {
			return next
		}
		if p.Name != nil {
			pl.Name = *p.Name
		}
		if p.Description != nil {
			pl.Description = *p.Description
		}
		next.Playlists[p.PlaylistID] = pl
	case PlaylistDeletedPayload:
		pl, ok := next.Playlists[p.PlaylistID]
		if !ok {
			return next
		}
		pl.Deleted = true
		next.Playlists[p.PlaylistID] = pl
	case PlaylistReorderedPayload:
		pl, ok := next.Playlists[p.PlaylistID]
		if !ok {
			return next
		}
		pl.Items = append([]PlaylistItem(nil), p.Items...)
		next.Playlists[p.PlaylistID] = pl
	case PlaylistVisibilityChangedPayload:
		pl, ok := next.Playlists[p.PlaylistID]
		if !ok {
			return next
		}
		pl.IsPublic = p.IsPublic
		next.Playlists[p.PlaylistID] = pl
	case CollectionCreatedPayload:
		col := Collection{
			ID: p.CollectionID, Title: p.Title, IsDefault: p.IsDefault,
			Description: p.Description, Color: p.Color,
			FeedIDs: map[string]bool{}, FeedOrder: []string{},
		}
		// A repeated creation of a live collection keeps its feeds and visibility.
		if existing, ok := next.Collections[p.CollectionID]; ok && !existing.Deleted {
			col.FeedIDs, col.FeedOrder, col.IsPublic = existing.FeedIDs, existing.FeedOrder, existing.IsPublic
		}
		next.Collections[p.CollectionID] = col
	case CollectionUpdatedPayload:
		c, ok := next.Collections[p.CollectionID]
		if !ok {
			return next
		}
		if p.Title != nil {
			c.Title = *p.Title
		}
		if p.Description != nil {
			c.Description = *p.Description
		}
		if p.Color != nil {
			c.Color = *p.Color
		}
		next.Collections[p.CollectionID] = c
	case CollectionDeletedPayload:
		c, ok := next.Collections[p.CollectionID]
		if !ok {
			return next
		}
		c.Deleted = true
		next.Collections[p.CollectionID] = c
	case CollectionVisibilityChangedPayload:
		c, ok := next.Collections[p.CollectionID]
		if !ok {
			return next
		}
		c.IsPublic = p.IsPublic
		next.Collections[p.CollectionID] = c
	case FeedAddedToCollectionPayload:
		c, ok := next.Collections[p.CollectionID]
		if !ok {
			return next
		}
		if c.FeedIDs == nil {
			c.FeedIDs = map[string]bool{}
		}
		if !c.FeedIDs[p.Feed] {
			c.FeedIDs[p.Feed] = true
			c.FeedOrder = append(c.FeedOrder, p.Feed)
		}
		next.Collections[p.CollectionID] = c
	case FeedRemovedFromCollectionPayload:
		c, ok := next.Collections[p.CollectionID]
		if !ok {
			return next
		}
		delete(c.FeedIDs, p.Feed)
		order := c.FeedOrder[:0:0]
		for _, f := range c.FeedOrder {
			if f != p.Feed {
				order = append(order, f)
			}
		}
		c.FeedOrder = order
		next.Collections[p.CollectionID] = c
	case CollectionFeedReorderedPayload:
		c, ok := next.Collections[p.CollectionID]
		if !ok {
			return next
		}
		c.FeedOrder = append([]string(nil), p.FeedOrder...)
		next.Collections[p.CollectionID] = c
	case EventsRemovedPayload:
		// Compaction-intent marker only; physical pruning is C7's job.
	case UserCheckpointPayload:
		next.Subscriptions = cloneSubscriptions(p.Subscriptions)
		next.PlayStatuses = clonePlayStatuses(p.PlayStatuses)
		next.Playlists = clonePlaylists(p.Playlists)
		next.Collections = cloneCollections(p.Collections)
	}
	return next
}

func applyPrivacyChanged(s *State, p PrivacyChangedPayload) {
	switch p.Scope {
	case ScopeGlobal:
		s.Privacy.Default = p.Level
	case ScopeFeed:
		s.Privacy.PerFeed[p.Feed] = p.Level
	case ScopeItem:
		s.Privacy.PerItem[p.Item] = p.Level
	}
}

func containsItem(items []PlaylistItem, key PlaylistItem) bool {
	for _, it := range items {
		if it == key {
			return true
		}
	}
	return false
}

func cloneSubscriptions(m map[string]Subscription) map[string]Subscription {
	out := make(map[string]Subscription, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func clonePlayStatuses(m map[string]PlayStatus) map[string]PlayStatus {
	out := make(map[string]PlayStatus, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func clonePlaylists(m map[string]Playlist) map[string]Playlist {
	out := make(map[string]Playlist, len(m))
	for k, v := range m {
		items := make([]PlaylistItem, len(v.Items))
		copy(items, v.Items)
		v.Items = items
		out[k] = v
	}
	return out
}

func cloneCollections(m map[string]Collection) map[string]Collection {
	out := make(map[string]Collection, len(m))
	for k, v := range m {
		feedIDs := make(map[string]bool, len(v.FeedIDs))
		for f := range v.FeedIDs {
			feedIDs[f] = true
		}
		order := make([]string, len(v.FeedOrder))
		copy(order, v.FeedOrder)
		v.FeedIDs = feedIDs
		v.FeedOrder = order
		out[k] = v
	}
	return out
}
