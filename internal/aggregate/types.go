// Package aggregate implements the per-user consistency boundary: a pure
// decide/apply function pair folding a user's event stream into state and
// producing new events from commands. Neither function performs I/O or
// reads wall-clock time directly — callers inject a clock.
package aggregate

import "time"

// PrivacyLevel is the visibility of a subscription, feed, or item.
type PrivacyLevel string

const (
	PrivacyPublic    PrivacyLevel = "public"
	PrivacyAnonymous PrivacyLevel = "anonymous"
	PrivacyPrivate   PrivacyLevel = "private"
)

// PrivacyScope names what a privacy override applies to.
type PrivacyScope string

const (
	ScopeGlobal PrivacyScope = "global"
	ScopeFeed   PrivacyScope = "feed"
	ScopeItem   PrivacyScope = "item"
)

// Subscription tracks one feed's subscription lifecycle for a user.
type Subscription struct {
	Feed           string
	SourceID       string
	SubscribedAt   time.Time
	UnsubscribedAt time.Time // zero value means "never unsubscribed"
}

// Active reports whether the feed is currently subscribed: subscribed_at
// exists and either there's no unsubscribe, or the subscribe is newer.
func (s Subscription) Active() bool {
	if s.SubscribedAt.IsZero() {
		return false
	}
	if s.UnsubscribedAt.IsZero() {
		return true
	}
	return s.SubscribedAt.After(s.UnsubscribedAt)
}

// PlayStatus is the last known playback position for one item.
type PlayStatus struct {
	Feed      string
	Item      string
	Position  int64
	Played    bool
	UpdatedAt time.Time
}

// PlaylistItem is one (feed,item) entry in a playlist's ordering.
type PlaylistItem struct {
	Feed string
	Item string
}

// Playlist is a user-curated, ordered list of episodes.
type Playlist struct {
	ID          string
	Name        string
	Description string
	IsPublic    bool
	Items       []PlaylistItem
	UpdatedAt   time.Time
	Deleted     bool
}

// Collection groups subscribed feeds for browsing; exactly one per user has
// IsDefault set (invariant 1).
type Collection struct {
	ID          string
	Title       string
	IsDefault   bool
	Color       string
	Description string
	IsPublic    bool
	FeedIDs     map[string]bool
	FeedOrder   []string
	UpdatedAt   time.Time
	Deleted     bool
}

// PrivacySettings holds the default level plus per-feed and per-item
// overrides. Precedence is item > feed > global (invariant 5).
type PrivacySettings struct {
	Default   PrivacyLevel
	PerFeed   map[string]PrivacyLevel
	PerItem   map[string]PrivacyLevel
	UpdatedAt time.Time
}

// EffectiveLevel resolves the privacy level that applies to a given
// feed/item pair, honoring item > feed > global precedence.
func (p PrivacySettings) EffectiveLevel(feed, item string) PrivacyLevel {
	if item != "" {
		if lvl, ok := p.PerItem[item]; ok {
			return lvl
		}
	}
	if feed != "" {
		if lvl, ok := p.PerFeed[feed]; ok {
			return lvl
		}
	}
	if p.Default == "" {
		return PrivacyPrivate
	}
	return p.Default
}

// State is the folded state of one user's event stream. It is a value type:
// Clone() must be used before in-place mutation so concurrently-held
// references (e.g. a dispatcher's cached copy) are never aliased into a
// mutated instance.
type State struct {
	UserID        string
	Privacy       PrivacySettings
	Subscriptions map[string]Subscription // feed -> subscription
	PlayStatuses  map[string]PlayStatus   // item -> status
	Playlists     map[string]Playlist     // playlist id -> playlist
	Collections   map[string]Collection   // collection id -> collection
}

// New returns a zero-valued state for a fresh stream.
func New(userID string) State {
	return State{
		UserID:        userID,
		Privacy:       PrivacySettings{Default: PrivacyPrivate, PerFeed: map[string]PrivacyLevel{}, PerItem: map[string]PrivacyLevel{}},
		Subscriptions: map[string]Subscription{},
		PlayStatuses:  map[string]PlayStatus{},
		Playlists:     map[string]Playlist{},
		Collections:   map[string]Collection{},
	}
}

// Clone deep-copies state so a caller may safely mutate the result without
// affecting the original (and vice versa).
func (s State) Clone() State {
	out := State{
		UserID: s.UserID,
		Privacy: PrivacySettings{
			Default:   s.Privacy.Default,
			UpdatedAt: s.Privacy.UpdatedAt,
			PerFeed:   make(map[string]PrivacyLevel, len(s.Privacy.PerFeed)),
			PerItem:   make(map[string]PrivacyLevel, len(s.Privacy.PerItem)),
		},
		Subscriptions: make(map[string]Subscription, len(s.Subscriptions)),
		PlayStatuses:  make(map[string]PlayStatus, len(s.PlayStatuses)),
		Playlists:     make(map[string]Playlist, len(s.Playlists)),
		Collections:   make(map[string]Collection, len(s.Collections)),
	}
	for k, v := range s.Privacy.PerFeed {
		out.Privacy.PerFeed[k] = v
	}
	for k, v := range s.Privacy.PerItem {
		out.Privacy.PerItem[k] = v
	}
	for k, v := range s.Subscriptions {
		out.Subscriptions[k] = v
	}
	for k, v := range s.PlayStatuses {
		out.PlayStatuses[k] = v
	}
	for k, v := range s.Playlists {
		items := make([]PlaylistItem, len(v.Items))
		copy(items, v.Items)
		v.Items = items
		out.Playlists[k] = v
	}
	for k, v := range s.Collections {
		feedIDs := make(map[string]bool, len(v.FeedIDs))
		for f := range v.FeedIDs {
			feedIDs[f] = true
		}
		order := make([]string, len(v.FeedOrder))
		copy(order, v.FeedOrder)
		v.FeedIDs = feedIDs
		v.FeedOrder = order
		out.Collections[k] = v
	}
	return out
}

// DefaultCollection returns the user's default collection, if one exists.
func (s State) DefaultCollection() (Collection, bool) {
	for _, c := range s.Collections {
		if c.IsDefault && !c.Deleted {
			return c, true
		}
	}
	return Collection{}, false
}
