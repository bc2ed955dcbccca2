package aggregate

import "time"

// EventType names a persisted event's payload shape.
type EventType string

// Event type constants — one per spec payload.
const (
	EventUserSubscribed            EventType = "UserSubscribed"
	EventUserUnsubscribed          EventType = "UserUnsubscribed"
	EventPlayRecorded              EventType = "PlayRecorded"
	EventPositionUpdated            EventType = "PositionUpdated"
	EventEpisodeSaved              EventType = "EpisodeSaved"
	EventEpisodeUnsaved            EventType = "EpisodeUnsaved"
	EventEpisodeShared             EventType = "EpisodeShared"
	EventPrivacyChanged            EventType = "PrivacyChanged"
	EventPlaylistCreated           EventType = "PlaylistCreated"
	EventPlaylistUpdated           EventType = "PlaylistUpdated"
	EventPlaylistDeleted           EventType = "PlaylistDeleted"
	EventPlaylistReordered         EventType = "PlaylistReordered"
	EventPlaylistVisibilityChanged EventType = "PlaylistVisibilityChanged"
	EventCollectionCreated         EventType = "CollectionCreated"
	EventCollectionUpdated         EventType = "CollectionUpdated"
	EventCollectionDeleted         EventType = "CollectionDeleted"
	EventCollectionVisibilityChanged EventType = "CollectionVisibilityChanged"
	EventFeedAddedToCollection      EventType = "FeedAddedToCollection"
	EventFeedRemovedFromCollection  EventType = "FeedRemovedFromCollection"
	EventCollectionFeedReordered    EventType = "CollectionFeedReordered"
	EventEventsRemoved              EventType = "EventsRemoved"
	EventUserCheckpoint             EventType = "UserCheckpoint"
)

// EventInfos carries the originating device, when known. It rides on the
// envelope (eventlog.Event), not on individual payloads.
type EventInfos struct {
	DeviceID   string
	DeviceName string
}

// Event is a decided, not-yet-persisted domain fact. The dispatcher assigns
// stream version, global position, id, and timestamp when it appends to the
// log; Payload here is an interface value, one of the Payload* types below.
type Event struct {
	Type    EventType
	Payload any
}

// --- Payload types (spec.md §3 event list) ---

type UserSubscribedPayload struct {
	Feed         string
	SourceID     string
	SubscribedAt time.Time
}

type UserUnsubscribedPayload struct {
	Feed           string
	SourceID       string
	UnsubscribedAt time.Time
}

type PlayRecordedPayload struct {
	Feed     string
	Item     string
	Position int64
	Played   bool
	At       time.Time
}

type PositionUpdatedPayload struct {
	Feed     string
	Item     string
	Position int64
	At       time.Time
}

type EpisodeSavedPayload struct {
	Playlist  string
	Feed      string
	Item      string
	ItemTitle string
	FeedTitle string
}

type EpisodeUnsavedPayload struct {
	Playlist string
	Feed     string
	Item     string
}

type EpisodeSharedPayload struct {
	Feed string
	Item string
}

type PrivacyChangedPayload struct {
	Scope PrivacyScope
	Feed  string
	Item  string
	Level PrivacyLevel
}

type PlaylistCreatedPayload struct {
	PlaylistID  string
	Name        string
	Description string
}

type PlaylistUpdatedPayload struct {
	PlaylistID  string
	Name        *string
	Description *string
}

type PlaylistDeletedPayload struct {
	PlaylistID string
}

type PlaylistReorderedPayload struct {
	PlaylistID string
	Items      []PlaylistItem
}

type PlaylistVisibilityChangedPayload struct {
	PlaylistID string
	IsPublic   bool
}

type CollectionCreatedPayload struct {
	CollectionID string
	Title        string
	IsDefault    bool
	Description  string
	Color        string
}

type CollectionUpdatedPayload struct {
	CollectionID string
	Title        *string
	Description  *string
	Color        *string
}

type CollectionDeletedPayload struct {
	CollectionID string
}

type CollectionVisibilityChangedPayload struct {
	CollectionID string
	IsPublic     bool
}

type FeedAddedToCollectionPayload struct {
	CollectionID string
	Feed         string
}

type FeedRemovedFromCollectionPayload struct {
	CollectionID string
	Feed         string
}

type CollectionFeedReorderedPayload struct {
	CollectionID string
	Feed         string
	NewPosition  int
	FeedOrder    []string
}

type EventsRemovedPayload struct {
	Feed string
	Item string
}

// UserCheckpointPayload snapshots all four aggregate substates. Applying it
// overwrites them verbatim (invariant 6).
type UserCheckpointPayload struct {
	Subscriptions map[string]Subscription
	PlayStatuses  map[string]PlayStatus
	Playlists     map[string]Playlist
	Collections   map[string]Collection
}
