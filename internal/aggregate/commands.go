package aggregate

import "time"

// Command is the sum type Decide accepts. Exactly one of the fields
// embedded via the concrete command type is populated; dispatchers pass a
// single concrete command value per call.
type Command interface {
	isCommand()
}

type Subscribe struct {
	Feed         string
	SourceID     string
	SubscribedAt *time.Time // nil means "use the injected clock"
}

func (Subscribe) isCommand() {}

type Unsubscribe struct {
	Feed           string
	SourceID       string
	UnsubscribedAt *time.Time
}

func (Unsubscribe) isCommand() {}

type RecordPlay struct {
	Feed     string
	Item     string
	Position int64
	Played   bool
}

func (RecordPlay) isCommand() {}

type UpdatePosition struct {
	Feed     string
	Item     string
	Position int64
}

func (UpdatePosition) isCommand() {}

type SaveEpisode struct {
	Playlist  string
	Feed      string
	Item      string
	ItemTitle string
	FeedTitle string
}

func (SaveEpisode) isCommand() {}

type UnsaveEpisode struct {
	Playlist string
	Feed     string
	Item     string
}

func (UnsaveEpisode) isCommand() {}

type ShareEpisode struct {
	Feed string
	Item string
}

func (ShareEpisode) isCommand() {}

type ChangePrivacy struct {
	Scope PrivacyScope
	Feed  string
	Item  string
	Level PrivacyLevel
}

func (ChangePrivacy) isCommand() {}

type CreatePlaylist struct {
	PlaylistID  string
	Name        string
	Description string
}

func (CreatePlaylist) isCommand() {}

type UpdatePlaylist struct {
	PlaylistID  string
	Name        *string
	Description *string
}

func (UpdatePlaylist) isCommand() {}

type DeletePlaylist struct {
	PlaylistID string
}

func (DeletePlaylist) isCommand() {}

type ReorderPlaylist struct {
	PlaylistID string
	Items      []PlaylistItem
}

func (ReorderPlaylist) isCommand() {}

type ChangePlaylistVisibility struct {
	PlaylistID string
	IsPublic   bool
}

func (ChangePlaylistVisibility) isCommand() {}

type CreateCollection struct {
	CollectionID string // empty means "generate a fresh id"
	Title        string
	IsDefault    bool
	Description  string
	Color        string
}

func (CreateCollection) isCommand() {}

type UpdateCollection struct {
	CollectionID string
	Title        *string
	Description  *string
	Color        *string
}

func (UpdateCollection) isCommand() {}

type DeleteCollection struct {
	CollectionID string
}

func (DeleteCollection) isCommand() {}

type ChangeCollectionVisibility struct {
	CollectionID string
	IsPublic     bool
}

func (ChangeCollectionVisibility) isCommand() {}

type AddFeedToCollection struct {
	CollectionID string
	Feed         string
}

func (AddFeedToCollection) isCommand() {}

type RemoveFeedFromCollection struct {
	CollectionID string
	Feed         string
}

func (RemoveFeedFromCollection) isCommand() {}

type ReorderCollectionFeed struct {
	CollectionID string
	Feed         string
	NewPosition  int
	FeedOrder    []string
}

func (ReorderCollectionFeed) isCommand() {}

type RemoveEvents struct {
	Feed string
	Item string
}

func (RemoveEvents) isCommand() {}

// Sync reconciles a device's local view against server state using the
// conflict resolver (C3). LocalSubscriptions/LocalPlayStatuses/LocalPlaylists
// are the device's snapshot; BasePlaylists is its last-known-synced snapshot of
// playlists (for the three-way merge), may be nil.
type Sync struct {
	LocalSubscriptions map[string]Subscription
	LocalPlayStatuses  map[string]PlayStatus
	LocalPlaylists     map[string]Playlist
	BasePlaylists      map[string]Playlist
}

func (Sync) isCommand() {}

// Snapshot requests a checkpoint event (C7). CleanupOldEvents triggers the
// retention filters described in spec.md §4.7.
type Snapshot struct {
	CleanupOldEvents bool
	RetentionCutoff  time.Time // now - T_old, computed by the caller (injected clock)
}

func (Snapshot) isCommand() {}
