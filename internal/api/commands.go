package api

import (
	"encoding/json"
	"fmt"

	"github.com/podsync/syncd/internal/aggregate"
)

// commandRequest is the wire shape POSTed to /commands.
type commandRequest struct {
	UserID     string          `json:"user_id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	DeviceID   string          `json:"device_id"`
	DeviceName string          `json:"device_name"`
}

// decodeCommand unmarshals a wire command into its concrete aggregate.Command
// type. Snapshot is deliberately absent: it is C7's own command, never
// issued by a client.
func decodeCommand(commandType string, raw json.RawMessage) (aggregate.Command, error) {
	var cmd aggregate.Command
	switch commandType {
	case "Subscribe":
		cmd = &aggregate.Subscribe{}
	case "Unsubscribe":
		cmd = &aggregate.Unsubscribe{}
	case "RecordPlay":
		cmd = &aggregate.RecordPlay{}
	case "UpdatePosition":
		cmd = &aggregate.UpdatePosition{}
	case "SaveEpisode":
		cmd = &aggregate.SaveEpisode{}
	case "UnsaveEpisode":
		cmd = &aggregate.UnsaveEpisode{}
	case "ShareEpisode":
		cmd = &aggregate.ShareEpisode{}
	case "ChangePrivacy":
		cmd = &aggregate.ChangePrivacy{}
	case "CreatePlaylist":
		cmd = &aggregate.CreatePlaylist{}
	case "UpdatePlaylist":
		cmd = &aggregate.UpdatePlaylist{}
	case "DeletePlaylist":
		cmd = &aggregate.DeletePlaylist{}
	case "ReorderPlaylist":
		cmd = &aggregate.ReorderPlaylist{}
	case "ChangePlaylistVisibility":
		cmd = &aggregate.ChangePlaylistVisibility{}
	case "CreateCollection":
		cmd = &aggregate.CreateCollection{}
	case "UpdateCollection":
		cmd = &aggregate.UpdateCollection{}
	case "DeleteCollection":
		cmd = &aggregate.DeleteCollection{}
	case "ChangeCollectionVisibility":
		cmd = &aggregate.ChangeCollectionVisibility{}
	case "AddFeedToCollection":
		cmd = &aggregate.AddFeedToCollection{}
	case "RemoveFeedFromCollection":
		cmd = &aggregate.RemoveFeedFromCollection{}
	case "ReorderCollectionFeed":
		cmd = &aggregate.ReorderCollectionFeed{}
	case "RemoveEvents":
		cmd = &aggregate.RemoveEvents{}
	case "Sync":
		cmd = &aggregate.Sync{}
	default:
		return nil, fmt.Errorf("api: unknown command type %q", commandType)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, cmd); err != nil {
			return nil, fmt.Errorf("api: decode %s payload: %w", commandType, err)
		}
	}
	return derefCommand(cmd), nil
}

// derefCommand turns the pointer decodeCommand unmarshals into back into the
// value type Decide expects, matching internal/codec's event-side idiom.
func derefCommand(cmd aggregate.Command) aggregate.Command {
	switch c := cmd.(type) {
	case *aggregate.Subscribe:
		return *c
	case *aggregate.Unsubscribe:
		return *c
	case *aggregate.RecordPlay:
		return *c
	case *aggregate.UpdatePosition:
		return *c
	case *aggregate.SaveEpisode:
		return *c
	case *aggregate.UnsaveEpisode:
		return *c
	case *aggregate.ShareEpisode:
		return *c
	case *aggregate.ChangePrivacy:
		return *c
	case *aggregate.CreatePlaylist:
		return *c
	case *aggregate.UpdatePlaylist:
		return *c
	case *aggregate.DeletePlaylist:
		return *c
	case *aggregate.ReorderPlaylist:
		return *c
	case *aggregate.ChangePlaylistVisibility:
		return *c
	case *aggregate.CreateCollection:
		return *c
	case *aggregate.UpdateCollection:
		return *c
	case *aggregate.DeleteCollection:
		return *c
	case *aggregate.ChangeCollectionVisibility:
		return *c
	case *aggregate.AddFeedToCollection:
		return *c
	case *aggregate.RemoveFeedFromCollection:
		return *c
	case *aggregate.ReorderCollectionFeed:
		return *c
	case *aggregate.RemoveEvents:
		return *c
	case *aggregate.Sync:
		return *c
	default:
		return cmd
	}
}
