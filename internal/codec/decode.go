// Package codec translates between the durable event-log wire format
// (internal/eventlog.Record) and the typed in-memory events the aggregate
// and projection packages operate on. It sits below both so neither one
// needs to import the other just to replay history.
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/podsync/syncd/internal/aggregate"
	"github.com/podsync/syncd/internal/eventlog"
)

// DecodeRecord unmarshals a persisted record back into a typed aggregate
// event, for stream replay (dispatcher actor load) and read-model
// projection alike.
func DecodeRecord(rec eventlog.Record) (aggregate.Event, error) {
	etype := aggregate.EventType(rec.Type)
	var payload any

	switch etype {
	case aggregate.EventUserSubscribed:
		payload = &aggregate.UserSubscribedPayload{}
	case aggregate.EventUserUnsubscribed:
		payload = &aggregate.UserUnsubscribedPayload{}
	case aggregate.EventPlayRecorded:
		payload = &aggregate.PlayRecordedPayload{}
	case aggregate.EventPositionUpdated:
		payload = &aggregate.PositionUpdatedPayload{}
	case aggregate.EventEpisodeSaved:
		payload = &aggregate.EpisodeSavedPayload{}
	case aggregate.EventEpisodeUnsaved:
		payload = &aggregate.EpisodeUnsavedPayload{}
	case aggregate.EventEpisodeShared:
		payload = &aggregate.EpisodeSharedPayload{}
	case aggregate.EventPrivacyChanged:
		payload = &aggregate.PrivacyChangedPayload{}
	case aggregate.EventPlaylistCreated:
		payload = &aggregate.PlaylistCreatedPayload{}
	case aggregate.EventPlaylistUpdated:
		payload = &aggregate.PlaylistUpdatedPayload{}
	case aggregate.EventPlaylistDeleted:
		payload = &aggregate.PlaylistDeletedPayload{}
	case aggregate.EventPlaylistReordered:
		payload = &aggregate.PlaylistReorderedPayload{}
	case aggregate.EventPlaylistVisibilityChanged:
		payload = &aggregate.PlaylistVisibilityChangedPayload{}
	case aggregate.EventCollectionCreated:
		payload = &aggregate.CollectionCreatedPayload{}
	case aggregate.EventCollectionUpdated:
		payload = &aggregate.CollectionUpdatedPayload{}
	case aggregate.EventCollectionDeleted:
		payload = &aggregate.CollectionDeletedPayload{}
	case aggregate.EventCollectionVisibilityChanged:
		payload = &aggregate.CollectionVisibilityChangedPayload{}
	case aggregate.EventFeedAddedToCollection:
		payload = &aggregate.FeedAddedToCollectionPayload{}
	case aggregate.EventFeedRemovedFromCollection:
		payload = &aggregate.FeedRemovedFromCollectionPayload{}
	case aggregate.EventCollectionFeedReordered:
		payload = &aggregate.CollectionFeedReorderedPayload{}
	case aggregate.EventEventsRemoved:
		payload = &aggregate.EventsRemovedPayload{}
	case aggregate.EventUserCheckpoint:
		payload = &aggregate.UserCheckpointPayload{}
	default:
		return aggregate.Event{}, fmt.Errorf("codec: unknown event type %q at stream %s version %d", rec.Type, rec.StreamID, rec.Version)
	}

	if err := json.Unmarshal(rec.Payload, payload); err != nil {
		return aggregate.Event{}, fmt.Errorf("codec: unmarshal %s payload: %w", rec.Type, err)
	}

	// Apply's type switch matches on value types, not pointers, so
	// dereference before handing the event back.
	return aggregate.Event{Type: etype, Payload: derefPayload(payload)}, nil
}

func derefPayload(p any) any {
	switch v := p.(type) {
	case *aggregate.UserSubscribedPayload:
		return *v
	case *aggregate.UserUnsubscribedPayload:
		return *v
	case *aggregate.PlayRecordedPayload:
		return *v
	case *aggregate.PositionUpdatedPayload:
		return *v
	case *aggregate.EpisodeSavedPayload:
		return *v
	case *aggregate.EpisodeUnsavedPayload:
		return *v
	case *aggregate.EpisodeSharedPayload:
		return *v
	case *aggregate.PrivacyChangedPayload:
		return *v
	case *aggregate.PlaylistCreatedPayload:
		return *v
	case *aggregate.PlaylistUpdatedPayload:
		return *v
	case *aggregate.PlaylistDeletedPayload:
		return *v
	case *aggregate.PlaylistReorderedPayload:
		return *v
	case *aggregate.PlaylistVisibilityChangedPayload:
		return *v
	case *aggregate.CollectionCreatedPayload:
		return *v
	case *aggregate.CollectionUpdatedPayload:
		return *v
	case *aggregate.CollectionDeletedPayload:
		return *v
	case *aggregate.CollectionVisibilityChangedPayload:
		return *v
	case *aggregate.FeedAddedToCollectionPayload:
		return *v
	case *aggregate.FeedRemovedFromCollectionPayload:
		return *v
	case *aggregate.CollectionFeedReorderedPayload:
		return *v
	case *aggregate.EventsRemovedPayload:
		return *v
	case *aggregate.UserCheckpointPayload:
		return *v
	default:
		return p
	}
}
