package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/podsync/syncd/internal/aggregate"
)

// CollectionsProjector maintains collections and collection_feeds.
type CollectionsProjector struct{}

func (CollectionsProjector) Name() string { return "collections" }

func (p CollectionsProjector) HandleBatch(ctx context.Context, tx *sql.Tx, batch []DecodedEvent) error {
	for _, de := range batch {
		userID := de.StreamID
		switch payload := de.Event.Payload.(type) {
		case aggregate.CollectionCreatedPayload:
			_, err := tx.ExecContext(ctx, `
				INSERT INTO collections (collection_id, user_id, title, is_default, color, description, is_public, deleted, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, false, false, $7)
				ON CONFLICT (collection_id) DO UPDATE SET
					title       = EXCLUDED.title,
					is_default  = EXCLUDED.is_default,
					color       = EXCLUDED.color,
					description = EXCLUDED.description
			`, payload.CollectionID, userID, payload.Title, payload.IsDefault, payload.Color, payload.Description, de.RecordedAt)
			if err != nil {
				return fmt.Errorf("collections: create: %w", err)
			}

		case aggregate.CollectionUpdatedPayload:
			if err := updateCollectionFields(ctx, tx, payload, de.RecordedAt); err != nil {
				return fmt.Errorf("collections: update: %w", err)
			}

		case aggregate.CollectionDeletedPayload:
			_, err := tx.ExecContext(ctx, `UPDATE collections SET deleted = true, updated_at = $2 WHERE collection_id = $1`,
				payload.CollectionID, de.RecordedAt)
			if err != nil {
				return fmt.Errorf("collections: delete: %w", err)
			}

		case aggregate.CollectionVisibilityChangedPayload:
			_, err := tx.ExecContext(ctx, `UPDATE collections SET is_public = $2, updated_at = $3 WHERE collection_id = $1`,
				payload.CollectionID, payload.IsPublic, de.RecordedAt)
			if err != nil {
				return fmt.Errorf("collections: visibility: %w", err)
			}

		case aggregate.FeedAddedToCollectionPayload:
			_, err := tx.ExecContext(ctx, `
				INSERT INTO collection_feeds (collection_id, feed_id, position)
				SELECT $1, $2, COALESCE(MAX(position), -1) + 1 FROM collection_feeds WHERE collection_id = $1
				ON CONFLICT (collection_id, feed_id) DO NOTHING
			`, payload.CollectionID, payload.Feed)
			if err != nil {
				return fmt.Errorf("collections: add feed: %w", err)
			}

		case aggregate.FeedRemovedFromCollectionPayload:
			_, err := tx.ExecContext(ctx, `
				DELETE FROM collection_feeds WHERE collection_id = $1 AND feed_id = $2
			`, payload.CollectionID, payload.Feed)
			if err != nil {
				return fmt.Errorf("collections: remove feed: %w", err)
			}

		case aggregate.CollectionFeedReorderedPayload:
			if err := replaceCollectionFeeds(ctx, tx, payload.CollectionID, payload.FeedOrder); err != nil {
				return fmt.Errorf("collections: reorder: %w", err)
			}

		case aggregate.UserCheckpointPayload:
			if err := rebuildCollections(ctx, tx, userID, payload.Collections); err != nil {
				return fmt.Errorf("collections: checkpoint: %w", err)
			}
		}
	}
	return nil
}

func updateCollectionFields(ctx context.Context, tx *sql.Tx, payload aggregate.CollectionUpdatedPayload, recordedAt time.Time) error {
	if payload.Title != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE collections SET title = $2, updated_at = $3 WHERE collection_id = $1`, payload.CollectionID, *payload.Title, recordedAt); err != nil {
			return err
		}
	}
	if payload.Description != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE collections SET description = $2, updated_at = $3 WHERE collection_id = $1`, payload.CollectionID, *payload.Description, recordedAt); err != nil {
			return err
		}
	}
	if payload.Color != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE collections SET color = $2, updated_at = $3 WHERE collection_id = $1`, payload.CollectionID, *payload.Color, recordedAt); err != nil {
			return err
		}
	}
	return nil
}

func replaceCollectionFeeds(ctx context.Context, tx *sql.Tx, collectionID string, feedOrder []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM collection_feeds WHERE collection_id = $1`, collectionID); err != nil {
		return err
	}
	for i, feed := range feedOrder {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO collection_feeds (collection_id, feed_id, position) VALUES ($1, $2, $3)
		`, collectionID, feed, i); err != nil {
			return err
		}
	}
	return nil
}

func rebuildCollections(ctx context.Context, tx *sql.Tx, userID string, collections map[string]aggregate.Collection) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE user_id = $1`, userID); err != nil {
		return err
	}
	for _, c := range collections {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO collections (collection_id, user_id, title, is_default, color, description, is_public, deleted, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, c.ID, userID, c.Title, c.IsDefault, c.Color, c.Description, c.IsPublic, c.Deleted, c.UpdatedAt)
		if err != nil {
			return err
		}
		if err := replaceCollectionFeeds(ctx, tx, c.ID, c.FeedOrder); err != nil {
			return err
		}
	}
	return nil
}
