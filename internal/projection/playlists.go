package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/podsync/syncd/internal/aggregate"
)

// PlaylistsProjector maintains playlists and playlist_items. Ordering
// changes (PlaylistReordered) replace the item rows wholesale, since
// position is an ordinal with no independent identity of its own.
type PlaylistsProjector struct{}

func (PlaylistsProjector) Name() string { return "playlists" }

func (p PlaylistsProjector) HandleBatch(ctx context.Context, tx *sql.Tx, batch []DecodedEvent) error {
	for _, de := range batch {
		userID := de.StreamID
		switch payload := de.Event.Payload.(type) {
		case aggregate.PlaylistCreatedPayload:
			_, err := tx.ExecContext(ctx, `
				INSERT INTO playlists (playlist_id, user_id, name, description, is_public, deleted, updated_at)
				VALUES ($1, $2, $3, $4, false, false, $5)
				ON CONFLICT (playlist_id) DO UPDATE SET
					name        = EXCLUDED.name,
					description = EXCLUDED.description
			`, payload.PlaylistID, userID, payload.Name, payload.Description, de.RecordedAt)
			if err != nil {
				return fmt.Errorf("playlists: create: %w", err)
			}

		case aggregate.PlaylistUpdatedPayload:
			if err := updatePlaylistFields(ctx, tx, payload.PlaylistID, payload.Name, payload.Description, de.RecordedAt); err != nil {
				return fmt.Errorf("playlists: update: %w", err)
			}

		case aggregate.PlaylistDeletedPayload:
			_, err := tx.ExecContext(ctx, `UPDATE playlists SET deleted = true, updated_at = $2 WHERE playlist_id = $1`,
				payload.PlaylistID, de.RecordedAt)
			if err != nil {
				return fmt.Errorf("playlists: delete: %w", err)
			}

		case aggregate.PlaylistVisibilityChangedPayload:
			_, err := tx.ExecContext(ctx, `UPDATE playlists SET is_public = $2, updated_at = $3 WHERE playlist_id = $1`,
				payload.PlaylistID, payload.IsPublic, de.RecordedAt)
			if err != nil {
				return fmt.Errorf("playlists: visibility: %w", err)
			}

		case aggregate.PlaylistReorderedPayload:
			if err := replacePlaylistItems(ctx, tx, payload.PlaylistID, payload.Items); err != nil {
				return fmt.Errorf("playlists: reorder: %w", err)
			}

		case aggregate.EpisodeSavedPayload:
			if err := appendPlaylistItem(ctx, tx, payload.Playlist, payload.Feed, payload.Item, payload.ItemTitle, payload.FeedTitle); err != nil {
				return fmt.Errorf("playlists: save episode: %w", err)
			}

		case aggregate.EpisodeUnsavedPayload:
			_, err := tx.ExecContext(ctx, `
				DELETE FROM playlist_items WHERE playlist_id = $1 AND feed_id = $2 AND item_id = $3
			`, payload.Playlist, payload.Feed, payload.Item)
			if err != nil {
				return fmt.Errorf("playlists: unsave episode: %w", err)
			}

		case aggregate.UserCheckpointPayload:
			if err := rebuildPlaylists(ctx, tx, userID, payload.Playlists); err != nil {
				return fmt.Errorf("playlists: checkpoint: %w", err)
			}
		}
	}
	return nil
}

func updatePlaylistFields(ctx context.Context, tx *sql.Tx, playlistID string, name, description *string, recordedAt time.Time) error {
	if name != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE playlists SET name = $2, updated_at = $3 WHERE playlist_id = $1`, playlistID, *name, recordedAt); err != nil {
			return err
		}
	}
	if description != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE playlists SET description = $2, updated_at = $3 WHERE playlist_id = $1`, playlistID, *description, recordedAt); err != nil {
			return err
		}
	}
	return nil
}

// appendPlaylistItem inserts at the next free position; replays of the
// same save are idempotent via the (feed,item) existence check.
func appendPlaylistItem(ctx context.Context, tx *sql.Tx, playlistID, feed, item, itemTitle, feedTitle string) error {
	var exists bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM playlist_items WHERE playlist_id = $1 AND feed_id = $2 AND item_id = $3)
	`, playlistID, feed, item).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO playlist_items (playlist_id, position, feed_id, item_id, item_title, feed_title)
		SELECT $1, COALESCE(MAX(position), -1) + 1, $2, $3, $4, $5
		FROM playlist_items WHERE playlist_id = $1
	`, playlistID, feed, item, itemTitle, feedTitle)
	return err
}

func replacePlaylistItems(ctx context.Context, tx *sql.Tx, playlistID string, items []aggregate.PlaylistItem) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM playlist_items WHERE playlist_id = $1`, playlistID); err != nil {
		return err
	}
	for i, item := range items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO playlist_items (playlist_id, position, feed_id, item_id)
			VALUES ($1, $2, $3, $4)
		`, playlistID, i, item.Feed, item.Item)
		if err != nil {
			return err
		}
	}
	return nil
}

func rebuildPlaylists(ctx context.Context, tx *sql.Tx, userID string, playlists map[string]aggregate.Playlist) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM playlists WHERE user_id = $1`, userID); err != nil {
		return err
	}
	for _, pl := range playlists {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO playlists (playlist_id, user_id, name, description, is_public, deleted, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, pl.ID, userID, pl.Name, pl.Description, pl.IsPublic, pl.Deleted, pl.UpdatedAt)
		if err != nil {
			return err
		}
		if err := replacePlaylistItems(ctx, tx, pl.ID, pl.Items); err != nil {
			return err
		}
	}
	return nil
}
