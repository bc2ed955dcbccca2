package projection

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/podsync/syncd/internal/aggregate"
)

// PlayStatusesProjector maintains the play_statuses read model, keyed by
// (user, item). Both PlayRecorded and PositionUpdated feed it; a late
// duplicate can never regress progress because the upsert only advances
// position/played forward, the same precedence chain ResolvePlayPosition
// uses for cross-device sync.
type PlayStatusesProjector struct{}

func (PlayStatusesProjector) Name() string { return "play_statuses" }

func (p PlayStatusesProjector) HandleBatch(ctx context.Context, tx *sql.Tx, batch []DecodedEvent) error {
	for _, de := range batch {
		userID := de.StreamID
		switch payload := de.Event.Payload.(type) {
		case aggregate.PlayRecordedPayload:
			_, err := tx.ExecContext(ctx, `
				INSERT INTO play_statuses (user_id, item_id, feed_id, position, played, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (user_id, item_id) DO UPDATE SET
					feed_id    = EXCLUDED.feed_id,
					position   = GREATEST(play_statuses.position, EXCLUDED.position),
					played     = play_statuses.played OR EXCLUDED.played,
					updated_at = GREATEST(play_statuses.updated_at, EXCLUDED.updated_at)
			`, userID, payload.Item, payload.Feed, payload.Position, payload.Played, payload.At)
			if err != nil {
				return fmt.Errorf("play_statuses: record play: %w", err)
			}

		case aggregate.PositionUpdatedPayload:
			_, err := tx.ExecContext(ctx, `
				INSERT INTO play_statuses (user_id, item_id, feed_id, position, played, updated_at)
				VALUES ($1, $2, $3, $4, false, $5)
				ON CONFLICT (user_id, item_id) DO UPDATE SET
					feed_id    = EXCLUDED.feed_id,
					position   = GREATEST(play_statuses.position, EXCLUDED.position),
					updated_at = GREATEST(play_statuses.updated_at, EXCLUDED.updated_at)
			`, userID, payload.Item, payload.Feed, payload.Position, payload.At)
			if err != nil {
				return fmt.Errorf("play_statuses: update position: %w", err)
			}

		case aggregate.UserCheckpointPayload:
			if err := rebuildPlayStatuses(ctx, tx, userID, payload.PlayStatuses); err != nil {
				return fmt.Errorf("play_statuses: checkpoint: %w", err)
			}
		}
	}
	return nil
}

func rebuildPlayStatuses(ctx context.Context, tx *sql.Tx, userID string, statuses map[string]aggregate.PlayStatus) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM play_statuses WHERE user_id = $1`, userID); err != nil {
		return err
	}
	for _, st := range statuses {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO play_statuses (user_id, item_id, feed_id, position, played, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, userID, st.Item, st.Feed, st.Position, st.Played, st.UpdatedAt)
		if err != nil {
			return err
		}
	}
	return nil
}
