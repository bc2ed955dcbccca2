package projection

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/podsync/syncd/internal/aggregate"
)

// SubscriptionsProjector maintains the subscriptions read model: one row
// per (user, feed), upserted on every (re)subscribe/unsubscribe and
// replaced wholesale on a checkpoint.
type SubscriptionsProjector struct{}

func (SubscriptionsProjector) Name() string { return "subscriptions" }

func (p SubscriptionsProjector) HandleBatch(ctx context.Context, tx *sql.Tx, batch []DecodedEvent) error {
	for _, de := range batch {
		userID := de.StreamID
		switch payload := de.Event.Payload.(type) {
		case aggregate.UserSubscribedPayload:
			_, err := tx.ExecContext(ctx, `
				INSERT INTO subscriptions (user_id, feed_id, source_id, subscribed_at, unsubscribed_at)
				VALUES ($1, $2, $3, $4, NULL)
				ON CONFLICT (user_id, feed_id) DO UPDATE SET
					source_id = EXCLUDED.source_id,
					subscribed_at = GREATEST(subscriptions.subscribed_at, EXCLUDED.subscribed_at)
			`, userID, payload.Feed, payload.SourceID, payload.SubscribedAt)
			if err != nil {
				return fmt.Errorf("subscriptions: upsert subscribe: %w", err)
			}

		case aggregate.UserUnsubscribedPayload:
			// Unknown feeds are a no-op (spec: unsubscribing an unsubscribed
			// feed still emits the event, but projectors ignore it).
			_, err := tx.ExecContext(ctx, `
				UPDATE subscriptions SET
					unsubscribed_at = GREATEST(COALESCE(unsubscribed_at, '-infinity'::timestamptz), $3)
				WHERE user_id = $1 AND feed_id = $2
			`, userID, payload.Feed, payload.UnsubscribedAt)
			if err != nil {
				return fmt.Errorf("subscriptions: upsert unsubscribe: %w", err)
			}

		case aggregate.UserCheckpointPayload:
			if err := rebuildSubscriptions(ctx, tx, userID, payload.Subscriptions); err != nil {
				return fmt.Errorf("subscriptions: checkpoint: %w", err)
			}
		}
	}
	return nil
}

// rebuildSubscriptions replaces a user's rows verbatim from a checkpoint
// fold (invariant 6: a checkpoint overwrites substate, not merges it).
func rebuildSubscriptions(ctx context.Context, tx *sql.Tx, userID string, subs map[string]aggregate.Subscription) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM subscriptions WHERE user_id = $1`, userID); err != nil {
		return err
	}
	for _, sub := range subs {
		var unsubscribedAt any
		if !sub.UnsubscribedAt.IsZero() {
			unsubscribedAt = sub.UnsubscribedAt
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO subscriptions (user_id, feed_id, source_id, subscribed_at, unsubscribed_at)
			VALUES ($1, $2, $3, $4, $5)
		`, userID, sub.Feed, sub.SourceID, sub.SubscribedAt, unsubscribedAt)
		if err != nil {
			return err
		}
	}
	return nil
}
