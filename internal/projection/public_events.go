package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/podsync/syncd/internal/aggregate"
	"github.com/podsync/syncd/internal/codec"
	"github.com/podsync/syncd/internal/eventlog"
)

// popularity weights, spec.md §4.5.
const (
	weightSubscribe = 10
	weightPlay      = 5
	weightSave      = 3
	weightShare     = 2
)

// PublicActivityProjector maintains public_events and the derived
// feed_popularity/episode_popularity accumulators together: both are
// scored strictly from events that are currently public, so they share
// one privacy-eligibility computation rather than each re-deriving it.
// It keeps its own replay of PrivacyChanged (public_events_privacy),
// independent of the user_privacy projector's table, so either can be
// rebuilt from the event log alone.
type PublicActivityProjector struct {
	store *eventlog.Store
}

// NewPublicActivityProjector builds the projector. store is used only to
// re-read a single user's own stream when a privacy change requires
// reconciling which of their past events are now public.
func NewPublicActivityProjector(store *eventlog.Store) *PublicActivityProjector {
	return &PublicActivityProjector{store: store}
}

func (PublicActivityProjector) Name() string { return "public_events" }

func (p *PublicActivityProjector) HandleBatch(ctx context.Context, tx *sql.Tx, batch []DecodedEvent) error {
	for _, de := range batch {
		userID := de.StreamID
		switch payload := de.Event.Payload.(type) {
		case aggregate.PrivacyChangedPayload:
			subjectID := subjectIDFor(payload.Scope, payload.Feed, payload.Item)
			_, err := tx.ExecContext(ctx, `
				INSERT INTO public_events_privacy (user_id, scope, subject_id, level)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (user_id, scope, subject_id) DO UPDATE SET level = EXCLUDED.level
			`, userID, string(payload.Scope), subjectID, string(payload.Level))
			if err != nil {
				return fmt.Errorf("public_events: privacy cache: %w", err)
			}
			if err := p.reconcileUser(ctx, tx, userID); err != nil {
				return fmt.Errorf("public_events: reconcile %s: %w", userID, err)
			}

		case aggregate.UserSubscribedPayload:
			if err := p.considerEvent(ctx, tx, userID, de, payload.Feed, "", string(aggregate.EventUserSubscribed), weightSubscribe, popularityFeedOnly); err != nil {
				return err
			}
		case aggregate.PlayRecordedPayload:
			if err := p.considerEvent(ctx, tx, userID, de, payload.Feed, payload.Item, string(aggregate.EventPlayRecorded), weightPlay, popularityEpisode); err != nil {
				return err
			}
		case aggregate.EpisodeSavedPayload:
			if err := p.considerEvent(ctx, tx, userID, de, payload.Feed, payload.Item, string(aggregate.EventEpisodeSaved), weightSave, popularityEpisode); err != nil {
				return err
			}
		case aggregate.EpisodeSharedPayload:
			if err := p.considerEvent(ctx, tx, userID, de, payload.Feed, payload.Item, string(aggregate.EventEpisodeShared), weightShare, popularityEpisode); err != nil {
				return err
			}

		case aggregate.EventsRemovedPayload:
			if err := p.recomputePopularity(ctx, tx, payload.Feed, payload.Item); err != nil {
				return fmt.Errorf("public_events: recompute after removal: %w", err)
			}
		}
	}
	return nil
}

type popularityTarget int

const (
	popularityFeedOnly popularityTarget = iota
	popularityEpisode
)

// considerEvent records a public_events row (if the acting user's
// effective privacy at this scope is public) and bumps the matching
// popularity accumulator. Both are keyed by global_position /
// (feed,item), so replaying the same event twice is a no-op.
func (p *PublicActivityProjector) considerEvent(ctx context.Context, tx *sql.Tx, userID string, de DecodedEvent, feed, item, eventType string, weight int, target popularityTarget) error {
	level, err := effectivePrivacyLevel(ctx, tx, userID, feed, item)
	if err != nil {
		return fmt.Errorf("public_events: lookup privacy: %w", err)
	}
	if level != aggregate.PrivacyPublic {
		return nil
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO public_events (global_position, user_id, feed_id, item_id, type, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (global_position) DO NOTHING
	`, de.GlobalPosition, userID, feed, item, eventType, de.RecordedAt)
	if err != nil {
		return fmt.Errorf("public_events: insert: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("public_events: rows affected: %w", err)
	}
	if inserted == 0 {
		return nil
	}

	switch target {
	case popularityFeedOnly:
		return bumpFeedPopularity(ctx, tx, feed, weight, de.RecordedAt)
	case popularityEpisode:
		return bumpEpisodePopularity(ctx, tx, feed, item, eventType, weight, de.RecordedAt)
	}
	return nil
}

func bumpFeedPopularity(ctx context.Context, tx *sql.Tx, feed string, weight int, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO feed_popularity (feed_id, subscriber_count, score, updated_at)
		VALUES ($1, 1, $2, $3)
		ON CONFLICT (feed_id) DO UPDATE SET
			subscriber_count = feed_popularity.subscriber_count + 1,
			score            = feed_popularity.score + $2,
			updated_at       = $3
	`, feed, weight, at)
	return err
}

func bumpEpisodePopularity(ctx context.Context, tx *sql.Tx, feed, item, eventType string, weight int, at time.Time) error {
	playDelta, saveDelta, shareDelta := 0, 0, 0
	switch eventType {
	case string(aggregate.EventPlayRecorded):
		playDelta = 1
	case string(aggregate.EventEpisodeSaved):
		saveDelta = 1
	case string(aggregate.EventEpisodeShared):
		shareDelta = 1
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO episode_popularity (feed_id, item_id, play_count, save_count, share_count, score, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (feed_id, item_id) DO UPDATE SET
			play_count  = episode_popularity.play_count + $3,
			save_count  = episode_popularity.save_count + $4,
			share_count = episode_popularity.share_count + $5,
			score       = episode_popularity.score + $6,
			updated_at  = $7
	`, feed, item, playDelta, saveDelta, shareDelta, weight, at)
	return err
}

// recomputePopularity recalculates a feed/item's counters from whatever
// public_events rows still exist, used after EventsRemoved or a privacy
// reconciliation that drops rows.
func (p *PublicActivityProjector) recomputePopularity(ctx context.Context, tx *sql.Tx, feed, item string) error {
	if item == "" {
		var count int64
		if err := tx.QueryRowContext(ctx, `
			SELECT count(*) FROM public_events WHERE feed_id = $1 AND item_id = '' AND type = $2
		`, feed, string(aggregate.EventUserSubscribed)).Scan(&count); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO feed_popularity (feed_id, subscriber_count, score, updated_at)
			VALUES ($1, $2, $2 * $3, now())
			ON CONFLICT (feed_id) DO UPDATE SET subscriber_count = $2, score = $2 * $3, updated_at = now()
		`, feed, count, weightSubscribe)
		return err
	}

	counts := map[string]int64{}
	rows, err := tx.QueryContext(ctx, `
		SELECT type, count(*) FROM public_events WHERE feed_id = $1 AND item_id = $2 GROUP BY type
	`, feed, item)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var t string
		var c int64
		if err := rows.Scan(&t, &c); err != nil {
			return err
		}
		counts[t] = c
	}
	if err := rows.Err(); err != nil {
		return err
	}

	play := counts[string(aggregate.EventPlayRecorded)]
	save := counts[string(aggregate.EventEpisodeSaved)]
	share := counts[string(aggregate.EventEpisodeShared)]
	score := play*weightPlay + save*weightSave + share*weightShare

	_, err = tx.ExecContext(ctx, `
		INSERT INTO episode_popularity (feed_id, item_id, play_count, save_count, share_count, score, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (feed_id, item_id) DO UPDATE SET
			play_count = $3, save_count = $4, share_count = $5, score = $6, updated_at = now()
	`, feed, item, play, save, share, score)
	return err
}

// effectivePrivacyLevel resolves item > feed > global precedence from
// this projector's own privacy cache, defaulting to private.
func effectivePrivacyLevel(ctx context.Context, tx *sql.Tx, userID, feed, item string) (aggregate.PrivacyLevel, error) {
	lookup := func(scope, subjectID string) (aggregate.PrivacyLevel, bool, error) {
		var level string
		err := tx.QueryRowContext(ctx, `
			SELECT level FROM public_events_privacy WHERE user_id = $1 AND scope = $2 AND subject_id = $3
		`, userID, scope, subjectID).Scan(&level)
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		if err != nil {
			return "", false, err
		}
		return aggregate.PrivacyLevel(level), true, nil
	}

	if item != "" {
		if lvl, ok, err := lookup(string(aggregate.ScopeItem), item); err != nil {
			return "", err
		} else if ok {
			return lvl, nil
		}
	}
	if feed != "" {
		if lvl, ok, err := lookup(string(aggregate.ScopeFeed), feed); err != nil {
			return "", err
		} else if ok {
			return lvl, nil
		}
	}
	if lvl, ok, err := lookup(string(aggregate.ScopeGlobal), ""); err != nil {
		return "", err
	} else if ok {
		return lvl, nil
	}
	return aggregate.PrivacyPrivate, nil
}

// reconcileUser rebuilds every public_events row for userID from their
// full stream, applying the privacy cache as it stands now. Bounded to
// one user's history, kept short by C7's periodic pruning.
func (p *PublicActivityProjector) reconcileUser(ctx context.Context, tx *sql.Tx, userID string) error {
	affected, err := tx.QueryContext(ctx, `SELECT DISTINCT feed_id, item_id FROM public_events WHERE user_id = $1`, userID)
	if err != nil {
		return err
	}
	type key struct{ feed, item string }
	var keys []key
	for affected.Next() {
		var k key
		if err := affected.Scan(&k.feed, &k.item); err != nil {
			affected.Close()
			return err
		}
		keys = append(keys, k)
	}
	if err := affected.Err(); err != nil {
		return err
	}
	affected.Close()

	if _, err := tx.ExecContext(ctx, `DELETE FROM public_events WHERE user_id = $1`, userID); err != nil {
		return err
	}

	records, err := p.store.ReadStream(ctx, userID)
	if err != nil {
		return err
	}
	for _, rec := range records {
		evt, decodeErr := codec.DecodeRecord(rec)
		if decodeErr != nil {
			return decodeErr
		}
		de := DecodedEvent{GlobalPosition: rec.GlobalPosition, StreamID: userID, RecordedAt: rec.RecordedAt, Event: evt}
		switch payload := evt.Payload.(type) {
		case aggregate.UserSubscribedPayload:
			if err := p.considerEvent(ctx, tx, userID, de, payload.Feed, "", string(aggregate.EventUserSubscribed), weightSubscribe, popularityFeedOnly); err != nil {
				return err
			}
		case aggregate.PlayRecordedPayload:
			if err := p.considerEvent(ctx, tx, userID, de, payload.Feed, payload.Item, string(aggregate.EventPlayRecorded), weightPlay, popularityEpisode); err != nil {
				return err
			}
		case aggregate.EpisodeSavedPayload:
			if err := p.considerEvent(ctx, tx, userID, de, payload.Feed, payload.Item, string(aggregate.EventEpisodeSaved), weightSave, popularityEpisode); err != nil {
				return err
			}
		case aggregate.EpisodeSharedPayload:
			if err := p.considerEvent(ctx, tx, userID, de, payload.Feed, payload.Item, string(aggregate.EventEpisodeShared), weightShare, popularityEpisode); err != nil {
				return err
			}
		}
	}

	for _, k := range keys {
		if err := p.recomputePopularity(ctx, tx, k.feed, k.item); err != nil {
			return err
		}
	}
	return nil
}
