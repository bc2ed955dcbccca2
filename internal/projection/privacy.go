package projection

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/podsync/syncd/internal/aggregate"
)

// UserPrivacyProjector maintains user_privacy, keyed by (user, scope,
// subject). subject_id is empty for the global scope.
type UserPrivacyProjector struct{}

func (UserPrivacyProjector) Name() string { return "user_privacy" }

func (p UserPrivacyProjector) HandleBatch(ctx context.Context, tx *sql.Tx, batch []DecodedEvent) error {
	for _, de := range batch {
		userID := de.StreamID
		switch payload := de.Event.Payload.(type) {
		case aggregate.PrivacyChangedPayload:
			subjectID := subjectIDFor(payload.Scope, payload.Feed, payload.Item)
			_, err := tx.ExecContext(ctx, `
				INSERT INTO user_privacy (user_id, scope, subject_id, level, updated_at)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (user_id, scope, subject_id) DO UPDATE SET
					level      = EXCLUDED.level,
					updated_at = EXCLUDED.updated_at
				WHERE EXCLUDED.updated_at >= user_privacy.updated_at
			`, userID, string(payload.Scope), subjectID, string(payload.Level), de.RecordedAt)
			if err != nil {
				return fmt.Errorf("user_privacy: %w", err)
			}
		}
	}
	return nil
}

func subjectIDFor(scope aggregate.PrivacyScope, feed, item string) string {
	switch scope {
	case aggregate.ScopeItem:
		return item
	case aggregate.ScopeFeed:
		return feed
	default:
		return ""
	}
}
