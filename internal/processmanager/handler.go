// Package processmanager implements C6: a durable event handler that
// reacts to domain events by issuing further commands. Its only reaction
// today is spec.md §4.6's first-subscribe flow, kept out of Decide so the
// aggregate stays pure and the causality chain (Subscribe -> UserSubscribed
// -> CreateCollection/AddFeedToCollection) is visible in the event log.
package processmanager

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/podsync/syncd/internal/aggregate"
	"github.com/podsync/syncd/internal/codec"
	"github.com/podsync/syncd/internal/dispatcher"
	"github.com/podsync/syncd/internal/eventlog"
)

const checkpointName = "process_manager"

const defaultCollectionTitle = "All Subscriptions"

// Config tunes batching and poll cadence.
type Config struct {
	BatchSize int
	PollEvery time.Duration
}

// DefaultConfig mirrors the values documented in the deployment YAML.
func DefaultConfig() Config {
	return Config{BatchSize: 200, PollEvery: 2 * time.Second}
}

// Handler consumes the same global event stream as the projection
// pipeline, advancing its own checkpoint row.
type Handler struct {
	db         *sql.DB
	store      *eventlog.Store
	dispatcher *dispatcher.Dispatcher
	cfg        Config
}

// New builds a process manager handler.
func New(db *sql.DB, store *eventlog.Store, d *dispatcher.Dispatcher, cfg Config) *Handler {
	return &Handler{db: db, store: store, dispatcher: d, cfg: cfg}
}

// DefaultCollectionID derives the deterministic, name-based id for a
// user's default collection — no storage lookup required (invariant 1).
func DefaultCollectionID(userID string) string {
	return uuid.NewSHA1(uuid.Nil, []byte("default-collection-"+userID)).String()
}

// Run polls for new events until ctx is canceled.
func (h *Handler) Run(ctx context.Context, wake <-chan struct{}) {
	ticker := time.NewTicker(h.cfg.PollEvery)
	defer ticker.Stop()

	for {
		n, err := h.processOnce(ctx)
		if err != nil {
			slog.Error("processmanager: batch failed", "error", err)
		}
		if n > 0 && err == nil {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-wake:
		}
	}
}

// ProcessOnce drains the current backlog synchronously, one batch at a time
// until none remain. Used by tests and available for a manual-trigger admin
// endpoint; production relies on Run's ticker loop instead.
func (h *Handler) ProcessOnce(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := h.processOnce(ctx)
		if err != nil {
			return total, err
		}
		total += n
		if n == 0 {
			return total, nil
		}
	}
}

func (h *Handler) processOnce(ctx context.Context) (int, error) {
	checkpoint, err := loadCheckpoint(ctx, h.db)
	if err != nil {
		return 0, err
	}

	records, err := h.store.ReadAll(ctx, checkpoint, h.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	for _, rec := range records {
		evt, decodeErr := codec.DecodeRecord(rec)
		if decodeErr != nil {
			return 0, fmt.Errorf("processmanager: decode %s at %d: %w", rec.StreamID, rec.GlobalPosition, decodeErr)
		}
		if payload, ok := evt.Payload.(aggregate.UserSubscribedPayload); ok {
			if err := h.onUserSubscribed(ctx, rec.StreamID, payload); err != nil {
				return 0, fmt.Errorf("processmanager: react to UserSubscribed for %s: %w", rec.StreamID, err)
			}
		}
		if err := advanceCheckpoint(ctx, h.db, rec.GlobalPosition); err != nil {
			return 0, err
		}
	}

	return len(records), nil
}

func (h *Handler) onUserSubscribed(ctx context.Context, userID string, payload aggregate.UserSubscribedPayload) error {
	collectionID := DefaultCollectionID(userID)

	_, err := h.dispatcher.Dispatch(ctx, userID, aggregate.CreateCollection{
		CollectionID: collectionID,
		Title:        defaultCollectionTitle,
		IsDefault:    true,
	}, aggregate.EventInfos{})
	if err != nil {
		var domainErr *aggregate.DomainError
		if !errors.As(err, &domainErr) || domainErr.Kind != aggregate.ErrDefaultCollectionExists {
			return fmt.Errorf("create default collection: %w", err)
		}
	}

	_, err = h.dispatcher.Dispatch(ctx, userID, aggregate.AddFeedToCollection{
		CollectionID: collectionID,
		Feed:         payload.Feed,
	}, aggregate.EventInfos{})
	if err != nil {
		return fmt.Errorf("add feed to default collection: %w", err)
	}
	return nil
}

func loadCheckpoint(ctx context.Context, db *sql.DB) (int64, error) {
	var position int64
	err := db.QueryRowContext(ctx,
		`INSERT INTO projector_checkpoints (name, position) VALUES ($1, 0)
		 ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		 RETURNING position`, checkpointName).Scan(&position)
	if err != nil {
		return 0, fmt.Errorf("processmanager: load checkpoint: %w", err)
	}
	return position, nil
}

func advanceCheckpoint(ctx context.Context, db *sql.DB, position int64) error {
	_, err := db.ExecContext(ctx,
		`UPDATE projector_checkpoints SET position = $2 WHERE name = $1 AND position < $2`, checkpointName, position)
	if err != nil {
		return fmt.Errorf("processmanager: advance checkpoint: %w", err)
	}
	return nil
}
