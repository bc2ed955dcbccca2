// Package compaction implements C7: a periodic worker that snapshots each
// user's aggregate into a UserCheckpoint event and then physically prunes
// the raw events that checkpoint superseded, bounding per-user replay cost.
package compaction

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/podsync/syncd/internal/aggregate"
	"github.com/podsync/syncd/internal/dispatcher"
)

// Config mirrors the retention section of the deployment YAML.
type Config struct {
	Interval        time.Duration
	CheckpointAfter time.Duration
	PruneAfter      time.Duration
}

// DefaultConfig matches spec.md §4.7's defaults.
func DefaultConfig() Config {
	return Config{Interval: 15 * time.Minute, CheckpointAfter: 45 * 24 * time.Hour, PruneAfter: 31 * 24 * time.Hour}
}

// Pruner deletes events at or below a version, reported back as the
// number of rows removed. Satisfied by *internal/eventlog.Store.
type Pruner interface {
	Prune(ctx context.Context, streamID string, cutoffVersion int) (int64, error)
}

// clock is overridable in tests; production always uses time.Now.
type clock func() time.Time

// Service runs the checkpoint/prune sweep on a ticker, grounded on the
// teacher's cleanup service loop shape.
type Service struct {
	db         *sql.DB
	dispatcher *dispatcher.Dispatcher
	store      Pruner
	cfg        Config
	now        clock

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a compaction service.
func New(db *sql.DB, d *dispatcher.Dispatcher, store Pruner, cfg Config) *Service {
	return &Service{db: db, dispatcher: d, store: store, cfg: cfg, now: time.Now}
}

// Start launches the background sweep loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("compaction service started",
		"checkpoint_after", s.cfg.CheckpointAfter, "prune_after", s.cfg.PruneAfter, "interval", s.cfg.Interval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("compaction service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	now := s.now()
	candidates, err := s.findEligibleStreams(ctx, now.Add(-s.cfg.CheckpointAfter))
	if err != nil {
		slog.Error("compaction: find eligible streams failed", "error", err)
		return
	}
	for _, userID := range candidates {
		if err := s.compactUser(ctx, userID, now); err != nil {
			slog.Error("compaction: sweep failed for user", "user_id", userID, "error", err)
		}
	}
}

// findEligibleStreams returns the user ids with at least one event recorded
// before checkpointCutoff, restricted to positions every registered
// projector (and the process manager) has already consumed — pruning ahead
// of a projector's checkpoint would silently erase updates it never saw.
func (s *Service) findEligibleStreams(ctx context.Context, checkpointCutoff time.Time) ([]string, error) {
	var safePosition sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT min(position) FROM projector_checkpoints`).Scan(&safePosition); err != nil {
		return nil, fmt.Errorf("compaction: read safe position: %w", err)
	}
	if !safePosition.Valid {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT stream_id FROM events
		WHERE recorded_at < $1 AND global_position <= $2`, checkpointCutoff, safePosition.Int64)
	if err != nil {
		return nil, fmt.Errorf("compaction: query eligible streams: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("compaction: scan stream id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Service) compactUser(ctx context.Context, userID string, now time.Time) error {
	checkpointCutoff := now.Add(-s.cfg.CheckpointAfter)
	pruneCutoff := now.Add(-s.cfg.PruneAfter)

	beforeVersion, err := s.maxPrunableVersion(ctx, userID, pruneCutoff)
	if err != nil {
		return err
	}
	if beforeVersion <= 0 {
		return nil
	}

	records, err := s.dispatcher.Dispatch(ctx, userID, aggregate.Snapshot{
		CleanupOldEvents: true,
		RetentionCutoff:  checkpointCutoff,
	}, aggregate.EventInfos{})
	if err != nil {
		return fmt.Errorf("dispatch snapshot: %w", err)
	}
	if len(records) == 0 {
		return nil
	}
	checkpointVersion := records[0].Version

	cutoff := beforeVersion
	if checkpointVersion-1 < cutoff {
		cutoff = checkpointVersion - 1
	}
	if cutoff <= 0 {
		return nil
	}

	pruned, err := s.store.Prune(ctx, userID, cutoff)
	if err != nil {
		return fmt.Errorf("prune: %w", err)
	}
	if pruned > 0 {
		slog.Info("compaction: pruned events", "user_id", userID, "count", pruned, "before_version", cutoff)
	}
	return nil
}

// maxPrunableVersion returns the highest version that is both already
// consumed by every projector and the process manager (global_position
// floor) and older than pruneCutoff — spec.md §4.7 step 3 bounds physical
// deletion by event age, not just by projector consumption. Events newer
// than pruneCutoff are kept even once every projector has caught up to them.
func (s *Service) maxPrunableVersion(ctx context.Context, userID string, pruneCutoff time.Time) (int, error) {
	var safePosition sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT min(position) FROM projector_checkpoints`).Scan(&safePosition); err != nil {
		return 0, fmt.Errorf("compaction: read safe position: %w", err)
	}
	if !safePosition.Valid {
		return 0, nil
	}

	var version sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT max(version) FROM events
		WHERE stream_id = $1 AND global_position <= $2 AND recorded_at < $3`, userID, safePosition.Int64, pruneCutoff,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("compaction: max prunable version: %w", err)
	}
	return int(version.Int64), nil
}
