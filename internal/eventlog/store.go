package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

// Store is the Postgres-backed event log.
type Store struct {
	db *sql.DB
}

// New wraps an open pool. Migrations are applied by database.NewClient
// before this is constructed.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append writes events to streamID starting at expectedVersion+1. All events
// in the call are assigned consecutive versions and commit atomically. If
// expectedVersion no longer matches the stream's actual last version, Append
// returns a *ConflictError and writes nothing.
func (s *Store) Append(ctx context.Context, streamID string, expectedVersion int, events []NewEvent, notify func(streamID string, rec Record)) ([]Record, error) {
	if len(events) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("eventlog: begin append tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	head, err := s.currentVersion(ctx, tx, streamID)
	if err != nil {
		return nil, err
	}
	if head != expectedVersion {
		return nil, &ConflictError{StreamID: streamID, ExpectedVersion: expectedVersion, ActualVersion: head}
	}

	now := time.Now().UTC()
	records := make([]Record, 0, len(events))
	for i, e := range events {
		version := expectedVersion + i + 1
		id := uuid.New()
		var globalPosition int64
		err := tx.QueryRowContext(ctx, `
			INSERT INTO events (stream_id, version, id, type, payload, device_id, device_name, recorded_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING global_position`,
			streamID, version, id, e.Type, []byte(e.Payload), e.DeviceID, e.DeviceName, now,
		).Scan(&globalPosition)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
				// The failed INSERT aborted tx; read the head outside it.
				_ = tx.Rollback()
				actual, verErr := s.currentVersion(ctx, s.db, streamID)
				if verErr != nil {
					return nil, verErr
				}
				return nil, &ConflictError{StreamID: streamID, ExpectedVersion: expectedVersion, ActualVersion: actual}
			}
			return nil, fmt.Errorf("eventlog: insert event: %w", err)
		}
		rec := Record{
			GlobalPosition: globalPosition,
			StreamID:       streamID,
			Version:        version,
			ID:             id,
			Type:           e.Type,
			Payload:        json.RawMessage(e.Payload),
			DeviceID:       e.DeviceID,
			DeviceName:     e.DeviceName,
			RecordedAt:     now,
		}
		records = append(records, rec)

		// pg_notify is transactional: the channel only fires once the
		// transaction commits, so catchup queries racing a subscriber's
		// LISTEN can never observe a position that wasn't also persisted.
		payload, notifyErr := buildNotifyPayload(rec)
		if notifyErr != nil {
			return nil, notifyErr
		}
		if _, err := tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", eventsChannel, payload); err != nil {
			return nil, fmt.Errorf("eventlog: pg_notify: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("eventlog: commit append tx: %w", err)
	}

	if notify != nil {
		for _, rec := range records {
			notify(streamID, rec)
		}
	}
	return records, nil
}

func (s *Store) currentVersion(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, streamID string) (int, error) {
	var version sql.NullInt64
	err := q.QueryRowContext(ctx, `SELECT max(version) FROM events WHERE stream_id = $1`, streamID).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("eventlog: read current version: %w", err)
	}
	return int(version.Int64), nil
}

// ReadStream returns every event recorded for streamID, in version order.
func (s *Store) ReadStream(ctx context.Context, streamID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT global_position, stream_id, version, id, type, payload, device_id, device_name, recorded_at
		FROM events WHERE stream_id = $1 ORDER BY version ASC`, streamID)
	if err != nil {
		return nil, fmt.Errorf("eventlog: read stream: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ReadAll returns events with global_position > afterPosition, in position
// order, up to limit. Used by projectors to resume from a checkpoint.
func (s *Store) ReadAll(ctx context.Context, afterPosition int64, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT global_position, stream_id, version, id, type, payload, device_id, device_name, recorded_at
		FROM events WHERE global_position > $1 ORDER BY global_position ASC LIMIT $2`, afterPosition, limit)
	if err != nil {
		return nil, fmt.Errorf("eventlog: read all: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// RecordAtPosition fetches a single event by its global_position, used to
// resolve the full payload for a NOTIFY notification (which only carries
// routing fields) before forwarding it to WebSocket subscribers.
func (s *Store) RecordAtPosition(ctx context.Context, position int64) (Record, error) {
	var r Record
	err := s.db.QueryRowContext(ctx, `
		SELECT global_position, stream_id, version, id, type, payload, device_id, device_name, recorded_at
		FROM events WHERE global_position = $1`, position,
	).Scan(&r.GlobalPosition, &r.StreamID, &r.Version, &r.ID, &r.Type, &r.Payload, &r.DeviceID, &r.DeviceName, &r.RecordedAt)
	if err != nil {
		return Record{}, fmt.Errorf("eventlog: read record at position %d: %w", position, err)
	}
	return r, nil
}

// CatchupRecord is the minimal shape a late WebSocket subscriber needs to
// replay missed events for one stream.
type CatchupRecord struct {
	Version int
	Type    string
	Payload json.RawMessage
}

// ReadStreamAfter returns events for streamID with version > afterVersion,
// satisfying the events package's CatchupSource interface.
func (s *Store) ReadStreamAfter(ctx context.Context, streamID string, afterVersion int) ([]CatchupRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version, type, payload FROM events
		WHERE stream_id = $1 AND version > $2 ORDER BY version ASC`, streamID, afterVersion)
	if err != nil {
		return nil, fmt.Errorf("eventlog: read stream after: %w", err)
	}
	defer rows.Close()
	var out []CatchupRecord
	for rows.Next() {
		var rec CatchupRecord
		if err := rows.Scan(&rec.Version, &rec.Type, &rec.Payload); err != nil {
			return nil, fmt.Errorf("eventlog: scan catchup record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MaxPosition returns the highest global_position currently in the log, or 0
// if the log is empty.
func (s *Store) MaxPosition(ctx context.Context) (int64, error) {
	var pos sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT max(global_position) FROM events`).Scan(&pos); err != nil {
		return 0, fmt.Errorf("eventlog: read max position: %w", err)
	}
	return pos.Int64, nil
}

// Prune deletes events for streamID at or below version cutoffVersion,
// called by the compaction worker (C7) after a checkpoint covering them has
// been durably recorded.
func (s *Store) Prune(ctx context.Context, streamID string, cutoffVersion int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE stream_id = $1 AND version <= $2`, streamID, cutoffVersion)
	if err != nil {
		return 0, fmt.Errorf("eventlog: prune: %w", err)
	}
	return res.RowsAffected()
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.GlobalPosition, &r.StreamID, &r.Version, &r.ID, &r.Type, &r.Payload, &r.DeviceID, &r.DeviceName, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("eventlog: scan record: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("eventlog: row iteration: %w", err)
	}
	return out, nil
}
