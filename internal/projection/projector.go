// Package projection runs the read-model pipeline (C5): a set of named
// projectors, each an independent at-least-once consumer of the global
// event stream with its own checkpoint, updating denormalized Postgres
// tables that the query side reads directly.
package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/podsync/syncd/internal/aggregate"
)

// Projector consumes a batch of decoded events inside an already-open
// transaction. It must upsert/delete its own rows keyed (never blind
// insert) so repeated delivery of the same event is a no-op.
type Projector interface {
	Name() string
	HandleBatch(ctx context.Context, tx *sql.Tx, batch []DecodedEvent) error
}

// DecodedEvent pairs a decoded aggregate event with the envelope fields a
// projector needs but that don't belong in the aggregate package (stream
// id, global position).
type DecodedEvent struct {
	GlobalPosition int64
	StreamID       string
	RecordedAt     time.Time
	Event          aggregate.Event
}

// ProjectorError reports a projector halted on a poison event. It is
// non-fatal to the write path: the pipeline simply stops advancing that
// one projector and keeps the others running.
type ProjectorError struct {
	Projector      string
	GlobalPosition int64
	Err            error
}

func (e *ProjectorError) Error() string {
	return fmt.Sprintf("projector %s halted at position %d: %v", e.Projector, e.GlobalPosition, e.Err)
}

func (e *ProjectorError) Unwrap() error {
	return e.Err
}
