// Package eventlog is the append-only per-stream event store (C1). Each
// user's history lives under a single stream_id; appends are serialized per
// stream via optimistic concurrency on the caller-supplied expected version.
package eventlog

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Record is a persisted event as read back from the log.
type Record struct {
	GlobalPosition int64
	StreamID       string
	Version        int
	ID             uuid.UUID
	Type           string
	Payload        json.RawMessage
	DeviceID       string
	DeviceName     string
	RecordedAt     time.Time
}

// NewEvent is one event to append, before a version or position is assigned.
type NewEvent struct {
	Type       string
	Payload    json.RawMessage
	DeviceID   string
	DeviceName string
}

// ConflictError is returned by Append when expectedVersion no longer matches
// the stream's actual version — another append won the race.
type ConflictError struct {
	StreamID        string
	ExpectedVersion int
	ActualVersion   int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("eventlog: conflict on stream %s: expected version %d, actual %d", e.StreamID, e.ExpectedVersion, e.ActualVersion)
}
