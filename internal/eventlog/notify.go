package eventlog

import (
	"encoding/json"
	"fmt"
)

// eventsChannel is the single LISTEN/NOTIFY channel every appended event is
// broadcast on; subscribers filter by stream_id client-side. One channel
// keeps the listener side of C1 to a single long-lived connection instead of
// one per active stream.
const eventsChannel = "syncd_events"

// notifyPayload is the routing envelope carried over NOTIFY. It is
// deliberately small: subscribers that need the full payload re-read it by
// global_position (Store.RecordAtPosition), the same truncation tradeoff the teacher's
// publisher makes for its own NOTIFY payloads.
type notifyPayload struct {
	GlobalPosition int64  `json:"global_position"`
	StreamID       string `json:"stream_id"`
	Type           string `json:"type"`
}

func buildNotifyPayload(rec Record) (string, error) {
	p := notifyPayload{GlobalPosition: rec.GlobalPosition, StreamID: rec.StreamID, Type: rec.Type}
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("eventlog: marshal notify payload: %w", err)
	}
	return string(b), nil
}
