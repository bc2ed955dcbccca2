package events

import "encoding/json"

type wirePayload struct {
	GlobalPosition int64  `json:"global_position"`
	StreamID       string `json:"stream_id"`
	Type           string `json:"type"`
}

func decodeNotification(raw string) (Notification, error) {
	var w wirePayload
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return Notification{}, err
	}
	return Notification{GlobalPosition: w.GlobalPosition, StreamID: w.StreamID, Type: w.Type}, nil
}
