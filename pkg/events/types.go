// Package events provides real-time debate event delivery over SSE, with an
// in-process broker for single-node deployments and a Redis pub/sub broker
// for cross-pod distribution.
package events

import (
	"encoding/json"
	"time"
)

// Event types on the debate stream.
const (
	EventTypeRoundStarted = "round_started"
	EventTypeRoundEnded   = "round_ended"
	EventTypeMessage      = "message"
	EventTypeSeatMessage  = "seat_message"
	EventTypeScore        = "score"
	EventTypeNotice       = "notice"
	EventTypeFinal        = "final"
	EventTypeError        = "error"
	EventTypeDebateFailed = "debate_failed"
)

// IsTerminal reports whether an event type ends the stream.
func IsTerminal(eventType string) bool {
	switch eventType {
	case EventTypeFinal, EventTypeError, EventTypeDebateFailed:
		return true
	}
	return false
}

// DebateChannel returns the channel name for a debate's event stream.
// Format: "debate:{debate_id}"
func DebateChannel(debateID string) string {
	return "debate:" + debateID
}

// Event is one entry on a debate stream. Seq is assigned by the publisher
// and is strictly increasing per channel; clients resume with Last-Event-ID.
type Event struct {
	Seq       int64
	Type      string
	Timestamp time.Time
	Data      map[string]any
}

// MarshalJSON flattens Data to the top level alongside type/seq/timestamp,
// matching the wire schema SSE clients consume.
func (e Event) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(e.Data)+3)
	for k, v := range e.Data {
		m[k] = v
	}
	m["type"] = e.Type
	m["seq"] = e.Seq
	m["timestamp"] = e.Timestamp.UTC().Format(time.RFC3339Nano)
	return json.Marshal(m)
}

// UnmarshalJSON reverses MarshalJSON for the pub/sub backend.
func (e *Event) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if t, ok := m["type"].(string); ok {
		e.Type = t
	}
	if s, ok := m["seq"].(float64); ok {
		e.Seq = int64(s)
	}
	if ts, ok := m["timestamp"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.Timestamp = parsed
		}
	}
	delete(m, "type")
	delete(m, "seq")
	delete(m, "timestamp")
	e.Data = m
	return nil
}
