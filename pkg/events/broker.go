package events

import (
	"context"
	"fmt"
)

// Broker is the SSE fan-out abstraction. One writer per channel (the lease
// holder), many readers.
type Broker interface {
	// CreateChannel registers a channel before its first publish. Idempotent.
	CreateChannel(channelID string)

	// Publish delivers an event to all current subscribers of channelID.
	// Best-effort: slow subscribers lose oldest events, never block the writer.
	Publish(ctx context.Context, channelID string, ev Event) error

	// Subscribe returns a stream of events for channelID starting after
	// fromSeq (0 = live tail only for backends without history). The stream
	// closes on a terminal event, on idle timeout, or when ctx is done.
	Subscribe(ctx context.Context, channelID string, fromSeq int64) (<-chan Event, error)

	// Cleanup drops a channel and disconnects its subscribers.
	Cleanup(channelID string)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close shuts the broker down and disconnects all subscribers.
	Close() error
}

// FormatSSE renders an event as an SSE frame: "id: <seq>\ndata: <json>\n\n".
func FormatSSE(ev Event) ([]byte, error) {
	data, err := ev.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return []byte(fmt.Sprintf("id: %d\ndata: %s\n\n", ev.Seq, data)), nil
}
