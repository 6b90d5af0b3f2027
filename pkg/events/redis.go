package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
)

// publishRetries bounds transient-error retries on publish.
const publishRetries = 3

// RedisBroker distributes debate events across pods via Redis pub/sub.
// No history is retained: Last-Event-ID catch-up degrades to a live tail.
type RedisBroker struct {
	client      *redis.Client
	idleTimeout time.Duration
}

// NewRedisBroker connects a broker to the Redis at url.
func NewRedisBroker(url string, idleTimeout time.Duration) (*RedisBroker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisBroker{
		client:      redis.NewClient(opts),
		idleTimeout: idleTimeout,
	}, nil
}

// CreateChannel is a no-op: Redis topics exist implicitly.
func (b *RedisBroker) CreateChannel(string) {}

// Publish encodes the event as JSON and publishes it, retrying transient
// connection errors with exponential backoff.
func (b *RedisBroker) Publish(ctx context.Context, channelID string, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	delay := 100 * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= publishRetries; attempt++ {
		lastErr = b.client.Publish(ctx, channelID, data).Err()
		if lastErr == nil {
			return nil
		}
		if !isTransientRedisErr(lastErr) || attempt == publishRetries {
			return fmt.Errorf("publish to %s: %w", channelID, lastErr)
		}
		slog.Warn("Transient publish error, retrying",
			"channel", channelID, "attempt", attempt, "error", lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return lastErr
}

// Subscribe streams events from the topic until a terminal event, idle
// timeout, or ctx cancellation. fromSeq is ignored (no retained history).
func (b *RedisBroker) Subscribe(ctx context.Context, channelID string, _ int64) (<-chan Event, error) {
	ps := b.client.Subscribe(ctx, channelID)
	// Force the subscription to be established before returning so the
	// caller cannot miss events published immediately after.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", channelID, err)
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		defer ps.Close()

		msgs := ps.Channel()
		idle := time.NewTimer(b.idleTimeout)
		defer idle.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-idle.C:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					slog.Warn("Dropping undecodable event", "channel", channelID, "error", err)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
				if IsTerminal(ev.Type) {
					return
				}
				if !idle.Stop() {
					select {
					case <-idle.C:
					default:
					}
				}
				idle.Reset(b.idleTimeout)
			}
		}
	}()
	return out, nil
}

// Cleanup is a no-op: topics disappear when the last subscriber leaves.
func (b *RedisBroker) Cleanup(string) {}

// Ping verifies the Redis connection.
func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close closes the underlying client, ending all subscriptions.
func (b *RedisBroker) Close() error {
	return b.client.Close()
}

func isTransientRedisErr(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded)
}
