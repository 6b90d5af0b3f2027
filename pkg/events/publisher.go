package events

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Publisher stamps sequence numbers and publishes one debate's events.
// Single-writer: only the lease holder constructs one. Publish failures are
// logged, never fatal — the DB row is the source of truth.
type Publisher struct {
	broker   Broker
	channel  string
	debateID string
	seq      atomic.Int64
}

// NewPublisher creates the publisher and its channel.
func NewPublisher(broker Broker, debateID string) *Publisher {
	channel := DebateChannel(debateID)
	broker.CreateChannel(channel)
	return &Publisher{broker: broker, channel: channel, debateID: debateID}
}

// Seed advances the sequence counter past seq, for resumed runs.
func (p *Publisher) Seed(seq int64) {
	for {
		cur := p.seq.Load()
		if cur >= seq || p.seq.CompareAndSwap(cur, seq) {
			return
		}
	}
}

// RoundStarted publishes a round_started event.
func (p *Publisher) RoundStarted(ctx context.Context, round int, phase string) {
	data := map[string]any{"round": round}
	if phase != "" {
		data["phase"] = phase
	}
	p.publish(ctx, EventTypeRoundStarted, data)
}

// RoundEnded publishes a round_ended event.
func (p *Publisher) RoundEnded(ctx context.Context, round int) {
	p.publish(ctx, EventTypeRoundEnded, map[string]any{"round": round})
}

// Message publishes a stage-aggregate message event.
func (p *Publisher) Message(ctx context.Context, round int, extra map[string]any) {
	data := map[string]any{"round": round}
	for k, v := range extra {
		data[k] = v
	}
	p.publish(ctx, EventTypeMessage, data)
}

// SeatMessage publishes one seat's utterance.
func (p *Publisher) SeatMessage(ctx context.Context, round int, phase string, data map[string]any) {
	merged := map[string]any{"round": round, "phase": phase}
	for k, v := range data {
		merged[k] = v
	}
	p.publish(ctx, EventTypeSeatMessage, merged)
}

// Score publishes the judge scoring summary for a round.
func (p *Publisher) Score(ctx context.Context, round int, scores map[string]float64, judges []string) {
	p.publish(ctx, EventTypeScore, map[string]any{
		"round": round, "scores": scores, "judges": judges,
	})
}

// Notice publishes an advisory event (degradations, budget stops).
func (p *Publisher) Notice(ctx context.Context, level, message string) {
	p.publish(ctx, EventTypeNotice, map[string]any{"level": level, "message": message})
}

// Final publishes the terminal success event.
func (p *Publisher) Final(ctx context.Context, content string, meta map[string]any) {
	p.publish(ctx, EventTypeFinal, map[string]any{"content": content, "meta": meta})
}

// Error publishes the terminal error event.
func (p *Publisher) Error(ctx context.Context, message string) {
	p.publish(ctx, EventTypeError, map[string]any{"message": message})
}

// DebateFailed publishes the terminal failure event.
func (p *Publisher) DebateFailed(ctx context.Context, reason string, meta map[string]any) {
	p.publish(ctx, EventTypeDebateFailed, map[string]any{"reason": reason, "meta": meta})
}

// LastSeq returns the last published sequence number.
func (p *Publisher) LastSeq() int64 {
	return p.seq.Load()
}

func (p *Publisher) publish(ctx context.Context, eventType string, data map[string]any) {
	ev := Event{
		Seq:       p.seq.Add(1),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
	if err := p.broker.Publish(ctx, p.channel, ev); err != nil {
		slog.Warn("Failed to publish event",
			"debate_id", p.debateID, "event_type", eventType, "error", err)
	}
}
