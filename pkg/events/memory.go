package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var droppedEvents = promauto.NewCounter(prometheus.CounterOpts{
	Name: "arbiter_sse_events_dropped_total",
	Help: "Events dropped from full subscriber buffers (oldest first).",
})

// MemoryConfig tunes the in-process broker.
type MemoryConfig struct {
	MaxQueueSize int           // per-channel history and per-subscriber buffer bound
	IdleTimeout  time.Duration // subscriber closes after this much silence
	ChannelTTL   time.Duration // sweeper removes channels idle this long
}

// MemoryBroker is the single-node Broker. Each channel keeps a bounded
// event history (oldest dropped first) used for Last-Event-ID catch-up,
// plus an independent bounded buffer per subscriber.
type MemoryBroker struct {
	mu       sync.Mutex
	cfg      MemoryConfig
	channels map[string]*memChannel

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type memChannel struct {
	history      []Event
	subscribers  map[int]*memSubscriber
	nextSubID    int
	lastActivity time.Time
}

type memSubscriber struct {
	mu     sync.Mutex
	queue  []Event
	bound  int
	notify chan struct{}
	closed bool
}

// NewMemoryBroker creates the broker and starts its channel sweeper.
func NewMemoryBroker(cfg MemoryConfig) *MemoryBroker {
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 1024
	}
	b := &MemoryBroker{
		cfg:      cfg,
		channels: make(map[string]*memChannel),
		stopCh:   make(chan struct{}),
	}
	if cfg.ChannelTTL > 0 {
		b.wg.Add(1)
		go b.sweeperLoop()
	}
	return b
}

// CreateChannel registers a channel. Idempotent.
func (b *MemoryBroker) CreateChannel(channelID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channelLocked(channelID)
}

// Publish enqueues the event to the channel history and every subscriber.
func (b *MemoryBroker) Publish(_ context.Context, channelID string, ev Event) error {
	b.mu.Lock()
	ch := b.channelLocked(channelID)
	ch.lastActivity = time.Now()
	ch.history = append(ch.history, ev)
	if len(ch.history) > b.cfg.MaxQueueSize {
		ch.history = ch.history[1:]
	}
	subs := make([]*memSubscriber, 0, len(ch.subscribers))
	for _, s := range ch.subscribers {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.push(ev)
	}
	return nil
}

// Subscribe streams events after fromSeq until a terminal event, idle
// timeout, or ctx cancellation.
func (b *MemoryBroker) Subscribe(ctx context.Context, channelID string, fromSeq int64) (<-chan Event, error) {
	b.mu.Lock()
	ch := b.channelLocked(channelID)
	sub := &memSubscriber{
		bound:  b.cfg.MaxQueueSize,
		notify: make(chan struct{}, 1),
	}
	id := ch.nextSubID
	ch.nextSubID++
	ch.subscribers[id] = sub

	// Catch-up: replay retained history the client has not seen.
	for _, ev := range ch.history {
		if ev.Seq > fromSeq {
			sub.queue = append(sub.queue, ev)
		}
	}
	if len(sub.queue) > 0 {
		select {
		case sub.notify <- struct{}{}:
		default:
		}
	}
	b.mu.Unlock()

	out := make(chan Event)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer close(out)
		defer b.removeSubscriber(channelID, id)

		idle := time.NewTimer(b.idleTimeout())
		defer idle.Stop()

		for {
			for {
				ev, ok := sub.pop()
				if !ok {
					break
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				case <-b.stopCh:
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
				idle.Reset(b.idleTimeout())
			}

			if sub.isClosed() {
				return
			}

			select {
			case <-sub.notify:
			case <-idle.C:
				return
			case <-ctx.Done():
				return
			case <-b.stopCh:
				return
			}
		}
	}()
	return out, nil
}

// Cleanup drops a channel and disconnects its subscribers.
func (b *MemoryBroker) Cleanup(channelID string) {
	b.mu.Lock()
	ch, ok := b.channels[channelID]
	if ok {
		delete(b.channels, channelID)
	}
	b.mu.Unlock()
	if ok {
		for _, s := range ch.subscribers {
			s.close()
		}
	}
}

// Ping always succeeds for the in-process backend.
func (b *MemoryBroker) Ping(context.Context) error { return nil }

// Close stops the sweeper and disconnects all subscribers.
func (b *MemoryBroker) Close() error {
	b.stopOnce.Do(func() { close(b.stopCh) })
	b.mu.Lock()
	for id, ch := range b.channels {
		for _, s := range ch.subscribers {
			s.close()
		}
		delete(b.channels, id)
	}
	b.mu.Unlock()
	b.wg.Wait()
	return nil
}

func (b *MemoryBroker) channelLocked(channelID string) *memChannel {
	ch, ok := b.channels[channelID]
	if !ok {
		ch = &memChannel{
			subscribers:  make(map[int]*memSubscriber),
			lastActivity: time.Now(),
		}
		b.channels[channelID] = ch
	}
	return ch
}

func (b *MemoryBroker) removeSubscriber(channelID string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.channels[channelID]; ok {
		delete(ch.subscribers, id)
	}
}

func (b *MemoryBroker) idleTimeout() time.Duration {
	if b.cfg.IdleTimeout > 0 {
		return b.cfg.IdleTimeout
	}
	return 5 * time.Minute
}

func (b *MemoryBroker) sweeperLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.ChannelTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.sweep()
		}
	}
}

func (b *MemoryBroker) sweep() {
	cutoff := time.Now().Add(-b.cfg.ChannelTTL)
	b.mu.Lock()
	var stale []string
	for id, ch := range b.channels {
		if ch.lastActivity.Before(cutoff) && len(ch.subscribers) == 0 {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		delete(b.channels, id)
	}
	b.mu.Unlock()
	if len(stale) > 0 {
		slog.Debug("Swept idle event channels", "count", len(stale))
	}
}

func (s *memSubscriber) push(ev Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	if len(s.queue) > s.bound {
		// Drop oldest, never newest: terminal events must get through.
		s.queue = s.queue[1:]
		droppedEvents.Inc()
	}
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *memSubscriber) pop() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return Event{}, false
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev, true
}

func (s *memSubscriber) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *memSubscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
