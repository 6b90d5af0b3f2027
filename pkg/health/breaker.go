// Package health tracks per-provider/model call outcomes in a sliding
// window and short-circuits routing when a target's recent error rate is
// too high.
package health

import (
	"log/slog"
	"sync"
	"time"
)

// Config tunes the circuit breaker.
type Config struct {
	Window         time.Duration // outcome retention window
	ErrorThreshold float64       // open when err/total >= this
	MinCalls       int           // and total >= this
	Cooldown       time.Duration // how long an open circuit stays open
}

type outcome struct {
	at time.Time
	ok bool
}

type circuit struct {
	outcomes  []outcome
	openUntil time.Time
}

// Breaker is a sliding-window error-rate circuit breaker keyed by
// "provider/model". Safe for concurrent use.
type Breaker struct {
	mu       sync.Mutex
	cfg      Config
	circuits map[string]*circuit
	now      func() time.Time
}

// Status is a point-in-time view of one circuit, exposed via the system
// health endpoint.
type Status struct {
	Key       string    `json:"key"`
	Healthy   bool      `json:"healthy"`
	Calls     int       `json:"calls"`
	Errors    int       `json:"errors"`
	ErrorRate float64   `json:"error_rate"`
	OpenUntil time.Time `json:"open_until,omitempty"`
}

// NewBreaker creates a breaker with the given config.
func NewBreaker(cfg Config) *Breaker {
	return &Breaker{
		cfg:      cfg,
		circuits: make(map[string]*circuit),
		now:      time.Now,
	}
}

// RecordSuccess records a successful call against key.
func (b *Breaker) RecordSuccess(key string) { b.record(key, true) }

// RecordFailure records a failed call against key.
func (b *Breaker) RecordFailure(key string) { b.record(key, false) }

func (b *Breaker) record(key string, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.circuit(key)
	now := b.now()
	c.prune(now, b.cfg.Window)
	c.outcomes = append(c.outcomes, outcome{at: now, ok: ok})

	if !ok && c.openUntil.Before(now) && b.shouldOpen(c) {
		c.openUntil = now.Add(b.cfg.Cooldown)
		// Fresh window after cooldown: the circuit re-opens only on new
		// evidence, not on the failures that tripped it.
		c.outcomes = nil
		slog.Warn("Provider circuit opened",
			"key", key, "cooldown", b.cfg.Cooldown)
	}
}

// IsHealthy reports whether key may receive traffic right now.
func (b *Breaker) IsHealthy(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.circuits[key]
	if !ok {
		return true
	}
	return c.openUntil.Before(b.now())
}

// Snapshot returns the current status of every tracked circuit.
func (b *Breaker) Snapshot() []Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	out := make([]Status, 0, len(b.circuits))
	for key, c := range b.circuits {
		c.prune(now, b.cfg.Window)
		errs := 0
		for _, o := range c.outcomes {
			if !o.ok {
				errs++
			}
		}
		s := Status{
			Key:     key,
			Healthy: c.openUntil.Before(now),
			Calls:   len(c.outcomes),
			Errors:  errs,
		}
		if len(c.outcomes) > 0 {
			s.ErrorRate = float64(errs) / float64(len(c.outcomes))
		}
		if !s.Healthy {
			s.OpenUntil = c.openUntil
		}
		out = append(out, s)
	}
	return out
}

func (b *Breaker) circuit(key string) *circuit {
	c, ok := b.circuits[key]
	if !ok {
		c = &circuit{}
		b.circuits[key] = c
	}
	return c
}

func (b *Breaker) shouldOpen(c *circuit) bool {
	total := len(c.outcomes)
	if total < b.cfg.MinCalls {
		return false
	}
	errs := 0
	for _, o := range c.outcomes {
		if !o.ok {
			errs++
		}
	}
	return float64(errs)/float64(total) >= b.cfg.ErrorThreshold
}

func (c *circuit) prune(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(c.outcomes) && c.outcomes[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		c.outcomes = c.outcomes[i:]
	}
}
