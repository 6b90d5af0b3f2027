package quota

import (
	"sync"
	"time"
)

// IPBucket is an in-memory fixed-window rate limiter keyed by client IP.
type IPBucket struct {
	mu       sync.Mutex
	counts   map[string]*ipWindow
	maxCalls int
	window   time.Duration
	now      func() time.Time
}

type ipWindow struct {
	count   int
	started time.Time
}

// NewIPBucket creates a limiter allowing maxCalls per window per IP.
func NewIPBucket(maxCalls int, window time.Duration) *IPBucket {
	return &IPBucket{
		counts:   make(map[string]*ipWindow),
		maxCalls: maxCalls,
		window:   window,
		now:      time.Now,
	}
}

// Allow records a call from ip. When the limit is exceeded it returns
// false plus the seconds until the window resets.
func (b *IPBucket) Allow(ip string) (bool, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	w, ok := b.counts[ip]
	if !ok || now.Sub(w.started) >= b.window {
		w = &ipWindow{started: now}
		b.counts[ip] = w
	}

	w.count++
	if w.count <= b.maxCalls {
		return true, 0
	}

	retryAfter := int(b.window.Seconds() - now.Sub(w.started).Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	return false, retryAfter
}

// Check wraps Allow in a RateLimitError for the HTTP layer.
func (b *IPBucket) Check(ip string) error {
	allowed, retryAfter := b.Allow(ip)
	if allowed {
		return nil
	}
	return &RateLimitError{
		Code:    CodeIPRateLimit,
		Detail:  "too many requests from this address",
		ResetAt: b.now().Add(time.Duration(retryAfter) * time.Second),
	}
}

// Sweep drops expired windows. Call periodically to bound memory.
func (b *IPBucket) Sweep() {
	b.mu.Lock()
	defer b.mu.Unlock()
	cutoff := b.now().Add(-b.window)
	for ip, w := range b.counts {
		if w.started.Before(cutoff) {
			delete(b.counts, ip)
		}
	}
}
