package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisIPBucket is a fixed-window per-IP limiter shared across pods.
// One INCR+EXPIRE pair per call; the key expires with the window, so the
// counter resets itself.
type RedisIPBucket struct {
	client   *redis.Client
	maxCalls int
	window   time.Duration
}

// NewRedisIPBucket connects a shared limiter to the Redis at url.
func NewRedisIPBucket(url string, maxCalls int, window time.Duration) (*RedisIPBucket, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisIPBucket{
		client:   redis.NewClient(opts),
		maxCalls: maxCalls,
		window:   window,
	}, nil
}

// Check counts a call from ip against the shared window. Redis errors
// fail open: a broken limiter must not take submissions down with it.
func (b *RedisIPBucket) Check(ip string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	key := "arbiter:ipbucket:" + ip
	count, err := b.client.Incr(ctx, key).Result()
	if err != nil {
		slog.Warn("IP bucket unavailable, allowing request", "error", err)
		return nil
	}
	if count == 1 {
		if err := b.client.Expire(ctx, key, b.window).Err(); err != nil {
			slog.Warn("Failed to set IP bucket expiry", "ip", ip, "error", err)
		}
	}
	if count <= int64(b.maxCalls) {
		return nil
	}

	ttl, err := b.client.TTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		ttl = b.window
	}
	return &RateLimitError{
		Code:    CodeIPRateLimit,
		Detail:  "too many requests from this address",
		ResetAt: time.Now().Add(ttl),
	}
}

// Close releases the Redis connection.
func (b *RedisIPBucket) Close() error {
	return b.client.Close()
}
