package llm

import (
	"context"
	"log/slog"
	"time"
)

// RetryPolicy controls how transient provider failures are retried.
type RetryPolicy struct {
	Enabled      bool
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// Call invokes fn under the retry policy. Only transient errors retry;
// delay doubles each attempt, capped at MaxDelay. The last error is
// returned when the budget is exhausted.
func (p RetryPolicy) Call(ctx context.Context, fn func(ctx context.Context) (*Response, error)) (*Response, error) {
	attempts := p.MaxAttempts
	if !p.Enabled || attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := fn(ctx)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !IsTransient(err) || attempt == attempts {
			return nil, err
		}

		delay := p.backoff(attempt)
		slog.Warn("Transient LLM error, retrying",
			"attempt", attempt, "max_attempts", attempts, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

// backoff returns the delay before the retry that follows the given
// attempt: InitialDelay doubled per prior retry, capped at MaxDelay.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	delay := p.InitialDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}
