package quota

import (
	"errors"
	"fmt"
	"time"
)

// Rate limit codes surfaced to the HTTP layer.
const (
	CodeIPRateLimit  = "rate_limit.exceeded"
	CodeRunsPerHour  = "runs_per_hour"
	CodeTokensPerDay = "tokens_per_day"
)

// RateLimitError carries the limit that tripped and when it resets. The HTTP
// layer maps it to 429 with a Retry-After header.
type RateLimitError struct {
	Code    string
	Detail  string
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit %s: %s (resets %s)", e.Code, e.Detail, e.ResetAt.Format(time.RFC3339))
}

// RetryAfter returns the seconds until the limit resets, at least 1.
func (e *RateLimitError) RetryAfter(now time.Time) int {
	secs := int(e.ResetAt.Sub(now).Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}

// AsRateLimit extracts a RateLimitError from err.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	ok := errors.As(err, &rle)
	return rle, ok
}
