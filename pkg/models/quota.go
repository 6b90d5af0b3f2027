package models

import "time"

// QuotaPeriod is the window granularity for usage quotas.
type QuotaPeriod string

const (
	PeriodHour QuotaPeriod = "hour"
	PeriodDay  QuotaPeriod = "day"
)

// Duration returns the wall-clock length of the period window.
func (p QuotaPeriod) Duration() time.Duration {
	if p == PeriodDay {
		return 24 * time.Hour
	}
	return time.Hour
}

// UsageQuota is a per-user per-period cap.
type UsageQuota struct {
	UserID    string
	Period    QuotaPeriod
	MaxRuns   int
	MaxTokens int
	ResetAt   time.Time
}

// UsageCounter is the running tally against a quota window.
type UsageCounter struct {
	UserID      string
	Period      QuotaPeriod
	RunsUsed    int
	TokensUsed  int
	WindowStart time.Time
}

// Stale reports whether the counter's window has elapsed at now.
func (c *UsageCounter) Stale(now time.Time) bool {
	return now.Sub(c.WindowStart) >= c.Period.Duration()
}
