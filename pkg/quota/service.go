// Package quota enforces per-user windowed run/token caps and per-IP call
// rate limits on debate submission.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arbiterlabs/arbiter/pkg/models"
	"github.com/arbiterlabs/arbiter/pkg/store"
)

// Store is the persistence surface the quota service needs.
type Store interface {
	GetQuota(ctx context.Context, userID string, period models.QuotaPeriod) (*models.UsageQuota, error)
	GetCounter(ctx context.Context, userID string, period models.QuotaPeriod) (*models.UsageCounter, error)
	BumpCounter(ctx context.Context, userID string, period models.QuotaPeriod, runs, tokens int, windowStart time.Time) error
}

// Defaults apply to users without an explicit usage_quota row.
type Defaults struct {
	RunsPerHour  int
	TokensPerDay int
}

// Service checks and records per-user usage.
type Service struct {
	store    Store
	defaults Defaults
	now      func() time.Time
}

// NewService creates the quota service.
func NewService(st Store, defaults Defaults) *Service {
	return &Service{store: st, defaults: defaults, now: time.Now}
}

// ReserveRunSlot consumes one run from the user's hourly window, resetting
// the window if it has elapsed. Rejects with runs_per_hour when exhausted.
func (s *Service) ReserveRunSlot(ctx context.Context, userID string) error {
	now := s.now()
	maxRuns := s.maxRuns(ctx, userID)

	counter, err := s.counter(ctx, userID, models.PeriodHour, now)
	if err != nil {
		return err
	}

	if counter.RunsUsed+1 > maxRuns {
		return &RateLimitError{
			Code:    CodeRunsPerHour,
			Detail:  fmt.Sprintf("hourly run limit of %d reached", maxRuns),
			ResetAt: counter.WindowStart.Add(models.PeriodHour.Duration()),
		}
	}

	return s.store.BumpCounter(ctx, userID, models.PeriodHour, 1, 0, counter.WindowStart)
}

// RecordTokenUsage adds n tokens to the user's daily tally.
func (s *Service) RecordTokenUsage(ctx context.Context, userID string, n int) error {
	now := s.now()
	counter, err := s.counter(ctx, userID, models.PeriodDay, now)
	if err != nil {
		return err
	}
	return s.store.BumpCounter(ctx, userID, models.PeriodDay, 0, n, counter.WindowStart)
}

// EnsureDailyTokenHeadroom rejects with tokens_per_day when the user's daily
// token tally has reached its cap.
func (s *Service) EnsureDailyTokenHeadroom(ctx context.Context, userID string) error {
	now := s.now()
	maxTokens := s.maxTokens(ctx, userID)

	counter, err := s.counter(ctx, userID, models.PeriodDay, now)
	if err != nil {
		return err
	}

	if counter.TokensUsed >= maxTokens {
		return &RateLimitError{
			Code:    CodeTokensPerDay,
			Detail:  fmt.Sprintf("daily token limit of %d reached", maxTokens),
			ResetAt: counter.WindowStart.Add(models.PeriodDay.Duration()),
		}
	}
	return nil
}

// counter loads the user's tally, materializing a fresh window when none
// exists or the stored one has elapsed.
func (s *Service) counter(ctx context.Context, userID string, period models.QuotaPeriod, now time.Time) (*models.UsageCounter, error) {
	c, err := s.store.GetCounter(ctx, userID, period)
	if errors.Is(err, store.ErrNotFound) {
		return &models.UsageCounter{
			UserID: userID, Period: period, WindowStart: now,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load usage counter: %w", err)
	}
	if c.Stale(now) {
		return &models.UsageCounter{
			UserID: userID, Period: period, WindowStart: now,
		}, nil
	}
	return c, nil
}

func (s *Service) maxRuns(ctx context.Context, userID string) int {
	if q, err := s.store.GetQuota(ctx, userID, models.PeriodHour); err == nil && q.MaxRuns > 0 {
		return q.MaxRuns
	}
	return s.defaults.RunsPerHour
}

func (s *Service) maxTokens(ctx context.Context, userID string) int {
	if q, err := s.store.GetQuota(ctx, userID, models.PeriodDay); err == nil && q.MaxTokens > 0 {
		return q.MaxTokens
	}
	return s.defaults.TokensPerDay
}
