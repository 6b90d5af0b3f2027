package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/arbiterlabs/arbiter/pkg/models"
)

// GetQuota fetches a user's cap for the period. ErrNotFound means no
// explicit quota is configured and the caller applies defaults.
func (s *Store) GetQuota(ctx context.Context, userID string, period models.QuotaPeriod) (*models.UsageQuota, error) {
	var q models.UsageQuota
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, period, max_runs, max_tokens, reset_at
		FROM usage_quota WHERE user_id = $1 AND period = $2`, userID, period).
		Scan(&q.UserID, &q.Period, &q.MaxRuns, &q.MaxTokens, &q.ResetAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get quota: %w", err)
	}
	return &q, nil
}

// UpsertQuota sets a user's cap for the period.
func (s *Store) UpsertQuota(ctx context.Context, q *models.UsageQuota) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_quota (user_id, period, max_runs, max_tokens, reset_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, period) DO UPDATE
		SET max_runs = EXCLUDED.max_runs, max_tokens = EXCLUDED.max_tokens,
		    reset_at = EXCLUDED.reset_at`,
		q.UserID, q.Period, q.MaxRuns, q.MaxTokens, q.ResetAt)
	if err != nil {
		return fmt.Errorf("upsert quota: %w", err)
	}
	return nil
}

// GetCounter fetches the user's running tally for the period.
func (s *Store) GetCounter(ctx context.Context, userID string, period models.QuotaPeriod) (*models.UsageCounter, error) {
	var c models.UsageCounter
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, period, runs_used, tokens_used, window_start
		FROM usage_counter WHERE user_id = $1 AND period = $2`, userID, period).
		Scan(&c.UserID, &c.Period, &c.RunsUsed, &c.TokensUsed, &c.WindowStart)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get counter: %w", err)
	}
	return &c, nil
}

// BumpCounter adds runs/tokens to the user's tally, resetting the window
// first if it has elapsed. The whole operation is one atomic upsert.
func (s *Store) BumpCounter(ctx context.Context, userID string, period models.QuotaPeriod, runs, tokens int, windowStart time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_counter (user_id, period, runs_used, tokens_used, window_start)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, period) DO UPDATE
		SET runs_used = CASE
				WHEN usage_counter.window_start < $5 THEN $3
				ELSE usage_counter.runs_used + $3 END,
		    tokens_used = CASE
				WHEN usage_counter.window_start < $5 THEN $4
				ELSE usage_counter.tokens_used + $4 END,
		    window_start = CASE
				WHEN usage_counter.window_start < $5 THEN $5
				ELSE usage_counter.window_start END`,
		userID, period, runs, tokens, windowStart)
	if err != nil {
		return fmt.Errorf("bump counter: %w", err)
	}
	return nil
}
