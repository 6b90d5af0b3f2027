package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/arbiterlabs/arbiter/pkg/models"
)

// GetRating fetches a persona's Elo record in a category.
func (s *Store) GetRating(ctx context.Context, persona, category string) (*models.RatingPersona, error) {
	var r models.RatingPersona
	err := s.db.QueryRowContext(ctx, `
		SELECT persona, category, elo, n_matches, win_rate, ci_low, ci_high, last_updated
		FROM rating_persona WHERE persona = $1 AND category = $2`, persona, category).
		Scan(&r.Persona, &r.Category, &r.Elo, &r.NMatches, &r.WinRate, &r.CILow, &r.CIHigh, &r.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get rating: %w", err)
	}
	return &r, nil
}

// UpsertRating writes a persona's updated Elo record.
func (s *Store) UpsertRating(ctx context.Context, r *models.RatingPersona) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rating_persona (persona, category, elo, n_matches, win_rate, ci_low, ci_high, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (persona, category) DO UPDATE
		SET elo = EXCLUDED.elo, n_matches = EXCLUDED.n_matches,
		    win_rate = EXCLUDED.win_rate, ci_low = EXCLUDED.ci_low,
		    ci_high = EXCLUDED.ci_high, last_updated = now()`,
		r.Persona, r.Category, r.Elo, r.NMatches, r.WinRate, r.CILow, r.CIHigh)
	if err != nil {
		return fmt.Errorf("upsert rating: %w", err)
	}
	return nil
}

// ListRatings returns a category's leaderboard, strongest first.
func (s *Store) ListRatings(ctx context.Context, category string, limit int) ([]*models.RatingPersona, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT persona, category, elo, n_matches, win_rate, ci_low, ci_high, last_updated
		FROM rating_persona WHERE category = $1
		ORDER BY elo DESC LIMIT $2`, category, limit)
	if err != nil {
		return nil, fmt.Errorf("list ratings: %w", err)
	}
	defer rows.Close()

	var out []*models.RatingPersona
	for rows.Next() {
		var r models.RatingPersona
		if err := rows.Scan(&r.Persona, &r.Category, &r.Elo, &r.NMatches, &r.WinRate, &r.CILow, &r.CIHigh, &r.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan rating: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// InsertPairwiseVote records one judge-derived pairwise outcome.
func (s *Store) InsertPairwiseVote(ctx context.Context, v *models.PairwiseVote) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pairwise_vote (debate_id, category, candidate_a, candidate_b, winner, judge_id, user_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		v.DebateID, v.Category, v.CandidateA, v.CandidateB, v.Winner, v.JudgeID, v.UserID)
	if err != nil {
		return fmt.Errorf("insert pairwise vote: %w", err)
	}
	return nil
}
