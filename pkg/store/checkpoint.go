package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/arbiterlabs/arbiter/pkg/models"
)

// UpsertCheckpoint advances the debate's resume marker. One row per debate.
func (s *Store) UpsertCheckpoint(ctx context.Context, c *models.Checkpoint) error {
	meta, err := marshalJSON(c.ContextMeta)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO debate_checkpoint
			(debate_id, step, step_index, round_index, status, attempt_count,
			 resume_token, last_checkpoint_at, last_event_at, context_meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now(), $8)
		ON CONFLICT (debate_id) DO UPDATE
		SET step = EXCLUDED.step,
		    step_index = EXCLUDED.step_index,
		    round_index = EXCLUDED.round_index,
		    status = EXCLUDED.status,
		    attempt_count = EXCLUDED.attempt_count,
		    resume_token = EXCLUDED.resume_token,
		    last_checkpoint_at = now(),
		    last_event_at = now(),
		    context_meta = EXCLUDED.context_meta`,
		c.DebateID, c.Step, c.StepIndex, c.RoundIndex, c.Status,
		c.AttemptCount, c.ResumeToken, meta)
	if err != nil {
		return fmt.Errorf("upsert checkpoint: %w", err)
	}
	return nil
}

// GetCheckpoint fetches a debate's resume marker.
func (s *Store) GetCheckpoint(ctx context.Context, debateID string) (*models.Checkpoint, error) {
	var (
		c         models.Checkpoint
		claimedAt sql.NullTime
		eventAt   sql.NullTime
		meta      []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT debate_id, step, step_index, round_index, status, attempt_count,
		       resume_token, resume_claimed_at, last_checkpoint_at, last_event_at, context_meta
		FROM debate_checkpoint WHERE debate_id = $1`, debateID).
		Scan(&c.DebateID, &c.Step, &c.StepIndex, &c.RoundIndex, &c.Status,
			&c.AttemptCount, &c.ResumeToken, &claimedAt, &c.LastCheckpointAt, &eventAt, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	if claimedAt.Valid {
		t := claimedAt.Time
		c.ResumeClaimedAt = &t
	}
	if eventAt.Valid {
		t := eventAt.Time
		c.LastEventAt = &t
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &c.ContextMeta)
	}
	return &c, nil
}

// ClaimResumeToken marks a checkpoint's resume token as consumed. Returns
// false when the token does not match or was already claimed within ttl.
func (s *Store) ClaimResumeToken(ctx context.Context, debateID, token string, ttlSeconds float64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE debate_checkpoint
		SET resume_claimed_at = now()
		WHERE debate_id = $1 AND resume_token = $2
		  AND (resume_claimed_at IS NULL
		       OR resume_claimed_at < now() - make_interval(secs => $3))`,
		debateID, token, ttlSeconds)
	if err != nil {
		return false, fmt.Errorf("claim resume token: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}
