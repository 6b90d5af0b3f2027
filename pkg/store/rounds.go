package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/arbiterlabs/arbiter/pkg/models"
)

// StartRound records the start of a pipeline phase.
func (s *Store) StartRound(ctx context.Context, debateID string, index int, label models.RoundLabel, note string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO debate_round (debate_id, round_index, label, note)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (debate_id, round_index) DO NOTHING`,
		debateID, index, label, note)
	if err != nil {
		return fmt.Errorf("start round: %w", err)
	}
	return nil
}

// EndRound stamps a round's end time.
func (s *Store) EndRound(ctx context.Context, debateID string, index int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE debate_round SET ended_at = now()
		WHERE debate_id = $1 AND round_index = $2`, debateID, index)
	if err != nil {
		return fmt.Errorf("end round: %w", err)
	}
	return nil
}

// ListRounds returns a debate's rounds in execution order.
func (s *Store) ListRounds(ctx context.Context, debateID string) ([]*models.Round, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT debate_id, round_index, label, note, started_at, ended_at
		FROM debate_round WHERE debate_id = $1 ORDER BY round_index`, debateID)
	if err != nil {
		return nil, fmt.Errorf("list rounds: %w", err)
	}
	defer rows.Close()

	var out []*models.Round
	for rows.Next() {
		var (
			r     models.Round
			ended sql.NullTime
		)
		if err := rows.Scan(&r.DebateID, &r.Index, &r.Label, &r.Note, &r.StartedAt, &ended); err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		if ended.Valid {
			t := ended.Time
			r.EndedAt = &t
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// AddMessage persists one utterance.
func (s *Store) AddMessage(ctx context.Context, m *models.Message) error {
	meta, err := marshalJSON(m.Meta)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO message (debate_id, round_index, role, persona, content, meta)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		m.DebateID, m.RoundIndex, m.Role, m.Persona, m.Content, meta)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListMessages returns a debate's messages in arrival order.
func (s *Store) ListMessages(ctx context.Context, debateID string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT debate_id, round_index, role, persona, content, meta, created_at
		FROM message WHERE debate_id = $1 ORDER BY created_at, id`, debateID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		var (
			m    models.Message
			meta []byte
		)
		if err := rows.Scan(&m.DebateID, &m.RoundIndex, &m.Role, &m.Persona, &m.Content, &meta, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Meta = unmarshalMeta(meta)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// PurgeRunArtifacts deletes a debate's rounds, messages, scores, and votes.
// A resumed attempt re-runs the pipeline from the start; clearing the
// previous attempt's rows first keeps the persisted transcript single-run.
func (s *Store) PurgeRunArtifacts(ctx context.Context, debateID string) error {
	for _, table := range []string{"message", "score", "vote", "debate_round"} {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM `+table+` WHERE debate_id = $1`, debateID)
		if err != nil {
			return fmt.Errorf("purge %s: %w", table, err)
		}
	}
	return nil
}

// AddScore persists one judge score.
func (s *Store) AddScore(ctx context.Context, sc *models.Score) error {
	meta, err := marshalJSON(sc.Meta)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO score (debate_id, persona, judge, score, rationale, meta)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		sc.DebateID, sc.Persona, sc.Judge, sc.Score, sc.Rationale, meta)
	if err != nil {
		return fmt.Errorf("insert score: %w", err)
	}
	return nil
}

// ListScores returns a debate's judge scores.
func (s *Store) ListScores(ctx context.Context, debateID string) ([]*models.Score, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT debate_id, persona, judge, score, rationale, meta, created_at
		FROM score WHERE debate_id = $1 ORDER BY id`, debateID)
	if err != nil {
		return nil, fmt.Errorf("list scores: %w", err)
	}
	defer rows.Close()

	var out []*models.Score
	for rows.Next() {
		var (
			sc   models.Score
			meta []byte
		)
		if err := rows.Scan(&sc.DebateID, &sc.Persona, &sc.Judge, &sc.Score, &sc.Rationale, &meta, &sc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		sc.Meta = unmarshalMeta(meta)
		out = append(out, &sc)
	}
	return out, rows.Err()
}

// HasVote reports whether a ranking was persisted for the debate.
func (s *Store) HasVote(ctx context.Context, debateID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM vote WHERE debate_id = $1`, debateID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("has vote: %w", err)
	}
	return n > 0, nil
}

// SaveVote upserts the aggregated ranking result for a debate.
func (s *Store) SaveVote(ctx context.Context, v *models.Vote) error {
	rankings, err := marshalJSON(v.Rankings)
	if err != nil {
		return err
	}
	weights, err := marshalJSON(v.Weights)
	if err != nil {
		return err
	}
	result, err := marshalJSON(v.Result)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO vote (debate_id, method, rankings, weights, result)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (debate_id, method) DO UPDATE
		SET rankings = EXCLUDED.rankings, weights = EXCLUDED.weights,
		    result = EXCLUDED.result, created_at = now()`,
		v.DebateID, v.Method, rankings, weights, result)
	if err != nil {
		return fmt.Errorf("save vote: %w", err)
	}
	return nil
}
