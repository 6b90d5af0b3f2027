package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/arbiterlabs/arbiter/pkg/models"
)

const debateColumns = `id, prompt, status, mode, panel_config, config, model_id,
	routed_model, routing_policy, routing_meta, runner_id, lease_expires_at,
	run_attempt, user_id, team_id, final_content, final_meta, created_at, updated_at`

// CreateDebate inserts a new debate in queued state.
func (s *Store) CreateDebate(ctx context.Context, d *models.Debate) error {
	panel, err := marshalJSON(d.Panel)
	if err != nil {
		return err
	}
	cfg, err := marshalJSON(d.Config)
	if err != nil {
		return err
	}
	routingMeta, err := marshalJSON(d.RoutingMeta)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO debate (id, prompt, status, mode, panel_config, config,
			model_id, routed_model, routing_policy, routing_meta, user_id, team_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		d.ID, d.Prompt, d.Status, d.Mode, panel, cfg,
		d.ModelID, d.RoutedModel, d.RoutingPolicy, routingMeta, d.UserID, d.TeamID)
	if err != nil {
		return fmt.Errorf("insert debate: %w", err)
	}
	return nil
}

// GetDebate fetches a debate by ID.
func (s *Store) GetDebate(ctx context.Context, id string) (*models.Debate, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+debateColumns+` FROM debate WHERE id = $1`, id)
	return scanDebate(row)
}

// ListDebates returns a user's debates, newest first.
func (s *Store) ListDebates(ctx context.Context, userID string, limit int) ([]*models.Debate, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+debateColumns+` FROM debate
		 WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list debates: %w", err)
	}
	defer rows.Close()

	var out []*models.Debate
	for rows.Next() {
		d, err := scanDebate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// AcquireLease atomically claims exclusive ownership of a debate. Succeeds
// when the row is unowned, the previous lease expired, or the caller already
// owns it (re-entrant for heartbeat recovery).
func (s *Store) AcquireLease(ctx context.Context, id, runnerID string, lease time.Duration) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE debate
		SET runner_id = $1,
		    lease_expires_at = now() + $2::interval,
		    run_attempt = run_attempt + 1,
		    status = 'running',
		    updated_at = now()
		WHERE id = $3
		  AND status IN ('queued', 'running')
		  AND (runner_id IS NULL OR lease_expires_at < now() OR runner_id = $1)`,
		runnerID, lease.String(), id)
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// ClaimNextQueued picks the oldest claimable queued debate and leases it.
// SKIP LOCKED keeps concurrent workers from fighting over the same row.
func (s *Store) ClaimNextQueued(ctx context.Context, runnerID string, lease time.Duration) (*models.Debate, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM debate
		WHERE status = 'queued'
		  AND (runner_id IS NULL OR lease_expires_at < now())
		ORDER BY created_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select claimable debate: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE debate
		SET runner_id = $1,
		    lease_expires_at = now() + $2::interval,
		    run_attempt = run_attempt + 1,
		    status = 'running',
		    updated_at = now()
		WHERE id = $3`,
		runnerID, lease.String(), id)
	if err != nil {
		return nil, fmt.Errorf("lease claimed debate: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	return s.GetDebate(ctx, id)
}

// Heartbeat extends the lease while the caller still owns the row. A false
// return means the lease was lost and the worker must abort.
func (s *Store) Heartbeat(ctx context.Context, id, runnerID string, lease time.Duration) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE debate
		SET lease_expires_at = now() + $1::interval, updated_at = now()
		WHERE id = $2 AND runner_id = $3 AND status = 'running'`,
		lease.String(), id, runnerID)
	if err != nil {
		return false, fmt.Errorf("heartbeat: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// ReleaseLease clears ownership if the caller still holds it.
func (s *Store) ReleaseLease(ctx context.Context, id, runnerID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE debate
		SET runner_id = NULL, lease_expires_at = NULL, updated_at = now()
		WHERE id = $1 AND runner_id = $2`, id, runnerID)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

// FinalizeDebate writes the terminal state. Rows already terminal are left
// untouched: final_meta is immutable once set.
func (s *Store) FinalizeDebate(ctx context.Context, id string, status models.DebateStatus, finalContent string, finalMeta map[string]any) error {
	meta, err := marshalJSON(finalMeta)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE debate
		SET status = $1, final_content = $2, final_meta = $3,
		    runner_id = NULL, lease_expires_at = NULL, updated_at = now()
		WHERE id = $4 AND status NOT IN ('completed', 'degraded', 'failed')`,
		status, finalContent, meta, id)
	if err != nil {
		return fmt.Errorf("finalize debate: %w", err)
	}
	return nil
}

// RequeueDebate sends a reaped running debate back to the queue.
func (s *Store) RequeueDebate(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE debate
		SET status = 'queued', runner_id = NULL, lease_expires_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'running'`, id)
	if err != nil {
		return fmt.Errorf("requeue debate: %w", err)
	}
	return nil
}

// ListStale returns non-terminal debates of the given status whose relevant
// timestamp is older than cutoff. For running debates the lease must also
// have expired — an active lease means the run is alive, however old.
func (s *Store) ListStale(ctx context.Context, status models.DebateStatus, cutoff time.Time) ([]*models.Debate, error) {
	query := `SELECT ` + debateColumns + ` FROM debate WHERE status = $1 AND updated_at < $2`
	if status == models.StatusRunning {
		query += ` AND (lease_expires_at IS NULL OR lease_expires_at < now())`
	}
	rows, err := s.db.QueryContext(ctx, query, status, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale debates: %w", err)
	}
	defer rows.Close()

	var out []*models.Debate
	for rows.Next() {
		d, err := scanDebate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ReleaseAllFor clears every lease held by runnerID and requeues the debates.
// Called at startup so a crashed pod's work is reclaimed immediately instead
// of waiting for lease expiry.
func (s *Store) ReleaseAllFor(ctx context.Context, runnerID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE debate
		SET status = 'queued', runner_id = NULL, lease_expires_at = NULL, updated_at = now()
		WHERE runner_id = $1 AND status = 'running'`, runnerID)
	if err != nil {
		return 0, fmt.Errorf("release orphaned leases: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// InsertDebateError records why a debate was reaped or aborted.
func (s *Store) InsertDebateError(ctx context.Context, e *models.DebateError) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO debate_error (debate_id, reason, detail, age_seconds)
		VALUES ($1, $2, $3, $4)`,
		e.DebateID, e.Reason, e.Detail, e.Age.Seconds())
	if err != nil {
		return fmt.Errorf("insert debate error: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDebate(row rowScanner) (*models.Debate, error) {
	var (
		d           models.Debate
		panel       []byte
		cfg         []byte
		routingMeta []byte
		finalMeta   []byte
		runnerID    sql.NullString
		leaseExp    sql.NullTime
	)
	err := row.Scan(&d.ID, &d.Prompt, &d.Status, &d.Mode, &panel, &cfg,
		&d.ModelID, &d.RoutedModel, &d.RoutingPolicy, &routingMeta, &runnerID,
		&leaseExp, &d.RunAttempt, &d.UserID, &d.TeamID, &d.FinalContent,
		&finalMeta, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan debate: %w", err)
	}

	if err := json.Unmarshal(panel, &d.Panel); err != nil {
		return nil, fmt.Errorf("decode panel_config: %w", err)
	}
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &d.Config); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}
	d.RoutingMeta = unmarshalMeta(routingMeta)
	d.FinalMeta = unmarshalMeta(finalMeta)
	if runnerID.Valid {
		d.RunnerID = runnerID.String
	}
	if leaseExp.Valid {
		t := leaseExp.Time
		d.LeaseExpiresAt = &t
	}
	return &d, nil
}
