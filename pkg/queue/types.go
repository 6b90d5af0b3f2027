// Package queue runs the debate worker pool: claim-by-lease polling,
// heartbeat-backed execution, graceful drain, and the stale-run reaper.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/arbiterlabs/arbiter/pkg/models"
)

// ErrNoDebatesAvailable signals an empty queue poll.
var ErrNoDebatesAvailable = errors.New("no debates available")

// Executor runs one leased debate to a terminal state. The engine
// implements it; it returns the terminal status written, or "" when the
// run aborted without one (lease lost, shutdown).
type Executor interface {
	Run(ctx context.Context, d *models.Debate) (models.DebateStatus, *models.UsageAccumulator)
}

// DebateStore is the persistence surface workers need.
type DebateStore interface {
	ClaimNextQueued(ctx context.Context, runnerID string, lease time.Duration) (*models.Debate, error)
	Heartbeat(ctx context.Context, id, runnerID string, lease time.Duration) (bool, error)
	RequeueDebate(ctx context.Context, id string) error
	ReleaseLease(ctx context.Context, id, runnerID string) error
	ReleaseAllFor(ctx context.Context, runnerID string) (int64, error)
	InsertDebateError(ctx context.Context, e *models.DebateError) error
	GetCheckpoint(ctx context.Context, debateID string) (*models.Checkpoint, error)
	ClaimResumeToken(ctx context.Context, debateID, token string, ttlSeconds float64) (bool, error)
}

// UsageRecorder charges completed runs against the owner's token quota.
// May be nil (quota accounting disabled).
type UsageRecorder interface {
	RecordTokenUsage(ctx context.Context, userID string, tokens int) error
}

// WorkerStatus is a worker's current state.
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// WorkerHealth is one worker's health snapshot.
type WorkerHealth struct {
	ID               string       `json:"id"`
	Status           WorkerStatus `json:"status"`
	CurrentDebateID  string       `json:"current_debate_id,omitempty"`
	DebatesProcessed int          `json:"debates_processed"`
	LastActivity     time.Time    `json:"last_activity"`
}

// PoolHealth is the pool-level health snapshot.
type PoolHealth struct {
	PodID         string         `json:"pod_id"`
	TotalWorkers  int            `json:"total_workers"`
	ActiveWorkers int            `json:"active_workers"`
	ActiveDebates []string       `json:"active_debates,omitempty"`
	Workers       []WorkerHealth `json:"workers"`
}
