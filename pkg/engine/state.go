// Package engine runs debate pipelines: ordered stages over a shared
// context, with checkpointing, event publishing, budget enforcement, and
// seat-failure tolerance.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/arbiterlabs/arbiter/pkg/models"
)

// EngineVersion is stamped into final_meta so results can be traced to the
// pipeline revision that produced them.
const EngineVersion = "arbiter-engine/1"

// ErrLeaseLost is the cancellation cause when another worker takes the row.
// The engine aborts without writing terminal state: the new owner will.
var ErrLeaseLost = errors.New("debate lease lost")

// StateStore is the persistence surface the engine needs. *store.Store
// implements it; tests use an in-memory double.
type StateStore interface {
	StartRound(ctx context.Context, debateID string, index int, label models.RoundLabel, note string) error
	EndRound(ctx context.Context, debateID string, index int) error
	AddMessage(ctx context.Context, m *models.Message) error
	AddScore(ctx context.Context, sc *models.Score) error
	SaveVote(ctx context.Context, v *models.Vote) error
	UpsertCheckpoint(ctx context.Context, c *models.Checkpoint) error
	GetCheckpoint(ctx context.Context, debateID string) (*models.Checkpoint, error)
	PurgeRunArtifacts(ctx context.Context, debateID string) error
	FinalizeDebate(ctx context.Context, id string, status models.DebateStatus, finalContent string, finalMeta map[string]any) error
}

// candidate is one seat's current answer as it moves through the pipeline.
type candidate struct {
	SeatID   string
	Persona  string
	Content  string
	Stance   string
	Position int // declared panel order, used for deterministic ties
}

// debateState accumulates pipeline artifacts across stages.
type debateState struct {
	candidates []candidate
	revised    []candidate
	scores     []*models.Score
	ranking    []string
	failed     []string

	roundIndex   int
	finalContent string
	resumeToken  string
	usage        *models.UsageAccumulator
}

// currentCandidates returns the freshest candidate set.
func (st *debateState) currentCandidates() []candidate {
	if len(st.revised) > 0 {
		return st.revised
	}
	return st.candidates
}

// bestContent returns the strongest artifact available so far: the ranked
// winner if judging ran, otherwise the first surviving candidate.
func (st *debateState) bestContent() string {
	cands := st.currentCandidates()
	if len(st.ranking) > 0 {
		for _, c := range cands {
			if c.Persona == st.ranking[0] {
				return c.Content
			}
		}
	}
	if len(cands) > 0 {
		return cands[0].Content
	}
	return ""
}

// fatalError aborts the pipeline and fails the debate.
type fatalError struct {
	Reason       string
	SuccessCount int
	FailureCount int
}

func (e *fatalError) Error() string {
	return fmt.Sprintf("stage fatal: %s (ok=%d failed=%d)", e.Reason, e.SuccessCount, e.FailureCount)
}

// degradeError degrades the debate with a fallback result instead of
// failing it.
type degradeError struct {
	Reason          string
	FallbackContent string
}

func (e *degradeError) Error() string {
	return "degraded: " + e.Reason
}

// budgetError stops the pipeline early; the debate degrades with whatever
// artifacts exist.
type budgetError struct {
	TruncateReason string
}

func (e *budgetError) Error() string {
	return "budget exhausted: " + e.TruncateReason
}

// checkBudget compares accumulated usage against the debate's budget.
func checkBudget(budget models.BudgetConfig, usage *models.UsageAccumulator) error {
	if budget.MaxTokens > 0 && usage.TotalTokens() >= budget.MaxTokens {
		return &budgetError{TruncateReason: "token_budget_exceeded"}
	}
	if budget.MaxCostUSD > 0 && usage.TotalCostUSD() >= budget.MaxCostUSD {
		return &budgetError{TruncateReason: "cost_budget_exceeded"}
	}
	return nil
}

// leaseLost reports whether ctx was cancelled because ownership moved.
func leaseLost(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), ErrLeaseLost)
}
