package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/arbiterlabs/arbiter/pkg/events"
	"github.com/arbiterlabs/arbiter/pkg/models"
	"github.com/arbiterlabs/arbiter/pkg/ratings"
	"github.com/arbiterlabs/arbiter/pkg/seat"
)

// Config holds pipeline-wide defaults. Panel-level settings override the
// tolerance fields per debate.
type Config struct {
	MaxSeatFailRatio float64
	MinRequiredSeats int
	// FailFast cancels a stage's outstanding seat calls once enough seats
	// failed that the tolerance thresholds can no longer be met.
	FailFast              bool
	MaxParallelSeats      int
	ConversationMaxRounds int
	ConversationMaxTokens int
}

// Engine executes debate pipelines. One Run per leased debate; the engine
// writes the terminal row state and emits the terminal event itself —
// callers never see pipeline errors.
type Engine struct {
	store   StateStore
	runner  *seat.Runner
	broker  events.Broker
	ratings *ratings.Service
	cfg     Config
}

// New creates an engine. ratings may be nil to skip Elo updates.
func New(store StateStore, runner *seat.Runner, broker events.Broker, ratingsSvc *ratings.Service, cfg Config) *Engine {
	if cfg.MaxParallelSeats <= 0 {
		cfg.MaxParallelSeats = 8
	}
	if cfg.MinRequiredSeats <= 0 {
		cfg.MinRequiredSeats = 1
	}
	if cfg.MaxSeatFailRatio <= 0 {
		cfg.MaxSeatFailRatio = 0.5
	}
	if cfg.ConversationMaxRounds <= 0 {
		cfg.ConversationMaxRounds = 4
	}
	return &Engine{store: store, runner: runner, broker: broker, ratings: ratingsSvc, cfg: cfg}
}

// stage is one pipeline phase.
type stage struct {
	label models.RoundLabel
	run   func(ctx context.Context, d *models.Debate, st *debateState, pub *events.Publisher) error
}

// Run executes the debate's pipeline to a terminal state. The returned
// usage lets the caller account tokens against the owner's quota. Returns
// the terminal status actually written, or "" when the run aborted without
// writing one (lease lost / shutdown).
func (e *Engine) Run(ctx context.Context, d *models.Debate) (models.DebateStatus, *models.UsageAccumulator) {
	pub := events.NewPublisher(e.broker, d.ID)
	// Fresh resume token per run; the worker fences on the previous run's
	// token before re-claiming a requeued debate.
	st := &debateState{usage: models.NewUsageAccumulator(), resumeToken: uuid.NewString()}

	log := slog.With("debate_id", d.ID, "mode", d.Mode)
	log.Info("Pipeline starting", "attempt", d.RunAttempt, "model", d.RoutedModel)

	if d.RunAttempt > 1 {
		if err := e.prepareResume(ctx, d, pub); err != nil {
			return e.finishAbnormal(ctx, d, st, pub, stage{label: "resume"}, err), st.usage
		}
	}

	var stages []stage
	switch d.Mode {
	case models.ModeParliament:
		stages = []stage{
			{models.RoundExplore, e.exploreStage},
			{models.RoundRebuttal, e.rebuttalStage},
			{models.RoundConverge, e.convergeStage},
			{models.RoundJudge, e.judgeStage},
			{models.RoundVerdict, e.verdictStage},
		}
	case models.ModeConversation:
		return e.runConversation(ctx, d, st, pub)
	default:
		stages = []stage{
			{models.RoundDraft, e.draftStage},
			{models.RoundCritique, e.critiqueStage},
			{models.RoundJudge, e.judgeStage},
			{models.RoundSynth, e.synthesisStage},
		}
	}

	for i, s := range stages {
		if err := e.runStage(ctx, d, st, pub, s, i); err != nil {
			return e.finishAbnormal(ctx, d, st, pub, s, err), st.usage
		}
		if err := checkBudget(d.Config.Budget, st.usage); err != nil {
			return e.finishAbnormal(ctx, d, st, pub, s, err), st.usage
		}
	}

	meta := e.finalMeta(st, nil)
	e.finalize(d, pub, models.StatusCompleted, st.finalContent, meta)
	e.recordRatings(d, st)
	log.Info("Pipeline completed", "rounds", st.roundIndex, "tokens", st.usage.TotalTokens())
	return models.StatusCompleted, st.usage
}

// prepareResume readies a re-claimed debate. The event sequence continues
// from the last checkpoint, so subscribers reconnecting with Last-Event-ID
// from the previous attempt still receive everything the re-run publishes.
// The previous attempt's rows are cleared: the pipeline re-runs from the
// start, and stale messages or scores would corrupt the new ranking.
func (e *Engine) prepareResume(ctx context.Context, d *models.Debate, pub *events.Publisher) error {
	if cp, err := e.store.GetCheckpoint(ctx, d.ID); err == nil && cp != nil {
		pub.Seed(cp.LastEventSeq())
	}
	if err := e.store.PurgeRunArtifacts(ctx, d.ID); err != nil {
		return fmt.Errorf("purge previous attempt: %w", err)
	}
	return nil
}

// runStage wraps one stage with round bookkeeping and a checkpoint.
func (e *Engine) runStage(ctx context.Context, d *models.Debate, st *debateState, pub *events.Publisher, s stage, stepIndex int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	st.roundIndex++
	if err := e.store.StartRound(ctx, d.ID, st.roundIndex, s.label, ""); err != nil {
		return fmt.Errorf("start round %d: %w", st.roundIndex, err)
	}
	pub.RoundStarted(ctx, st.roundIndex, string(s.label))

	err := s.run(ctx, d, st, pub)

	if endErr := e.store.EndRound(ctx, d.ID, st.roundIndex); endErr != nil {
		slog.Warn("Failed to end round", "debate_id", d.ID, "round", st.roundIndex, "error", endErr)
	}
	pub.RoundEnded(ctx, st.roundIndex)

	if cpErr := e.checkpoint(ctx, d, st, pub, string(s.label), stepIndex); cpErr != nil {
		slog.Warn("Failed to write checkpoint", "debate_id", d.ID, "step", s.label, "error", cpErr)
	}
	return err
}

func (e *Engine) checkpoint(ctx context.Context, d *models.Debate, st *debateState, pub *events.Publisher, step string, stepIndex int) error {
	return e.store.UpsertCheckpoint(ctx, &models.Checkpoint{
		DebateID:     d.ID,
		Step:         step,
		StepIndex:    stepIndex,
		RoundIndex:   st.roundIndex,
		Status:       models.StatusRunning,
		AttemptCount: d.RunAttempt,
		ResumeToken:  st.resumeToken,
		ContextMeta: map[string]any{
			"last_event_seq": pub.LastSeq(),
			"total_tokens":   st.usage.TotalTokens(),
		},
	})
}

// finishAbnormal maps a stage error to the proper terminal state.
func (e *Engine) finishAbnormal(ctx context.Context, d *models.Debate, st *debateState, pub *events.Publisher, s stage, err error) models.DebateStatus {
	log := slog.With("debate_id", d.ID, "stage", s.label)

	if leaseLost(ctx) {
		// Another worker owns the row now. No terminal write, no terminal
		// event: the new owner decides the outcome.
		log.Warn("Aborting: lease lost")
		return ""
	}
	if ctx.Err() != nil {
		log.Info("Aborting: run cancelled", "cause", context.Cause(ctx))
		return ""
	}

	switch te := err.(type) {
	case *budgetError:
		content := st.bestContent()
		meta := e.finalMeta(st, map[string]any{"truncate_reason": te.TruncateReason})
		pub.Notice(context.Background(), "warn", "budget exhausted: "+te.TruncateReason)
		e.finalize(d, pub, models.StatusDegraded, content, meta)
		log.Warn("Pipeline degraded on budget", "reason", te.TruncateReason)
		return models.StatusDegraded

	case *fatalError:
		meta := e.finalMeta(st, map[string]any{
			"failure": map[string]any{
				"reason":        te.Reason,
				"round_index":   st.roundIndex,
				"success_count": te.SuccessCount,
				"failure_count": te.FailureCount,
			},
		})
		e.finalizeFailed(d, pub, te.Reason, meta)
		log.Error("Pipeline failed", "reason", te.Reason)
		return models.StatusFailed

	case *degradeError:
		meta := e.finalMeta(st, map[string]any{"error": te.Reason})
		pub.Notice(context.Background(), "warn", te.Reason)
		e.finalize(d, pub, models.StatusDegraded, te.FallbackContent, meta)
		e.recordRatings(d, st)
		log.Warn("Pipeline degraded", "reason", te.Reason)
		return models.StatusDegraded

	default:
		meta := e.finalMeta(st, map[string]any{"error": err.Error()})
		e.finalizeFailed(d, pub, err.Error(), meta)
		log.Error("Pipeline failed", "error", err)
		return models.StatusFailed
	}
}

// finalize writes the terminal row and emits the final event. Uses a fresh
// context: the run context may already be cancelled.
func (e *Engine) finalize(d *models.Debate, pub *events.Publisher, status models.DebateStatus, content string, meta map[string]any) {
	ctx := context.Background()
	if err := e.store.FinalizeDebate(ctx, d.ID, status, content, meta); err != nil {
		slog.Error("Failed to finalize debate", "debate_id", d.ID, "error", err)
	}
	pub.Final(ctx, content, meta)
	e.terminalCheckpoint(ctx, d, status)
}

func (e *Engine) finalizeFailed(d *models.Debate, pub *events.Publisher, reason string, meta map[string]any) {
	ctx := context.Background()
	if err := e.store.FinalizeDebate(ctx, d.ID, models.StatusFailed, "", meta); err != nil {
		slog.Error("Failed to finalize debate", "debate_id", d.ID, "error", err)
	}
	pub.DebateFailed(ctx, reason, meta)
	e.terminalCheckpoint(ctx, d, models.StatusFailed)
}

func (e *Engine) terminalCheckpoint(ctx context.Context, d *models.Debate, status models.DebateStatus) {
	err := e.store.UpsertCheckpoint(ctx, &models.Checkpoint{
		DebateID:     d.ID,
		Step:         "terminal",
		Status:       status,
		AttemptCount: d.RunAttempt,
	})
	if err != nil {
		slog.Warn("Failed to write terminal checkpoint", "debate_id", d.ID, "error", err)
	}
}

func (e *Engine) finalMeta(st *debateState, extra map[string]any) map[string]any {
	meta := map[string]any{
		"engine_version": EngineVersion,
		"usage":          st.usage.Summary(),
	}
	if len(st.ranking) > 0 {
		meta["rankings"] = st.ranking
		meta["winner"] = st.ranking[0]
	}
	if len(st.failed) > 0 {
		meta["failed_seats"] = st.failed
	}
	for k, v := range extra {
		meta[k] = v
	}
	return meta
}

// recordRatings feeds the debate's scores into the Elo ledger.
func (e *Engine) recordRatings(d *models.Debate, st *debateState) {
	if e.ratings == nil || len(st.scores) == 0 {
		return
	}
	e.ratings.RecordDebate(context.Background(), d.ID, string(d.Mode), d.UserID, st.scores)
}
