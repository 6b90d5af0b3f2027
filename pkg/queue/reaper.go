package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arbiterlabs/arbiter/pkg/config"
	"github.com/arbiterlabs/arbiter/pkg/events"
	"github.com/arbiterlabs/arbiter/pkg/models"
)

var debatesReaped = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "arbiter_debates_reaped_total",
	Help: "Stale debates handled by the reaper, by outcome.",
}, []string{"outcome"})

// ReaperStore is the persistence surface the reaper needs.
type ReaperStore interface {
	ListStale(ctx context.Context, status models.DebateStatus, cutoff time.Time) ([]*models.Debate, error)
	HasVote(ctx context.Context, debateID string) (bool, error)
	RequeueDebate(ctx context.Context, id string) error
	FinalizeDebate(ctx context.Context, id string, status models.DebateStatus, finalContent string, finalMeta map[string]any) error
	InsertDebateError(ctx context.Context, e *models.DebateError) error
}

// Reaper sweeps debates stuck in non-terminal states. Running debates with
// persisted output (a vote or final content) settle as degraded; the rest
// are requeued while retry budget remains, then failed. Queued debates
// nothing ever claimed are failed outright.
type Reaper struct {
	store       ReaperStore
	broker      events.Broker
	cfg         config.ReaperConfig
	maxAttempts int

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewReaper creates the reaper. broker may be nil (no live notifications).
func NewReaper(store ReaperStore, broker events.Broker, cfg config.ReaperConfig, maxAttempts int) *Reaper {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Reaper{
		store:       store,
		broker:      broker,
		cfg:         cfg,
		maxAttempts: maxAttempts,
		stopCh:      make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (r *Reaper) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.loop(ctx)
}

// Stop signals the loop and waits for it to exit.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

func (r *Reaper) loop(ctx context.Context) {
	defer r.wg.Done()

	slog.Info("Reaper started",
		"stale_running", r.cfg.StaleRunning, "stale_queued", r.cfg.StaleQueued,
		"interval", r.cfg.LoopInterval)

	ticker := time.NewTicker(r.cfg.LoopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			slog.Info("Reaper shutting down")
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.RunOnce(ctx); err != nil {
				slog.Error("Reaper sweep failed", "error", err)
			}
		}
	}
}

// RunOnce performs a single sweep.
func (r *Reaper) RunOnce(ctx context.Context) error {
	if err := r.reapRunning(ctx); err != nil {
		return err
	}
	return r.reapQueued(ctx)
}

// reapRunning handles running debates whose lease expired and which have
// been silent past the stale threshold.
func (r *Reaper) reapRunning(ctx context.Context) error {
	cutoff := time.Now().Add(-r.cfg.StaleRunning)
	stale, err := r.store.ListStale(ctx, models.StatusRunning, cutoff)
	if err != nil {
		return fmt.Errorf("list stale running: %w", err)
	}

	for _, d := range stale {
		age := time.Since(d.UpdatedAt)
		log := slog.With("debate_id", d.ID, "age", age, "attempt", d.RunAttempt)

		// Persisted output settles the row as degraded before the retry
		// budget is consulted: a vote or final content is a usable result.
		hasOutput := d.FinalContent != ""
		if !hasOutput {
			voted, err := r.store.HasVote(ctx, d.ID)
			if err != nil {
				log.Error("Failed to check vote for stale debate", "error", err)
				continue
			}
			hasOutput = voted
		}
		if hasOutput {
			meta := map[string]any{
				"reaped":       true,
				"reason":       "stale_running",
				"run_attempts": d.RunAttempt,
			}
			if err := r.store.FinalizeDebate(ctx, d.ID, models.StatusDegraded, d.FinalContent, meta); err != nil {
				log.Error("Failed to finalize stale debate", "error", err)
				continue
			}
			r.recordError(ctx, d.ID, "stale_running",
				fmt.Sprintf("stale with persisted output after attempt %d", d.RunAttempt), age)
			debatesReaped.WithLabelValues(string(models.StatusDegraded)).Inc()
			r.notifyTerminal(d.ID, models.StatusDegraded, "run went stale with partial output")
			log.Warn("Degraded stale running debate with persisted output")
			continue
		}

		if d.RunAttempt < r.maxAttempts {
			if err := r.store.RequeueDebate(ctx, d.ID); err != nil {
				log.Error("Failed to requeue stale debate", "error", err)
				continue
			}
			r.recordError(ctx, d.ID, "stale_running_requeued",
				fmt.Sprintf("lease expired after attempt %d, requeued", d.RunAttempt), age)
			debatesReaped.WithLabelValues("requeued").Inc()
			log.Warn("Requeued stale running debate")
			continue
		}

		// No output and no retry budget left.
		meta := map[string]any{
			"reaped":       true,
			"reason":       "stale_running",
			"run_attempts": d.RunAttempt,
		}
		if err := r.store.FinalizeDebate(ctx, d.ID, models.StatusFailed, "", meta); err != nil {
			log.Error("Failed to finalize stale debate", "error", err)
			continue
		}
		r.recordError(ctx, d.ID, "stale_running",
			fmt.Sprintf("retry budget exhausted after %d attempts", d.RunAttempt), age)
		debatesReaped.WithLabelValues(string(models.StatusFailed)).Inc()
		r.notifyTerminal(d.ID, models.StatusFailed, "run went stale and exhausted retries")
		log.Warn("Failed stale running debate")
	}
	return nil
}

// reapQueued fails queued debates nothing claimed within the threshold.
func (r *Reaper) reapQueued(ctx context.Context) error {
	cutoff := time.Now().Add(-r.cfg.StaleQueued)
	stale, err := r.store.ListStale(ctx, models.StatusQueued, cutoff)
	if err != nil {
		return fmt.Errorf("list stale queued: %w", err)
	}

	for _, d := range stale {
		age := time.Since(d.UpdatedAt)
		meta := map[string]any{"reaped": true, "reason": "stale_queued"}
		if err := r.store.FinalizeDebate(ctx, d.ID, models.StatusFailed, "", meta); err != nil {
			slog.Error("Failed to fail stale queued debate", "debate_id", d.ID, "error", err)
			continue
		}
		r.recordError(ctx, d.ID, "stale_queued",
			fmt.Sprintf("unclaimed for %s", age.Round(time.Second)), age)
		debatesReaped.WithLabelValues("stale_queued").Inc()
		r.notifyTerminal(d.ID, models.StatusFailed, "debate was never claimed")
		slog.Warn("Failed stale queued debate", "debate_id", d.ID, "age", age)
	}
	return nil
}

func (r *Reaper) recordError(ctx context.Context, debateID, reason, detail string, age time.Duration) {
	err := r.store.InsertDebateError(ctx, &models.DebateError{
		DebateID: debateID,
		Reason:   reason,
		Detail:   detail,
		Age:      age,
	})
	if err != nil {
		slog.Warn("Failed to record debate error", "debate_id", debateID, "reason", reason, "error", err)
	}
}

// notifyTerminal tells live subscribers the debate is over. Sequence
// numbers restart, which is fine: clients resolve truth from the row.
func (r *Reaper) notifyTerminal(debateID string, status models.DebateStatus, reason string) {
	if r.broker == nil {
		return
	}
	pub := events.NewPublisher(r.broker, debateID)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if status == models.StatusDegraded {
		pub.Final(ctx, "", map[string]any{"reaped": true, "reason": reason, "status": string(status)})
		return
	}
	pub.DebateFailed(ctx, reason, map[string]any{"reaped": true})
}
