package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/arbiterlabs/arbiter/pkg/config"
	"github.com/arbiterlabs/arbiter/pkg/engine"
	"github.com/arbiterlabs/arbiter/pkg/models"
	"github.com/arbiterlabs/arbiter/pkg/store"
)

// DebateRegistry is the subset of Pool used by workers for cancellation
// bookkeeping.
type DebateRegistry interface {
	RegisterDebate(debateID string, cancel context.CancelCauseFunc)
	UnregisterDebate(debateID string)
}

// Worker polls for queued debates, claims them under a lease, and runs the
// executor while a heartbeat goroutine keeps the lease alive. All workers
// on one pod share the pod's runner ID so a restart can reclaim every
// orphaned lease at once.
type Worker struct {
	id       string
	runnerID string
	store    DebateStore
	executor Executor
	quota    UsageRecorder
	pool     DebateRegistry

	queueCfg  config.QueueConfig
	debateCfg config.DebateConfig

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu               sync.RWMutex
	status           WorkerStatus
	currentDebateID  string
	debatesProcessed int
	lastActivity     time.Time
}

// NewWorker creates a queue worker. quota may be nil.
func NewWorker(id, runnerID string, store DebateStore, executor Executor, quota UsageRecorder, pool DebateRegistry, queueCfg config.QueueConfig, debateCfg config.DebateConfig) *Worker {
	return &Worker{
		id:           id,
		runnerID:     runnerID,
		store:        store,
		executor:     executor,
		quota:        quota,
		pool:         pool,
		queueCfg:     queueCfg,
		debateCfg:    debateCfg,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for the current debate to
// finish. Safe to call multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the worker's health snapshot.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:               w.id,
		Status:           w.status,
		CurrentDebateID:  w.currentDebateID,
		DebatesProcessed: w.debatesProcessed,
		LastActivity:     w.lastActivity,
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoDebatesAvailable) {
					w.sleep(w.queueCfg.PollInterval)
					continue
				}
				log.Error("Error processing debate", "error", err)
				w.sleep(time.Second)
			}
		}
	}
}

// sleep waits for d or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess claims one debate and runs it to completion.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	d, err := w.store.ClaimNextQueued(ctx, w.runnerID, w.debateCfg.LeaseDuration)
	if err != nil {
		return err
	}
	if d == nil {
		return ErrNoDebatesAvailable
	}

	log := slog.With("debate_id", d.ID, "worker_id", w.id)
	log.Info("Debate claimed", "attempt", d.RunAttempt)

	ok, err := w.claimResume(ctx, d.ID)
	if err != nil {
		return err
	}
	if !ok {
		// Another worker resumed this debate within the token TTL. Put the
		// row back and let the fence expire.
		log.Warn("Resume token held elsewhere, releasing claim")
		if err := w.store.RequeueDebate(ctx, d.ID); err != nil {
			return err
		}
		return w.store.ReleaseLease(ctx, d.ID, w.runnerID)
	}

	w.setStatus(WorkerStatusWorking, d.ID)
	defer w.setStatus(WorkerStatusIdle, "")

	// Lease loss cancels the run with a distinguishable cause so the
	// executor aborts without writing terminal state.
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	w.pool.RegisterDebate(d.ID, cancel)
	defer w.pool.UnregisterDebate(d.ID)

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		w.runHeartbeat(runCtx, d.ID, cancel)
	}()

	status, usage := w.executor.Run(runCtx, d)

	cancel(nil)
	<-heartbeatDone

	if status == "" {
		w.handleAborted(runCtx, d)
	} else {
		w.chargeUsage(d, usage)
	}

	w.mu.Lock()
	w.debatesProcessed++
	w.mu.Unlock()

	log.Info("Debate processing complete", "status", status)
	return nil
}

// claimResume consumes the previous run's resume token, if any. A token
// claimed within its TTL means another worker already resumed this debate.
func (w *Worker) claimResume(ctx context.Context, debateID string) (bool, error) {
	cp, err := w.store.GetCheckpoint(ctx, debateID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return true, nil
		}
		return false, err
	}
	if cp == nil || cp.ResumeToken == "" {
		return true, nil
	}
	return w.store.ClaimResumeToken(ctx, debateID, cp.ResumeToken, w.debateCfg.ResumeTokenTTL.Seconds())
}

// runHeartbeat extends the lease until the run ends. A failed extension
// means another worker owns the row: cancel the run with ErrLeaseLost.
func (w *Worker) runHeartbeat(ctx context.Context, debateID string, cancel context.CancelCauseFunc) {
	ticker := time.NewTicker(w.debateCfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := w.store.Heartbeat(ctx, debateID, w.runnerID, w.debateCfg.LeaseDuration)
			if err != nil {
				slog.Warn("Heartbeat update failed", "debate_id", debateID, "error", err)
				continue
			}
			if !ok {
				slog.Warn("Lease lost, cancelling run", "debate_id", debateID, "worker_id", w.id)
				cancel(engine.ErrLeaseLost)
				return
			}
		}
	}
}

// handleAborted requeues a run that ended without terminal state. Lease
// loss is left alone: the row already belongs to someone else.
func (w *Worker) handleAborted(runCtx context.Context, d *models.Debate) {
	if errors.Is(context.Cause(runCtx), engine.ErrLeaseLost) {
		return
	}
	// Shutdown mid-run: release the row so another pod picks it up now
	// instead of after lease expiry. Fresh context, ours is cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.store.RequeueDebate(ctx, d.ID); err != nil {
		slog.Warn("Failed to requeue aborted debate", "debate_id", d.ID, "error", err)
		return
	}
	if err := w.store.ReleaseLease(ctx, d.ID, w.runnerID); err != nil {
		slog.Warn("Failed to release lease", "debate_id", d.ID, "error", err)
	}
	if err := w.store.InsertDebateError(ctx, &models.DebateError{
		DebateID:  d.ID,
		Reason:    "worker_shutdown_requeued",
		Detail:    "run aborted by worker shutdown, requeued",
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		slog.Warn("Failed to record debate error", "debate_id", d.ID, "error", err)
	}
	slog.Info("Aborted debate requeued", "debate_id", d.ID)
}

// chargeUsage books the run's tokens against the owner's daily quota.
func (w *Worker) chargeUsage(d *models.Debate, usage *models.UsageAccumulator) {
	if w.quota == nil || usage == nil || usage.TotalTokens() == 0 || d.UserID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.quota.RecordTokenUsage(ctx, d.UserID, usage.TotalTokens()); err != nil {
		slog.Warn("Failed to record token usage",
			"debate_id", d.ID, "user_id", d.UserID, "tokens", usage.TotalTokens(), "error", err)
	}
}

func (w *Worker) setStatus(status WorkerStatus, debateID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentDebateID = debateID
	w.lastActivity = time.Now()
}
