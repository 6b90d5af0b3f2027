package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/arbiterlabs/arbiter/pkg/config"
)

// Pool manages the debate workers on one pod.
type Pool struct {
	podID    string
	store    DebateStore
	executor Executor
	quota    UsageRecorder

	queueCfg  config.QueueConfig
	debateCfg config.DebateConfig

	workers []*Worker
	started bool

	// Cancel registry for API-triggered cancellation: debate_id → cancel.
	mu            sync.RWMutex
	activeDebates map[string]context.CancelCauseFunc
}

// NewPool creates a worker pool. quota may be nil.
func NewPool(podID string, store DebateStore, executor Executor, quota UsageRecorder, queueCfg config.QueueConfig, debateCfg config.DebateConfig) *Pool {
	return &Pool{
		podID:         podID,
		store:         store,
		executor:      executor,
		quota:         quota,
		queueCfg:      queueCfg,
		debateCfg:     debateCfg,
		workers:       make([]*Worker, 0, queueCfg.Workers),
		activeDebates: make(map[string]context.CancelCauseFunc),
	}
}

// Start reclaims this pod's orphaned leases and spawns the workers.
// Safe to call multiple times; subsequent calls are no-ops.
func (p *Pool) Start(ctx context.Context) error {
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call", "pod_id", p.podID)
		return nil
	}
	p.started = true

	// A previous incarnation of this pod may have died mid-run. Requeue
	// its debates now rather than waiting for the leases to expire.
	reclaimed, err := p.store.ReleaseAllFor(ctx, p.podID)
	if err != nil {
		return fmt.Errorf("reclaim orphaned leases: %w", err)
	}
	if reclaimed > 0 {
		slog.Info("Requeued orphaned debates from previous run", "pod_id", p.podID, "count", reclaimed)
	}

	slog.Info("Starting worker pool", "pod_id", p.podID, "worker_count", p.queueCfg.Workers)
	for i := 0; i < p.queueCfg.Workers; i++ {
		workerID := fmt.Sprintf("%s-worker-%d", p.podID, i)
		worker := NewWorker(workerID, p.podID, p.store, p.executor, p.quota, p, p.queueCfg, p.debateCfg)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}
	return nil
}

// Stop signals all workers and waits up to the shutdown timeout for
// in-flight debates to finish. Debates still running after the timeout are
// abandoned to lease expiry and the reaper.
func (p *Pool) Stop() {
	slog.Info("Stopping worker pool gracefully", "pod_id", p.podID)

	if active := p.activeDebateIDs(); len(active) > 0 {
		slog.Info("Waiting for active debates to complete", "count", len(active), "debate_ids", active)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, w := range p.workers {
			w.Stop()
		}
	}()

	select {
	case <-done:
		slog.Info("Worker pool stopped gracefully")
	case <-time.After(p.queueCfg.ShutdownTimeout):
		slog.Warn("Worker pool shutdown timed out, abandoning in-flight debates",
			"timeout", p.queueCfg.ShutdownTimeout, "debate_ids", p.activeDebateIDs())
	}
}

// RegisterDebate stores a cancel function for manual cancellation.
func (p *Pool) RegisterDebate(debateID string, cancel context.CancelCauseFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeDebates[debateID] = cancel
}

// UnregisterDebate removes the cancel function when processing ends.
func (p *Pool) UnregisterDebate(debateID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeDebates, debateID)
}

// CancelDebate cancels a debate running on this pod. Returns false when the
// debate is not running here.
func (p *Pool) CancelDebate(debateID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cancel, ok := p.activeDebates[debateID]; ok {
		cancel(context.Canceled)
		return true
	}
	return false
}

// Health returns the pool's health snapshot.
func (p *Pool) Health() PoolHealth {
	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, w := range p.workers {
		workerStats[i] = w.Health()
		if workerStats[i].Status == WorkerStatusWorking {
			activeWorkers++
		}
	}
	return PoolHealth{
		PodID:         p.podID,
		TotalWorkers:  len(p.workers),
		ActiveWorkers: activeWorkers,
		ActiveDebates: p.activeDebateIDs(),
		Workers:       workerStats,
	}
}

func (p *Pool) activeDebateIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.activeDebates))
	for id := range p.activeDebates {
		ids = append(ids, id)
	}
	return ids
}
