// Arbiter debate orchestrator — provides the HTTP API, manages queue
// workers, and runs the multi-seat debate pipeline.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/arbiterlabs/arbiter/pkg/api"
	"github.com/arbiterlabs/arbiter/pkg/config"
	"github.com/arbiterlabs/arbiter/pkg/database"
	"github.com/arbiterlabs/arbiter/pkg/engine"
	"github.com/arbiterlabs/arbiter/pkg/events"
	"github.com/arbiterlabs/arbiter/pkg/health"
	"github.com/arbiterlabs/arbiter/pkg/llm"
	"github.com/arbiterlabs/arbiter/pkg/masking"
	"github.com/arbiterlabs/arbiter/pkg/queue"
	"github.com/arbiterlabs/arbiter/pkg/quota"
	"github.com/arbiterlabs/arbiter/pkg/ratings"
	"github.com/arbiterlabs/arbiter/pkg/router"
	"github.com/arbiterlabs/arbiter/pkg/seat"
	"github.com/arbiterlabs/arbiter/pkg/store"
	"github.com/arbiterlabs/arbiter/pkg/version"
)

// resolvePodID determines the pod identifier for multi-replica coordination.
// Priority: POD_ID env > HOSTNAME env > "local"
func resolvePodID() string {
	if id := os.Getenv("POD_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "local"
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	cfg := config.Load()
	podID := resolvePodID()

	slog.Info("Starting arbiter",
		"version", version.Full(),
		"addr", cfg.Server.Addr(),
		"pod_id", podID,
		"workers", cfg.Queue.Workers)

	ctx := context.Background()

	// Database
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	st := store.New(dbClient.DB())

	// Event broker: Redis when configured, in-process otherwise.
	var broker events.Broker
	if cfg.Redis.URL != "" {
		rb, err := events.NewRedisBroker(cfg.Redis.URL, cfg.SSE.IdleTimeout)
		if err != nil {
			slog.Error("Failed to connect to Redis broker", "url", cfg.Redis.URL, "error", err)
			os.Exit(1)
		}
		broker = rb
		slog.Info("Using Redis event broker")
	} else {
		broker = events.NewMemoryBroker(events.MemoryConfig{
			MaxQueueSize: cfg.SSE.MaxQueueSize,
			IdleTimeout:  cfg.SSE.IdleTimeout,
			ChannelTTL:   cfg.SSE.ChannelTTL,
		})
		slog.Info("Using in-process event broker")
	}
	defer func() {
		if err := broker.Close(); err != nil {
			slog.Error("Error closing event broker", "error", err)
		}
	}()

	// LLM providers
	registry := llm.NewRegistry()
	registry.Register(llm.NewOpenAIClient(llm.OpenAIConfig{Timeout: cfg.LLM.CallTimeout}))
	registry.Register(llm.NewAnthropicClient(llm.AnthropicConfig{Timeout: cfg.LLM.CallTimeout}))

	breaker := health.NewBreaker(health.Config{
		Window:         cfg.Health.Window,
		ErrorThreshold: cfg.Health.ErrorThreshold,
		MinCalls:       cfg.Health.MinCalls,
		Cooldown:       cfg.Health.Cooldown,
	})
	masker := masking.NewService(masking.Config{
		Enabled:      os.Getenv("MASKING_ENABLED") != "false",
		PatternGroup: os.Getenv("MASKING_PATTERN_GROUP"),
	})
	runner := seat.NewRunner(registry, llm.RetryPolicy{
		Enabled:      cfg.LLM.RetryEnabled,
		MaxAttempts:  cfg.LLM.RetryMaxAttempts,
		InitialDelay: cfg.LLM.RetryInitialDelay,
		MaxDelay:     cfg.LLM.RetryMaxDelay,
	}, breaker, masker, cfg.LLM.CallTimeout)

	catalog := router.DefaultCatalog()
	modelRouter := router.New(catalog, breaker)
	ratingsSvc := ratings.NewService(st)
	quotaSvc := quota.NewService(st, quota.Defaults{
		RunsPerHour:  cfg.Quota.DefaultRunsPerHour,
		TokensPerDay: cfg.Quota.DefaultTokensPerDay,
	})
	// Shared bucket when Redis is available, else per-pod.
	var ipBucket api.IPLimiter
	if cfg.Redis.URL != "" {
		rb, err := quota.NewRedisIPBucket(cfg.Redis.URL, cfg.Quota.IPBucketSize, cfg.Quota.IPBucketWindow)
		if err != nil {
			slog.Error("Failed to connect to Redis IP bucket", "error", err)
			os.Exit(1)
		}
		defer rb.Close()
		ipBucket = rb
	} else {
		ipBucket = quota.NewIPBucket(cfg.Quota.IPBucketSize, cfg.Quota.IPBucketWindow)
	}

	eng := engine.New(st, runner, broker, ratingsSvc, engine.Config{
		MaxSeatFailRatio:      cfg.Debate.MaxSeatFailRatio,
		MinRequiredSeats:      cfg.Debate.MinRequiredSeats,
		FailFast:              cfg.Debate.FailFast,
		ConversationMaxRounds: cfg.Conversation.MaxRounds,
		ConversationMaxTokens: cfg.Conversation.MaxTotalTokens,
	})

	// Worker pool and reaper (before the HTTP server accepts submissions)
	pool := queue.NewPool(podID, st, eng, quotaSvc, cfg.Queue, cfg.Debate)
	if err := pool.Start(ctx); err != nil {
		slog.Error("Failed to start worker pool", "error", err)
		os.Exit(1)
	}

	reaper := queue.NewReaper(st, broker, cfg.Reaper, cfg.Debate.MaxAttempts)
	reaper.Start(ctx)

	// HTTP server
	server := api.NewServer(st, broker, quotaSvc, ipBucket,
		modelRouter, catalog, breaker, pool, masker, dbClient.DB(), cfg.SSE)
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           server.NewEngine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Arbiter started successfully", "pod_id", podID)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// Stop accepting requests first, then drain workers.
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Queue.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP server shutdown error", "error", err)
	}

	pool.Stop()
	reaper.Stop()

	slog.Info("Arbiter shutdown complete")
}
