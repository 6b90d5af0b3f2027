package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.True(t, cfg.LLM.RetryEnabled)
	assert.Equal(t, 3, cfg.LLM.RetryMaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.LLM.RetryInitialDelay)
	assert.Equal(t, 0.5, cfg.Health.ErrorThreshold)
	assert.Equal(t, 10, cfg.Health.MinCalls)
	assert.Equal(t, 60*time.Second, cfg.Debate.LeaseDuration)
	assert.Equal(t, 15*time.Second, cfg.Debate.HeartbeatInterval)
	assert.Equal(t, 900*time.Second, cfg.Reaper.StaleRunning)
	assert.Equal(t, 1024, cfg.SSE.MaxQueueSize)
	assert.Equal(t, 4, cfg.Conversation.MaxRounds)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9999")
	t.Setenv("LLM_RETRY_ENABLED", "false")
	t.Setenv("LLM_RETRY_INITIAL_DELAY_SECONDS", "1.5")
	t.Setenv("PROVIDER_HEALTH_MIN_CALLS", "25")
	t.Setenv("DEBATE_MAX_SEAT_FAIL_RATIO", "0.75")

	cfg := Load()

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.False(t, cfg.LLM.RetryEnabled)
	assert.Equal(t, 1500*time.Millisecond, cfg.LLM.RetryInitialDelay)
	assert.Equal(t, 25, cfg.Health.MinCalls)
	assert.Equal(t, 0.75, cfg.Debate.MaxSeatFailRatio)
}

func TestMalformedEnvFallsBackToDefault(t *testing.T) {
	t.Setenv("SERVER_PORT", "not-a-number")
	t.Setenv("PROVIDER_HEALTH_ERROR_THRESHOLD", "half")

	cfg := Load()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 0.5, cfg.Health.ErrorThreshold)
}
