// Package config loads runtime configuration from the environment.
// Every knob has a default so a bare process starts with sane behavior;
// production deployments override via env (godotenv loads .env in main).
package config

import (
	"fmt"
	"time"
)

// Config is the full runtime configuration for the arbiter service.
type Config struct {
	Server       ServerConfig
	LLM          LLMConfig
	Health       HealthConfig
	Debate       DebateConfig
	Reaper       ReaperConfig
	SSE          SSEConfig
	Queue        QueueConfig
	Quota        QuotaConfig
	Conversation ConversationConfig
	Redis        RedisConfig
}

// ServerConfig covers the HTTP ingress.
type ServerConfig struct {
	Host string
	Port int
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LLMConfig covers provider call behavior and retry policy.
type LLMConfig struct {
	CallTimeout       time.Duration
	RetryEnabled      bool
	RetryMaxAttempts  int
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration
}

// HealthConfig tunes the provider-health circuit breaker.
type HealthConfig struct {
	Window         time.Duration
	ErrorThreshold float64
	MinCalls       int
	Cooldown       time.Duration
}

// DebateConfig holds pipeline-wide tolerances and the lease policy.
type DebateConfig struct {
	MaxSeatFailRatio  float64
	MinRequiredSeats  int
	FailFast          bool
	LeaseDuration     time.Duration
	HeartbeatInterval time.Duration
	ResumeTokenTTL    time.Duration
	MaxAttempts       int
}

// ReaperConfig tunes the stale-run cleanup loop.
type ReaperConfig struct {
	StaleRunning time.Duration
	StaleQueued  time.Duration
	LoopInterval time.Duration
}

// SSEConfig tunes the event broker.
type SSEConfig struct {
	ChannelTTL   time.Duration
	IdleTimeout  time.Duration
	MaxQueueSize int
}

// QueueConfig tunes the worker pool.
type QueueConfig struct {
	Workers         int
	PollInterval    time.Duration
	ShutdownTimeout time.Duration
}

// QuotaConfig holds default per-user caps and the per-IP bucket shape.
type QuotaConfig struct {
	DefaultRunsPerHour  int
	DefaultTokensPerDay int
	IPBucketSize        int
	IPBucketWindow      time.Duration
}

// ConversationConfig bounds conversation-mode debates.
type ConversationConfig struct {
	MaxRounds      int
	MaxTotalTokens int
}

// RedisConfig enables the distributed SSE backend when URL is set.
type RedisConfig struct {
	URL string
}

// Load reads the full configuration from the environment.
func Load() Config {
	return Config{
		Server: ServerConfig{
			Host: getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			Port: getEnvInt("SERVER_PORT", 8080),
		},
		LLM: LLMConfig{
			CallTimeout:       getEnvSeconds("LLM_CALL_TIMEOUT", 120*time.Second),
			RetryEnabled:      getEnvBool("LLM_RETRY_ENABLED", true),
			RetryMaxAttempts:  getEnvInt("LLM_RETRY_MAX_ATTEMPTS", 3),
			RetryInitialDelay: getEnvSeconds("LLM_RETRY_INITIAL_DELAY_SECONDS", 500*time.Millisecond),
			RetryMaxDelay:     getEnvSeconds("LLM_RETRY_MAX_DELAY_SECONDS", 30*time.Second),
		},
		Health: HealthConfig{
			Window:         getEnvSeconds("PROVIDER_HEALTH_WINDOW_SECONDS", 300*time.Second),
			ErrorThreshold: getEnvFloat("PROVIDER_HEALTH_ERROR_THRESHOLD", 0.5),
			MinCalls:       getEnvInt("PROVIDER_HEALTH_MIN_CALLS", 10),
			Cooldown:       getEnvSeconds("PROVIDER_HEALTH_COOLDOWN_SECONDS", 60*time.Second),
		},
		Debate: DebateConfig{
			MaxSeatFailRatio:  getEnvFloat("DEBATE_MAX_SEAT_FAIL_RATIO", 0.5),
			MinRequiredSeats:  getEnvInt("DEBATE_MIN_REQUIRED_SEATS", 1),
			FailFast:          getEnvBool("DEBATE_FAIL_FAST", true),
			LeaseDuration:     getEnvSeconds("DEBATE_LEASE_SECONDS", 60*time.Second),
			HeartbeatInterval: getEnvSeconds("DEBATE_HEARTBEAT_SECONDS", 15*time.Second),
			ResumeTokenTTL:    getEnvSeconds("DEBATE_RESUME_TOKEN_TTL_SECONDS", 120*time.Second),
			MaxAttempts:       getEnvInt("DEBATE_MAX_ATTEMPTS", 3),
		},
		Reaper: ReaperConfig{
			StaleRunning: getEnvSeconds("DEBATE_STALE_RUNNING_SECONDS", 900*time.Second),
			StaleQueued:  getEnvSeconds("DEBATE_STALE_QUEUED_SECONDS", 600*time.Second),
			LoopInterval: getEnvSeconds("DEBATE_CLEANUP_LOOP_SECONDS", 60*time.Second),
		},
		SSE: SSEConfig{
			ChannelTTL:   getEnvSeconds("SSE_CHANNEL_TTL_SECONDS", 900*time.Second),
			IdleTimeout:  getEnvSeconds("SSE_IDLE_TIMEOUT_SECONDS", 300*time.Second),
			MaxQueueSize: getEnvInt("SSE_MAX_QUEUE_SIZE", 1024),
		},
		Queue: QueueConfig{
			Workers:         getEnvInt("QUEUE_WORKERS", 4),
			PollInterval:    getEnvSeconds("QUEUE_POLL_INTERVAL_SECONDS", 2*time.Second),
			ShutdownTimeout: getEnvSeconds("QUEUE_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Quota: QuotaConfig{
			DefaultRunsPerHour:  getEnvInt("QUOTA_RUNS_PER_HOUR", 20),
			DefaultTokensPerDay: getEnvInt("QUOTA_TOKENS_PER_DAY", 500000),
			IPBucketSize:        getEnvInt("RATE_LIMIT_IP_BUCKET_SIZE", 60),
			IPBucketWindow:      getEnvSeconds("RATE_LIMIT_IP_WINDOW_SECONDS", 60*time.Second),
		},
		Conversation: ConversationConfig{
			MaxRounds:      getEnvInt("CONVERSATION_MAX_ROUNDS", 4),
			MaxTotalTokens: getEnvInt("CONVERSATION_MAX_TOTAL_TOKENS", 0),
		},
		Redis: RedisConfig{
			URL: getEnvOrDefault("REDIS_URL", ""),
		},
	}
}
