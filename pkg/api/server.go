// Package api exposes the HTTP surface: debate submission and inspection,
// SSE streaming, the persona leaderboard, and system health.
package api

import (
	"context"
	"database/sql"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arbiterlabs/arbiter/pkg/config"
	"github.com/arbiterlabs/arbiter/pkg/events"
	"github.com/arbiterlabs/arbiter/pkg/health"
	"github.com/arbiterlabs/arbiter/pkg/masking"
	"github.com/arbiterlabs/arbiter/pkg/models"
	"github.com/arbiterlabs/arbiter/pkg/queue"
	"github.com/arbiterlabs/arbiter/pkg/router"
)

// DebateStore is the persistence surface the API needs.
type DebateStore interface {
	CreateDebate(ctx context.Context, d *models.Debate) error
	GetDebate(ctx context.Context, id string) (*models.Debate, error)
	ListDebates(ctx context.Context, userID string, limit int) ([]*models.Debate, error)
	ListRounds(ctx context.Context, debateID string) ([]*models.Round, error)
	ListMessages(ctx context.Context, debateID string) ([]*models.Message, error)
	ListScores(ctx context.Context, debateID string) ([]*models.Score, error)
	GetCheckpoint(ctx context.Context, debateID string) (*models.Checkpoint, error)
	ListRatings(ctx context.Context, category string, limit int) ([]*models.RatingPersona, error)
}

// WorkerPool is the subset of the queue pool the API uses.
type WorkerPool interface {
	Health() queue.PoolHealth
	CancelDebate(debateID string) bool
}

// QuotaChecker gates submissions per user.
type QuotaChecker interface {
	ReserveRunSlot(ctx context.Context, userID string) error
	EnsureDailyTokenHeadroom(ctx context.Context, userID string) error
}

// IPLimiter throttles submissions per client address. Implemented by the
// in-memory and Redis buckets in pkg/quota.
type IPLimiter interface {
	Check(ip string) error
}

// Server is the HTTP API server.
type Server struct {
	store    DebateStore
	broker   events.Broker
	quota    QuotaChecker
	ipBucket IPLimiter
	router   *router.Router
	catalog  *router.Catalog
	breaker  *health.Breaker
	pool     WorkerPool
	masker   *masking.Service
	db       *sql.DB
	sseCfg   config.SSEConfig
}

// NewServer creates the API server. pool, breaker, quota, ipBucket, and db
// may be nil; the corresponding endpoints degrade gracefully.
func NewServer(store DebateStore, broker events.Broker, quotaSvc QuotaChecker, ipBucket IPLimiter,
	modelRouter *router.Router, catalog *router.Catalog, breaker *health.Breaker,
	pool WorkerPool, masker *masking.Service, db *sql.DB, sseCfg config.SSEConfig) *Server {
	return &Server{
		store:    store,
		broker:   broker,
		quota:    quotaSvc,
		ipBucket: ipBucket,
		router:   modelRouter,
		catalog:  catalog,
		breaker:  breaker,
		pool:     pool,
		masker:   masker,
		db:       db,
		sseCfg:   sseCfg,
	}
}

// RegisterRoutes wires all endpoints onto the gin engine.
func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.Use(requestLogger(), securityHeaders())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		v1.POST("/debates", s.ipRateLimit(), s.SubmitDebate)
		v1.GET("/debates", s.ListDebates)
		v1.GET("/debates/:id", s.GetDebate)
		v1.GET("/debates/:id/transcript", s.GetTranscript)
		v1.GET("/debates/:id/events", s.StreamEvents)
		v1.POST("/debates/:id/cancel", s.CancelDebate)
		v1.GET("/models", s.ListModels)
		v1.GET("/leaderboard", s.Leaderboard)
		v1.GET("/system/health", s.SystemHealth)
	}
}

// NewEngine builds a gin engine with routes registered, for main and tests.
func (s *Server) NewEngine() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	s.RegisterRoutes(engine)
	return engine
}

// timeoutCtx bounds handler DB work.
func timeoutCtx(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), 10*time.Second)
}
