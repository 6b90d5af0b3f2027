package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arbiterlabs/arbiter/pkg/database"
)

// SystemHealth handles GET /api/v1/system/health: database, event broker,
// provider circuits, and the worker pool in one snapshot.
func (s *Server) SystemHealth(c *gin.Context) {
	ctx, cancel := timeoutCtx(c)
	defer cancel()

	healthy := true
	out := gin.H{"timestamp": time.Now().UTC().Format(time.RFC3339)}

	if s.db != nil {
		dbHealth, err := database.Health(ctx, s.db)
		out["database"] = dbHealth
		if err != nil {
			healthy = false
		}
	}

	if s.broker != nil {
		if err := s.broker.Ping(ctx); err != nil {
			out["events"] = gin.H{"status": "unhealthy", "error": err.Error()}
			healthy = false
		} else {
			out["events"] = gin.H{"status": "healthy"}
		}
	}

	if s.breaker != nil {
		out["providers"] = s.breaker.Snapshot()
	}
	if s.pool != nil {
		out["pool"] = s.pool.Health()
	}

	status := http.StatusOK
	out["status"] = "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		out["status"] = "unhealthy"
	}
	c.JSON(status, out)
}
