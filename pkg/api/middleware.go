package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// requestLogger logs one line per request in slog style.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP())
	}
}

// securityHeaders sets standard security response headers.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// ipRateLimit rejects clients that exceed the per-IP submission window.
func (s *Server) ipRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.ipBucket == nil {
			c.Next()
			return
		}
		if err := s.ipBucket.Check(c.ClientIP()); err != nil {
			rateLimited.WithLabelValues("ip").Inc()
			respondRateLimited(c, err)
			c.Abort()
			return
		}
		c.Next()
	}
}

// userID resolves the calling user. Authentication is fronted by the
// ingress; the gateway injects the identity header.
func userID(c *gin.Context) string {
	if id := c.GetHeader("X-User-ID"); id != "" {
		return id
	}
	return "anonymous"
}
