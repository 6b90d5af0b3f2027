package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arbiterlabs/arbiter/pkg/quota"
)

// respondError writes a uniform error body.
func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

// respondRateLimited maps a quota error to 429 with Retry-After. Non-quota
// errors fall through as 500.
func respondRateLimited(c *gin.Context, err error) {
	rle, ok := quota.AsRateLimit(err)
	if !ok {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	retryAfter := rle.RetryAfter(time.Now())
	c.Header("Retry-After", strconv.Itoa(retryAfter))
	c.JSON(http.StatusTooManyRequests, gin.H{
		"error":       "rate limit exceeded",
		"code":        rle.Code,
		"detail":      rle.Detail,
		"reset_at":    rle.ResetAt.UTC().Format(time.RFC3339),
		"retry_after": retryAfter,
	})
}
