package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jrjohn/arcana-plugin-runtime/internal/dto/response"
	"github.com/jrjohn/arcana-plugin-runtime/internal/resilience"
)

// RateLimit rejects callers whose per-IP token bucket is empty
func RateLimit(limiter *resilience.KeyedLimiter, retryAfterSeconds int) gin.HandlerFunc {
	retryAfter := strconv.Itoa(max(retryAfterSeconds, 1))
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			c.Header("Retry-After", retryAfter)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, response.NewError[any](resilience.ErrRateLimitExceeded.Error()))
			return
		}
		c.Next()
	}
}
