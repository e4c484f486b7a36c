package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jrjohn/arcana-plugin-runtime/internal/security"
)

// Logger returns a request logging middleware. Requests to skipPaths that
// succeed are not logged.
func Logger(logger *zap.Logger, skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		status := c.Writer.Status()
		if _, ok := skip[path]; ok && status < 400 {
			return
		}

		fields := []zap.Field{
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.String("ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", GetRequestID(c)),
		}
		if route := c.FullPath(); route != "" && route != path {
			fields = append(fields, zap.String("route", route))
		}
		if claims := security.GetCurrentClaims(c); claims != nil {
			fields = append(fields, zap.String("subject", claims.Subject))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch {
		case status >= 500:
			logger.Error("server error", fields...)
		case status >= 400:
			logger.Warn("client error", fields...)
		default:
			logger.Info("request", fields...)
		}
	}
}
