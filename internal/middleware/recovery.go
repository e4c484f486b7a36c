package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jrjohn/arcana-plugin-runtime/internal/dto/response"
)

// Recovery returns a middleware that recovers from panics, including ones
// raised by plugin resolvers running inside a request
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered",
					zap.Any("error", err),
					zap.String("path", c.Request.URL.Path),
					zap.String("method", c.Request.Method),
					zap.String("request_id", GetRequestID(c)),
					zap.ByteString("stack", debug.Stack()),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, response.NewError[any]("internal server error"))
			}
		}()
		c.Next()
	}
}
