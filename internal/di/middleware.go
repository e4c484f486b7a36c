package di

import (
	"go.uber.org/fx"

	"github.com/jrjohn/arcana-plugin-runtime/internal/middleware"
	"github.com/jrjohn/arcana-plugin-runtime/internal/security"
)

// MiddlewareModule provides middleware dependencies
var MiddlewareModule = fx.Module("middleware",
	fx.Provide(provideAuthMiddleware),
)

func provideAuthMiddleware(jwtProvider *security.JWTProvider) *middleware.AuthMiddleware {
	return middleware.NewAuthMiddleware(jwtProvider)
}
