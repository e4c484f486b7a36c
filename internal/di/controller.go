package di

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/jrjohn/arcana-plugin-runtime/internal/config"
	"github.com/jrjohn/arcana-plugin-runtime/internal/controller/graphql"
	httpctrl "github.com/jrjohn/arcana-plugin-runtime/internal/controller/http"
	"github.com/jrjohn/arcana-plugin-runtime/internal/domain/service"
	"github.com/jrjohn/arcana-plugin-runtime/internal/middleware"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/manager"
	"github.com/jrjohn/arcana-plugin-runtime/internal/resilience"
	"github.com/jrjohn/arcana-plugin-runtime/internal/security"
)

// ControllerModule provides HTTP controller dependencies
var ControllerModule = fx.Module("controller",
	fx.Provide(
		provideAuthController,
		providePluginController,
		provideAuditController,
		provideGraphQLHandler,
	),
)

func provideAuthController(
	authenticator *security.Authenticator,
	limiter *resilience.KeyedLimiter,
) *httpctrl.AuthController {
	return httpctrl.NewAuthController(authenticator, limiter)
}

func providePluginController(
	m *manager.Manager,
	breakers *resilience.CircuitBreakerRegistry,
	authMiddleware *middleware.AuthMiddleware,
	limiter *resilience.KeyedLimiter,
) *httpctrl.PluginController {
	return httpctrl.NewPluginController(m, breakers, authMiddleware, limiter)
}

// provideAuditController returns nil when auditing is off
func provideAuditController(
	auditService service.PluginAuditService,
	authMiddleware *middleware.AuthMiddleware,
) *httpctrl.AuditController {
	if auditService == nil {
		return nil
	}
	return httpctrl.NewAuditController(auditService, authMiddleware)
}

func provideGraphQLHandler(
	builder *graphql.SchemaBuilder,
	cfg *config.GraphQLConfig,
	authMiddleware *middleware.AuthMiddleware,
	logger *zap.Logger,
) *graphql.Handler {
	return graphql.NewHandler(builder, cfg, authMiddleware, logger)
}
