package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/jrjohn/arcana-plugin-runtime/internal/config"
	"github.com/jrjohn/arcana-plugin-runtime/internal/controller/graphql"
	grpcctrl "github.com/jrjohn/arcana-plugin-runtime/internal/controller/grpc"
	httpctrl "github.com/jrjohn/arcana-plugin-runtime/internal/controller/http"
	"github.com/jrjohn/arcana-plugin-runtime/internal/middleware"
	"github.com/jrjohn/arcana-plugin-runtime/internal/observability"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/manager"
	"github.com/jrjohn/arcana-plugin-runtime/internal/websocket"
)

// HTTPServerModule provides HTTP server dependencies
var HTTPServerModule = fx.Module("http_server",
	fx.Provide(provideGinEngine),
	fx.Provide(provideHTTPServer),
	fx.Invoke(registerHTTPRoutes),
	fx.Invoke(startHTTPServer),
)

// GRPCServerModule provides the gRPC health server
var GRPCServerModule = fx.Module("grpc_server",
	fx.Provide(provideGRPCServer),
	fx.Invoke(startGRPCServer),
)

func provideGinEngine(
	cfg *config.AppConfig,
	serverCfg *config.ServerConfig,
	metricsCfg *observability.MetricsConfig,
	tracingCfg *observability.TracingConfig,
	mp *observability.MetricsProvider,
	logger *zap.Logger,
) *gin.Engine {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger, "/health", mp.Path()))
	router.Use(middleware.CORS(middleware.CORSForOrigins(serverCfg.AllowedOrigins)))
	if tracingCfg.Enabled {
		router.Use(observability.TracingMiddleware(tracingCfg.ServiceName))
	}
	if metricsCfg.Enabled {
		router.Use(observability.MetricsMiddleware(mp))
	}

	return router
}

func provideHTTPServer(cfg *config.ServerConfig, router *gin.Engine) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func provideGRPCServer(cfg *config.GRPCConfig, app *config.AppConfig, logger *zap.Logger) (*grpcctrl.Server, error) {
	return grpcctrl.NewServer(cfg, app.Name, logger)
}

// Routes is a struct that holds everything mounted on the router for fx to inject
type Routes struct {
	fx.In

	Auth      *httpctrl.AuthController
	Plugin    *httpctrl.PluginController
	Audit     *httpctrl.AuditController
	GraphQL   *graphql.Handler
	WebSocket *websocket.Handler
	Metrics   *observability.MetricsProvider

	GraphQLConfig *config.GraphQLConfig
	EventsConfig  *config.WebSocketConfig
	MetricsConfig *observability.MetricsConfig
}

func registerHTTPRoutes(router *gin.Engine, routes Routes) {
	// Health endpoints
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	if routes.MetricsConfig.Enabled {
		router.GET(routes.Metrics.Path(), gin.WrapH(routes.Metrics.Handler()))
	}

	// API routes
	api := router.Group("/api/v1")

	routes.Auth.RegisterRoutes(api)
	routes.Plugin.RegisterRoutes(api)
	if routes.Audit != nil {
		routes.Audit.RegisterRoutes(api)
	}
	if routes.EventsConfig.Enabled {
		routes.WebSocket.RegisterRoutes(api)
	}
	if routes.GraphQLConfig.Enabled {
		routes.GraphQL.RegisterRoutes(router.Group(""))
	}
}

func startHTTPServer(lc fx.Lifecycle, server *http.Server, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("Starting HTTP server", zap.String("address", server.Addr))
			go func() {
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("HTTP server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Stopping HTTP server")
			return server.Shutdown(ctx)
		},
	})
}

// startGRPCServer serves grpc.health.v1 with one service per plugin.
// The overall status turns SERVING once the plugin system is up.
func startGRPCServer(
	lc fx.Lifecycle,
	cfg *config.GRPCConfig,
	server *grpcctrl.Server,
	m *manager.Manager,
	logger *zap.Logger,
) {
	if !cfg.Enabled {
		return
	}

	m.Subscribe(grpcctrl.NewPluginHealth(server.Health()))

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			server.MarkServing()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			server.Stop()
			return nil
		},
	})
}
