package di

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/jrjohn/arcana-plugin-runtime/internal/config"
	"github.com/jrjohn/arcana-plugin-runtime/internal/observability"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/api"
	"github.com/jrjohn/arcana-plugin-runtime/internal/pubsub"
	"github.com/jrjohn/arcana-plugin-runtime/internal/testutil"
	"github.com/jrjohn/arcana-plugin-runtime/internal/websocket"
)

func TestPrintBanner(t *testing.T) {
	cfg := &config.Config{
		App: config.AppConfig{
			Name:        "test-app",
			Version:     "1.0.0",
			Environment: "test",
		},
		Plugin:   config.PluginConfig{Enabled: true, Directory: "./plugins"},
		Database: config.DatabaseConfig{Enabled: false},
		PubSub:   config.PubSubConfig{Driver: "memory"},
		Audit:    config.AuditConfig{Store: "none"},
	}

	// Just ensure PrintBanner doesn't panic
	PrintBanner(cfg, zap.NewNop())
}

func TestDatabaseLabel(t *testing.T) {
	assert.Equal(t, "disabled", databaseLabel(&config.DatabaseConfig{Driver: "sqlite"}))
	assert.Equal(t, "postgres", databaseLabel(&config.DatabaseConfig{Enabled: true, Driver: "postgres"}))
}

func TestAppModule_GraphIsComplete(t *testing.T) {
	err := fx.ValidateApp(
		AppModule,
		fx.Invoke(PrintBanner),
		fx.NopLogger,
	)
	require.NoError(t, err)
}

func TestModulesNotNil(t *testing.T) {
	tests := []struct {
		name   string
		module fx.Option
	}{
		{"AppModule", AppModule},
		{"ConfigModule", ConfigModule},
		{"LoggerModule", LoggerModule},
		{"ObservabilityModule", ObservabilityModule},
		{"DatabaseModule", DatabaseModule},
		{"DAOModule", DAOModule},
		{"PubSubModule", PubSubModule},
		{"SecurityModule", SecurityModule},
		{"PluginModule", PluginModule},
		{"ServiceModule", ServiceModule},
		{"MiddlewareModule", MiddlewareModule},
		{"ControllerModule", ControllerModule},
		{"WebSocketModule", WebSocketModule},
		{"HTTPServerModule", HTTPServerModule},
		{"GRPCServerModule", GRPCServerModule},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotNil(t, tt.module)
		})
	}
}

func TestProvideAdminLimiter(t *testing.T) {
	assert.Nil(t, provideAdminLimiter(&config.AdminConfig{}))

	limiter := provideAdminLimiter(&config.AdminConfig{RateLimit: 1, RatePeriod: time.Hour, RateBurst: 1})
	require.NotNil(t, limiter)
	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.False(t, limiter.Allow("10.0.0.1"))
}

func TestProvidePluginAuditDAO_Disabled(t *testing.T) {
	assert.Nil(t, providePluginAuditDAO(&config.AuditConfig{Store: "none"}, &SQLDatabase{}, &MongoDatabase{}, nil))
	assert.Nil(t, providePluginAuditDAO(&config.AuditConfig{Store: "database"}, &SQLDatabase{}, &MongoDatabase{}, nil))
	assert.Nil(t, provideMongoIDCounter(&MongoDatabase{}))
	assert.Nil(t, providePluginAuditService(nil, nil, zap.NewNop()))
}

func TestProvideSchemaSync_NoDatabase(t *testing.T) {
	assert.Nil(t, provideSchemaSync(&SQLDatabase{}, &config.DatabaseConfig{SyncSchema: true}, provideRegistry(), zap.NewNop()))
}

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)

	cfg := &config.Config{
		App:     config.AppConfig{Name: "test", Debug: true},
		Plugin:  config.PluginConfig{Enabled: true, Directory: t.TempDir(), ManifestFile: "manifest.json"},
		GraphQL: config.GraphQLConfig{Enabled: true, Path: "/graphql", PlaygroundPath: "/playground"},
		Events:  config.WebSocketConfig{Enabled: true, Path: "/plugins/events", RequireAuth: true},
		JWT:     config.JWTConfig{Secret: "secret", AccessTokenDuration: time.Hour},
		Metrics: observability.MetricsConfig{Enabled: false, PrometheusPath: "/metrics"},
	}

	mp, err := observability.NewMetricsProvider(&cfg.Metrics, logger)
	require.NoError(t, err)
	tp, err := observability.NewTracingProvider(&cfg.Tracing, logger)
	require.NoError(t, err)

	ml, err := provideModuleLoader(&cfg.Plugin, logger)
	require.NoError(t, err)

	reg := provideRegistry()
	builder := provideSchemaBuilder(reg, mp, logger)
	host := provideHost(&SQLDatabase{}, builder, pubsub.NewBus(logger), logger)
	assert.Nil(t, host.DB)

	m := providePluginManager(&cfg.Plugin, ml, host, reg, builder, nil, logger)
	dispatcher := provideDispatcher(m, builder, provideHookBreakers(&cfg.Hooks, logger), mp, tp, logger)
	require.NotNil(t, dispatcher)

	jwtProvider := provideJWTProvider(&cfg.JWT)
	authMiddleware := provideAuthMiddleware(jwtProvider)
	authenticator := provideAuthenticator(&cfg.Admin, providePasswordHasher(), jwtProvider)
	hub := websocket.NewHub(logger)

	engine := provideGinEngine(&cfg.App, &cfg.Server, &cfg.Metrics, &cfg.Tracing, mp, logger)
	registerHTTPRoutes(engine, Routes{
		Auth:          provideAuthController(authenticator, nil),
		Plugin:        providePluginController(m, provideHookBreakers(&cfg.Hooks, logger), authMiddleware, nil),
		Audit:         provideAuditController(nil, authMiddleware),
		GraphQL:       provideGraphQLHandler(builder, &cfg.GraphQL, authMiddleware, logger),
		WebSocket:     provideWebSocketHandler(&cfg.Events, &cfg.Server, hub, jwtProvider, logger),
		Metrics:       mp,
		GraphQLConfig: &cfg.GraphQL,
		EventsConfig:  &cfg.Events,
		MetricsConfig: &cfg.Metrics,
	})

	return engine
}

func TestRegisterHTTPRoutes(t *testing.T) {
	engine := newRouter(t)

	registered := make(map[string]bool)
	for _, r := range engine.Routes() {
		registered[r.Method+" "+r.Path] = true
	}

	for _, want := range []string{
		"GET /health",
		"POST /api/v1/auth/login",
		"GET /api/v1/plugins",
		"GET /api/v1/plugins/:id",
		"POST /api/v1/plugins/:id/activate",
		"GET /api/v1/plugins/events",
		"POST /graphql",
	} {
		assert.True(t, registered[want], "missing route %s", want)
	}
	assert.False(t, registered["GET /metrics"], "metrics disabled")
	assert.False(t, registered["GET /api/v1/audit/plugins"], "audit disabled")
}

func TestRegisterHTTPRoutes_Serves(t *testing.T) {
	engine := newRouter(t)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/plugins", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestInitializePluginSystem_Lifecycle(t *testing.T) {
	logger := zaptest.NewLogger(t)
	root := t.TempDir()
	testutil.WritePlugin(t, filepath.Join(root, "greeter"), testutil.Manifest("greeter", nil), map[string]string{"index.lua": "return {}\n"})

	cfg := &config.PluginConfig{Enabled: true, Directory: root, ManifestFile: "manifest.json", AutoActivate: true}
	mp, err := observability.NewMetricsProvider(&observability.MetricsConfig{}, logger)
	require.NoError(t, err)
	tp, err := observability.NewTracingProvider(&observability.TracingConfig{}, logger)
	require.NoError(t, err)
	ml, err := provideModuleLoader(cfg, logger)
	require.NoError(t, err)

	db := testutil.NewSQLiteDB(t)
	sqlDB := &SQLDatabase{DB: db}
	bus := pubsub.NewBus(logger)
	reg := provideRegistry()
	builder := provideSchemaBuilder(reg, mp, logger)
	schemaSync := provideSchemaSync(sqlDB, &config.DatabaseConfig{SyncSchema: true}, reg, logger)
	require.NotNil(t, schemaSync)
	m := providePluginManager(cfg, ml, provideHost(sqlDB, builder, bus, logger), reg, builder, schemaSync, logger)
	publisher := provideLifecyclePublisher(bus, &config.PubSubConfig{LifecycleTopic: "plugins.lifecycle"}, logger)

	var events []map[string]any
	unsubscribe, err := bus.Subscribe("plugins.lifecycle", func(_ context.Context, payload map[string]any) {
		events = append(events, payload)
	})
	require.NoError(t, err)
	defer unsubscribe()

	subscribeObservers(ObserverParams{
		Manager:    m,
		Metrics:    mp,
		Dispatcher: provideDispatcher(m, builder, provideHookBreakers(&config.HooksConfig{}, logger), mp, tp, logger),
		Publisher:  publisher,
	})

	lc := fxtest.NewLifecycle(t)
	w := provideWatcher(&config.PluginConfig{Directory: root}, m, logger)
	initializePluginSystem(lc, cfg, m, schemaSync, w, logger)

	lc.RequireStart()
	status, ok := m.GetStatus("greeter")
	require.True(t, ok)
	assert.Equal(t, api.StatusActive, status)
	assert.Eventually(t, func() bool { return len(events) >= 2 }, time.Second, 10*time.Millisecond)

	lc.RequireStop()
	status, _ = m.GetStatus("greeter")
	assert.NotEqual(t, api.StatusActive, status)
}
