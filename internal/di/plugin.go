package di

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/jrjohn/arcana-plugin-runtime/internal/config"
	"github.com/jrjohn/arcana-plugin-runtime/internal/controller/graphql"
	"github.com/jrjohn/arcana-plugin-runtime/internal/domain/service"
	"github.com/jrjohn/arcana-plugin-runtime/internal/observability"
	"github.com/jrjohn/arcana-plugin-runtime/internal/persistence"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/api"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/hooks"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/loader"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/manager"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/pcontext"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/registry"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/watcher"
	"github.com/jrjohn/arcana-plugin-runtime/internal/pubsub"
	"github.com/jrjohn/arcana-plugin-runtime/internal/resilience"
)

// PluginModule provides the plugin runtime: registry, loader, manager,
// hook dispatcher, schema builder and watcher
var PluginModule = fx.Module("plugin",
	fx.Provide(
		provideRegistry,
		provideHookBreakers,
		provideModuleLoader,
		provideSchemaBuilder,
		provideSchemaSync,
		provideHost,
		providePluginManager,
		provideDispatcher,
		provideWatcher,
	),
	fx.Invoke(subscribeObservers),
	fx.Invoke(initializePluginSystem),
)

func provideRegistry() *registry.Registry {
	return registry.New()
}

func provideHookBreakers(cfg *config.HooksConfig, logger *zap.Logger) *resilience.CircuitBreakerRegistry {
	return resilience.NewCircuitBreakerRegistry(cfg.Breaker(), logger.Named("hook_breakers"))
}

func provideModuleLoader(cfg *config.PluginConfig, logger *zap.Logger) (loader.ModuleLoader, error) {
	lua, err := loader.NewLuaLoader(logger,
		loader.WithCacheSize(cfg.Lua.CacheSize),
		loader.WithCallTimeout(cfg.Lua.CallTimeout),
	)
	if err != nil {
		return nil, err
	}
	return loader.NewDefaultLoader(lua), nil
}

func provideSchemaBuilder(reg *registry.Registry, mp *observability.MetricsProvider, logger *zap.Logger) *graphql.SchemaBuilder {
	return graphql.NewSchemaBuilder(reg, logger, graphql.WithMetrics(mp), graphql.WithAuthRequired())
}

// provideSchemaSync returns nil when there is no database or syncing is off
func provideSchemaSync(sqlDB *SQLDatabase, cfg *config.DatabaseConfig, reg *registry.Registry, logger *zap.Logger) *persistence.SchemaSync {
	if sqlDB.DB == nil || !cfg.SyncSchema {
		return nil
	}
	return persistence.NewSchemaSync(sqlDB.DB, reg, logger)
}

func provideHost(sqlDB *SQLDatabase, builder *graphql.SchemaBuilder, bus api.PubSub, logger *zap.Logger) pcontext.Host {
	host := pcontext.Host{
		GraphQL: builder,
		PubSub:  bus,
		Logger:  logger,
	}
	if sqlDB.DB != nil {
		host.DB = persistence.NewDatabase(sqlDB.DB)
	}
	return host
}

func providePluginManager(
	cfg *config.PluginConfig,
	ml loader.ModuleLoader,
	host pcontext.Host,
	reg *registry.Registry,
	builder *graphql.SchemaBuilder,
	schemaSync *persistence.SchemaSync,
	logger *zap.Logger,
) *manager.Manager {
	opts := []manager.Option{manager.WithRegistry(reg)}
	if schemaSync != nil {
		opts = append(opts, manager.WithProvisioner(schemaSync))
	}
	m := manager.New(manager.Config{
		Root:            cfg.Directory,
		ManifestFile:    cfg.ManifestFile,
		LoadConcurrency: cfg.LoadConcurrency,
		AutoActivate:    cfg.AutoActivate,
	}, ml, host, logger, opts...)
	builder.Attach(m)
	return m
}

// provideDispatcher also hands the dispatcher to the schema builder, which
// is built before the manager the dispatcher records errors on
func provideDispatcher(
	m *manager.Manager,
	builder *graphql.SchemaBuilder,
	breakers *resilience.CircuitBreakerRegistry,
	mp *observability.MetricsProvider,
	tp *observability.TracingProvider,
	logger *zap.Logger,
) *hooks.Dispatcher {
	d := hooks.NewDispatcher(m.Registry(), m, logger,
		hooks.WithBreakers(breakers),
		hooks.WithMetrics(mp),
		hooks.WithTracer(tp.Tracer()),
	)
	builder.UseHooks(d)
	return d
}

func provideWatcher(cfg *config.PluginConfig, m *manager.Manager, logger *zap.Logger) *watcher.Watcher {
	return watcher.New(watcher.Config{
		Root:           cfg.Directory,
		Watch:          cfg.Watch,
		Debounce:       cfg.WatchDebounce,
		RescanSchedule: cfg.RescanSchedule,
		AutoActivate:   cfg.AutoActivate,
	}, m, logger)
}

// ObserverParams collects every manager observer; optional ones may be nil
type ObserverParams struct {
	fx.In

	Manager    *manager.Manager
	Metrics    *observability.MetricsProvider
	Dispatcher *hooks.Dispatcher
	Publisher  *pubsub.LifecyclePublisher
	Audit      service.PluginAuditService
}

// subscribeObservers registers observers in the order they must see events:
// hooks run before the outside world hears
func subscribeObservers(p ObserverParams) {
	p.Manager.Subscribe(manager.NewMetricsObserver(p.Metrics))
	p.Manager.Subscribe(p.Dispatcher)
	p.Manager.Subscribe(hooks.NewLifecycleEvents(p.Dispatcher))
	p.Manager.Subscribe(p.Publisher)
	if p.Audit != nil {
		p.Manager.Subscribe(p.Audit)
	}
}

func initializePluginSystem(
	lc fx.Lifecycle,
	cfg *config.PluginConfig,
	m *manager.Manager,
	schemaSync *persistence.SchemaSync,
	w *watcher.Watcher,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if schemaSync != nil {
				if err := schemaSync.Migrate(ctx); err != nil {
					return err
				}
			}
			if !cfg.Enabled {
				logger.Info("Plugin system disabled")
				return nil
			}

			logger.Info("Discovering plugins", zap.String("root", cfg.Directory))
			if err := m.Discover(ctx); err != nil {
				return err
			}
			if cfg.AutoActivate {
				if err := m.ActivateAll(ctx); err != nil {
					return err
				}
			}
			logger.Info("Plugin system initialized",
				zap.Int("plugins", len(m.Plugins())),
				zap.Int("errors", len(m.GetErrors())),
			)

			if err := w.Start(ctx); err != nil {
				logger.Warn("Plugin watcher not started", zap.Error(err))
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := w.Stop(ctx); err != nil {
				logger.Warn("Failed to stop plugin watcher", zap.Error(err))
			}
			logger.Info("Shutting down plugin manager")
			return m.Shutdown(ctx)
		},
	})
}
