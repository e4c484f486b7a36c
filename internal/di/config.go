package di

import (
	"go.uber.org/fx"

	"github.com/jrjohn/arcana-plugin-runtime/internal/config"
	"github.com/jrjohn/arcana-plugin-runtime/internal/observability"
)

// ConfigModule provides configuration dependencies
var ConfigModule = fx.Module("config",
	fx.Provide(
		config.Load,
		provideAppConfig,
		provideServerConfig,
		provideGRPCConfig,
		provideLogConfig,
		providePluginConfig,
		provideHooksConfig,
		provideGraphQLConfig,
		provideEventsConfig,
		provideDatabaseConfig,
		providePubSubConfig,
		provideAuditConfig,
		provideJWTConfig,
		provideAdminConfig,
		provideMetricsConfig,
		provideTracingConfig,
	),
)

func provideAppConfig(cfg *config.Config) *config.AppConfig {
	return &cfg.App
}

func provideServerConfig(cfg *config.Config) *config.ServerConfig {
	return &cfg.Server
}

func provideGRPCConfig(cfg *config.Config) *config.GRPCConfig {
	return &cfg.GRPC
}

func provideLogConfig(cfg *config.Config) *config.LogConfig {
	return &cfg.Log
}

func providePluginConfig(cfg *config.Config) *config.PluginConfig {
	return &cfg.Plugin
}

func provideHooksConfig(cfg *config.Config) *config.HooksConfig {
	return &cfg.Hooks
}

func provideGraphQLConfig(cfg *config.Config) *config.GraphQLConfig {
	return &cfg.GraphQL
}

func provideEventsConfig(cfg *config.Config) *config.WebSocketConfig {
	return &cfg.Events
}

func provideDatabaseConfig(cfg *config.Config) *config.DatabaseConfig {
	return &cfg.Database
}

func providePubSubConfig(cfg *config.Config) *config.PubSubConfig {
	return &cfg.PubSub
}

func provideAuditConfig(cfg *config.Config) *config.AuditConfig {
	return &cfg.Audit
}

func provideJWTConfig(cfg *config.Config) *config.JWTConfig {
	return &cfg.JWT
}

func provideAdminConfig(cfg *config.Config) *config.AdminConfig {
	return &cfg.Admin
}

func provideMetricsConfig(cfg *config.Config) *observability.MetricsConfig {
	return &cfg.Metrics
}

func provideTracingConfig(cfg *config.Config) *observability.TracingConfig {
	return &cfg.Tracing
}
