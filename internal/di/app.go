package di

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/jrjohn/arcana-plugin-runtime/internal/config"
)

// AppModule aggregates all application modules
var AppModule = fx.Options(
	ConfigModule,
	LoggerModule,
	ObservabilityModule,
	DatabaseModule,
	DAOModule,
	PubSubModule,
	SecurityModule,
	PluginModule,
	ServiceModule,
	MiddlewareModule,
	ControllerModule,
	WebSocketModule,
	HTTPServerModule,
	GRPCServerModule,
)

// PrintBanner prints the application startup banner
func PrintBanner(cfg *config.Config, logger *zap.Logger) {
	logger.Info("===========================================")
	logger.Info("      Arcana Plugin Runtime               ")
	logger.Info("===========================================")
	logger.Info("Application Info",
		zap.String("name", cfg.App.Name),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)
	logger.Info("Plugin Config",
		zap.Bool("enabled", cfg.Plugin.Enabled),
		zap.String("directory", cfg.Plugin.Directory),
		zap.Bool("auto_activate", cfg.Plugin.AutoActivate),
		zap.Bool("watch", cfg.Plugin.Watch),
	)
	logger.Info("Backends",
		zap.String("database", databaseLabel(&cfg.Database)),
		zap.String("pubsub", cfg.PubSub.Driver),
		zap.String("audit", cfg.Audit.Store),
	)
	logger.Info("===========================================")
}

func databaseLabel(cfg *config.DatabaseConfig) string {
	if !cfg.Enabled {
		return "disabled"
	}
	return cfg.Driver
}
