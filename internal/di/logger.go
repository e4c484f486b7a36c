package di

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/jrjohn/arcana-plugin-runtime/internal/config"
	"github.com/jrjohn/arcana-plugin-runtime/pkg/logger"
)

// LoggerModule provides logging dependencies
var LoggerModule = fx.Module("logger",
	fx.Provide(provideLogger),
)

func provideLogger(lc fx.Lifecycle, cfg *config.LogConfig) (*zap.Logger, error) {
	log, err := logger.New(logger.Config{
		Level:       cfg.Level,
		Development: cfg.Development,
		Encoding:    cfg.Encoding,
	})
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(func() {
		_ = log.Sync()
	}))
	return log, nil
}
