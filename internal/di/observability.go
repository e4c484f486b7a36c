package di

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/jrjohn/arcana-plugin-runtime/internal/observability"
)

// ObservabilityModule provides metrics and tracing
var ObservabilityModule = fx.Module("observability",
	fx.Provide(
		provideMetricsProvider,
		provideTracingProvider,
	),
)

func provideMetricsProvider(lc fx.Lifecycle, cfg *observability.MetricsConfig, logger *zap.Logger) (*observability.MetricsProvider, error) {
	mp, err := observability.NewMetricsProvider(cfg, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: mp.Shutdown})
	return mp, nil
}

func provideTracingProvider(lc fx.Lifecycle, cfg *observability.TracingConfig, logger *zap.Logger) (*observability.TracingProvider, error) {
	tp, err := observability.NewTracingProvider(cfg, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: tp.Shutdown})
	return tp, nil
}
