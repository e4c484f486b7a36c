package di

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/jrjohn/arcana-plugin-runtime/internal/config"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/api"
	"github.com/jrjohn/arcana-plugin-runtime/internal/pubsub"
)

// PubSubModule provides the bus handed to plugins and the lifecycle publisher
var PubSubModule = fx.Module("pubsub",
	fx.Provide(
		provideBus,
		provideLifecyclePublisher,
	),
)

func provideBus(lc fx.Lifecycle, cfg *config.PubSubConfig, logger *zap.Logger) (api.PubSub, error) {
	if config.PubSubDriver(cfg.Driver) != config.PubSubRedis {
		bus := pubsub.NewBus(logger)
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error { return bus.Close() },
		})
		return bus, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	bus := pubsub.NewRedisBus(client, pubsub.RedisBusConfig{Prefix: cfg.Redis.Channel}, logger)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("failed to connect to Redis: %w", err)
			}
			logger.Info("Connected to Redis pub/sub", zap.String("addr", cfg.Redis.Addr()))
			return nil
		},
		OnStop: func(context.Context) error {
			if err := bus.Close(); err != nil {
				logger.Warn("Failed to close Redis bus", zap.Error(err))
			}
			return client.Close()
		},
	})
	return bus, nil
}

func provideLifecyclePublisher(bus api.PubSub, cfg *config.PubSubConfig, logger *zap.Logger) *pubsub.LifecyclePublisher {
	return pubsub.NewLifecyclePublisher(bus, cfg.LifecycleTopic, logger)
}
