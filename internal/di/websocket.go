package di

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/jrjohn/arcana-plugin-runtime/internal/config"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/api"
	"github.com/jrjohn/arcana-plugin-runtime/internal/pubsub"
	"github.com/jrjohn/arcana-plugin-runtime/internal/security"
	"github.com/jrjohn/arcana-plugin-runtime/internal/websocket"
)

// WebSocketModule provides the lifecycle event stream
var WebSocketModule = fx.Module("websocket",
	fx.Provide(
		provideHub,
		provideWebSocketHandler,
	),
	fx.Invoke(startHub),
)

func provideHub(logger *zap.Logger) *websocket.Hub {
	return websocket.NewHub(logger)
}

func provideWebSocketHandler(
	cfg *config.WebSocketConfig,
	serverCfg *config.ServerConfig,
	hub *websocket.Hub,
	jwtProvider *security.JWTProvider,
	logger *zap.Logger,
) *websocket.Handler {
	return websocket.NewHandler(cfg, serverCfg.AllowedOrigins, hub, jwtProvider, logger.Named("websocket"))
}

// startHub runs the hub and feeds it the lifecycle topic for as long as
// the application runs
func startHub(
	lc fx.Lifecycle,
	cfg *config.WebSocketConfig,
	hub *websocket.Hub,
	handler *websocket.Handler,
	bus api.PubSub,
	publisher *pubsub.LifecyclePublisher,
	logger *zap.Logger,
) {
	if !cfg.Enabled {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	var unsubscribe func()

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go hub.Run(ctx)

			unsub, err := hub.Forward(bus, publisher.Topic())
			if err != nil {
				cancel()
				return err
			}
			unsubscribe = unsub
			handler.StartHeartbeat(ctx)

			logger.Info("Lifecycle event stream started",
				zap.String("path", cfg.Path),
				zap.String("topic", publisher.Topic()),
			)
			return nil
		},
		OnStop: func(context.Context) error {
			if unsubscribe != nil {
				unsubscribe()
			}
			cancel()
			hub.Stop()
			return nil
		},
	})
}
