package pubsub

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/api"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/manager"
)

// DefaultLifecycleTopic carries plugin status changes and errors
const DefaultLifecycleTopic = "plugins.lifecycle"

// Lifecycle event types
const (
	EventStatus = "status"
	EventError  = "error"
)

var _ manager.Observer = (*LifecyclePublisher)(nil)

// LifecyclePublisher forwards manager events to a bus
type LifecyclePublisher struct {
	bus     api.PubSub
	topic   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewLifecyclePublisher publishes on topic, or DefaultLifecycleTopic when empty
func NewLifecyclePublisher(bus api.PubSub, topic string, logger *zap.Logger) *LifecyclePublisher {
	if topic == "" {
		topic = DefaultLifecycleTopic
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LifecyclePublisher{
		bus:     bus,
		topic:   topic,
		timeout: 5 * time.Second,
		logger:  logger.Named("lifecycle_publisher"),
	}
}

// Topic returns the topic events are published on
func (p *LifecyclePublisher) Topic() string {
	return p.topic
}

// OnStatusChange publishes a status event
func (p *LifecyclePublisher) OnStatusChange(ctx context.Context, e manager.StatusEvent) {
	p.publish(ctx, map[string]any{
		"type":     EventStatus,
		"pluginId": e.PluginID,
		"from":     string(e.From),
		"to":       string(e.To),
		"at":       e.At.UTC().Format(time.RFC3339Nano),
	})
}

// OnError publishes an error event
func (p *LifecyclePublisher) OnError(ctx context.Context, pe api.PluginError) {
	p.publish(ctx, map[string]any{
		"type":     EventError,
		"id":       pe.ID,
		"pluginId": pe.PluginID,
		"phase":    string(pe.Phase),
		"kind":     string(pe.Kind),
		"message":  pe.Message,
		"at":       pe.Timestamp.UTC().Format(time.RFC3339Nano),
	})
}

func (p *LifecyclePublisher) publish(ctx context.Context, payload map[string]any) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	if err := p.bus.Publish(ctx, p.topic, payload); err != nil {
		p.logger.Warn("failed to publish lifecycle event",
			zap.String("topic", p.topic),
			zap.Any("plugin_id", payload["pluginId"]),
			zap.Error(err),
		)
	}
}
