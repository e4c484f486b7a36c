package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/api"
	"github.com/jrjohn/arcana-plugin-runtime/internal/resilience"
)

var _ api.PubSub = (*RedisBus)(nil)

// RedisBusConfig holds RedisBus settings
type RedisBusConfig struct {
	// Prefix is prepended to every topic to form the Redis channel
	Prefix string
	Retry  *resilience.RetryConfig
}

// RedisBus publishes through Redis channels so every host process sharing
// the Redis instance sees the same events. Payloads travel as JSON, so
// numbers arrive as float64.
type RedisBus struct {
	client *redis.Client
	cfg    RedisBusConfig
	logger *zap.Logger
	local  *Bus

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mutex  sync.Mutex
	subs   map[string]*redis.PubSub
	closed bool
}

// NewRedisBus creates a bus on top of client. The caller owns client.
func NewRedisBus(client *redis.Client, cfg RedisBusConfig, logger *zap.Logger) *RedisBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Retry == nil {
		cfg.Retry = resilience.DefaultRetryConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisBus{
		client: client,
		cfg:    cfg,
		logger: logger.Named("redis_pubsub"),
		local:  NewBus(logger),
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[string]*redis.PubSub),
	}
}

func (r *RedisBus) channel(topic string) string {
	return r.cfg.Prefix + topic
}

// Publish sends payload to the topic's channel, retrying transient failures
func (r *RedisBus) Publish(ctx context.Context, topic string, payload map[string]any) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload for %s: %w", topic, err)
	}
	err = resilience.Retry(ctx, r.cfg.Retry, func(ctx context.Context) error {
		return r.client.Publish(ctx, r.channel(topic), data).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers handler for topic. The first handler for a topic
// opens its Redis subscription; the last unsubscribe closes it.
func (r *RedisBus) Subscribe(topic string, handler func(ctx context.Context, payload map[string]any)) (func(), error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	unsubscribe, err := r.local.Subscribe(topic, handler)
	if err != nil {
		return nil, err
	}

	if _, ok := r.subs[topic]; !ok {
		ps := r.client.Subscribe(r.ctx, r.channel(topic))
		if _, err := ps.Receive(r.ctx); err != nil {
			_ = ps.Close()
			unsubscribe()
			return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
		r.subs[topic] = ps
		r.wg.Add(1)
		go r.listen(topic, ps)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			r.release(topic)
		})
	}, nil
}

func (r *RedisBus) release(topic string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.local.Subscribers(topic) > 0 {
		return
	}
	if ps, ok := r.subs[topic]; ok {
		delete(r.subs, topic)
		if err := ps.Close(); err != nil {
			r.logger.Warn("failed to close subscription", zap.String("topic", topic), zap.Error(err))
		}
	}
}

func (r *RedisBus) listen(topic string, ps *redis.PubSub) {
	defer r.wg.Done()
	for msg := range ps.Channel() {
		var payload map[string]any
		if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
			r.logger.Warn("dropping undecodable message",
				zap.String("topic", topic),
				zap.Error(err),
			)
			continue
		}
		if err := r.local.Publish(r.ctx, topic, payload); err != nil {
			return
		}
	}
}

// Close ends every subscription and waits for the listeners to exit
func (r *RedisBus) Close() error {
	r.mutex.Lock()
	if r.closed {
		r.mutex.Unlock()
		return nil
	}
	r.closed = true
	r.cancel()
	var firstErr error
	for topic, ps := range r.subs {
		if err := ps.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.subs, topic)
	}
	r.mutex.Unlock()

	r.wg.Wait()
	_ = r.local.Close()
	return firstErr
}
