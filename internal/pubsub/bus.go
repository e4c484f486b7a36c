// Package pubsub provides the publish/subscribe buses handed to plugins.
package pubsub

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/api"
	"github.com/jrjohn/arcana-plugin-runtime/internal/utils"
)

var (
	// ErrEmptyTopic is returned for a blank topic
	ErrEmptyTopic = errors.New("topic must not be empty")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("bus is closed")
)

var _ api.PubSub = (*Bus)(nil)

type handlerEntry struct {
	id      uint64
	handler func(ctx context.Context, payload map[string]any)
}

// Bus is an in-memory bus. Publish is synchronous; every handler gets
// its own copy of the payload and a panicking handler does not affect
// the others.
type Bus struct {
	mutex    sync.RWMutex
	handlers map[string][]handlerEntry
	nextID   uint64
	closed   bool
	logger   *zap.Logger
}

// NewBus creates a new in-memory bus
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		handlers: make(map[string][]handlerEntry),
		logger:   logger.Named("pubsub"),
	}
}

// Publish delivers payload to every subscriber of topic
func (b *Bus) Publish(ctx context.Context, topic string, payload map[string]any) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	b.mutex.RLock()
	if b.closed {
		b.mutex.RUnlock()
		return ErrClosed
	}
	entries := append([]handlerEntry(nil), b.handlers[topic]...)
	b.mutex.RUnlock()

	b.deliver(ctx, topic, entries, payload)
	return nil
}

func (b *Bus) deliver(ctx context.Context, topic string, entries []handlerEntry, payload map[string]any) {
	for _, e := range entries {
		if ctx.Err() != nil {
			return
		}
		safeCall(ctx, b.logger, topic, e.handler, utils.CloneMap(payload))
	}
}

// Subscribe registers handler for topic and returns its unsubscribe function
func (b *Bus) Subscribe(topic string, handler func(ctx context.Context, payload map[string]any)) (func(), error) {
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	if handler == nil {
		return nil, errors.New("handler must not be nil")
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	id := b.nextID
	b.nextID++
	b.handlers[topic] = append(b.handlers[topic], handlerEntry{id: id, handler: handler})

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(topic, id) })
	}, nil
}

func (b *Bus) remove(topic string, id uint64) int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	entries := b.handlers[topic]
	for i, e := range entries {
		if e.id == id {
			entries = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(entries) == 0 {
		delete(b.handlers, topic)
	} else {
		b.handlers[topic] = entries
	}
	return len(entries)
}

// Subscribers returns the number of handlers subscribed to topic
func (b *Bus) Subscribers(topic string) int {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return len(b.handlers[topic])
}

// Close drops every subscription; later calls fail with ErrClosed
func (b *Bus) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.closed = true
	b.handlers = make(map[string][]handlerEntry)
	return nil
}

func safeCall(ctx context.Context, logger *zap.Logger, topic string, handler func(context.Context, map[string]any), payload map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("subscriber panicked",
				zap.String("topic", topic),
				zap.Any("panic", r),
			)
		}
	}()
	handler(ctx, payload)
}
