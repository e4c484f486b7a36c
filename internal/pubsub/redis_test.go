package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jrjohn/arcana-plugin-runtime/internal/resilience"
	"github.com/jrjohn/arcana-plugin-runtime/internal/testutil"
)

func newRedisBus(t *testing.T) (*RedisBus, *miniredis.Miniredis) {
	t.Helper()
	client, mr := testutil.NewMiniRedis(t)

	bus := NewRedisBus(client, RedisBusConfig{
		Prefix: "test:",
		Retry: &resilience.RetryConfig{
			MaxAttempts:     2,
			InitialInterval: time.Millisecond,
			Multiplier:      1,
		},
	}, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = bus.Close() })
	return bus, mr
}

func TestRedisBus_RoundTrip(t *testing.T) {
	bus, mr := newRedisBus(t)
	c := &collector{}

	_, err := bus.Subscribe("plugins.lifecycle", c.handle)
	require.NoError(t, err)
	assert.Equal(t, []string{"test:plugins.lifecycle"}, mr.PubSubChannels(""))

	require.NoError(t, bus.Publish(context.Background(), "plugins.lifecycle", map[string]any{
		"pluginId": "greeter",
		"count":    2,
	}))

	require.Eventually(t, func() bool { return len(c.received()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, map[string]any{"pluginId": "greeter", "count": float64(2)}, c.received()[0])
}

func TestRedisBus_SharesOneChannelPerTopic(t *testing.T) {
	bus, mr := newRedisBus(t)
	a, b := &collector{}, &collector{}

	unsubA, err := bus.Subscribe("t", a.handle)
	require.NoError(t, err)
	unsubB, err := bus.Subscribe("t", b.handle)
	require.NoError(t, err)
	assert.Len(t, mr.PubSubChannels(""), 1)

	unsubA()
	require.NoError(t, bus.Publish(context.Background(), "t", map[string]any{"n": 1}))
	require.Eventually(t, func() bool { return len(b.received()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, a.received())

	unsubB()
	require.Eventually(t, func() bool { return len(mr.PubSubChannels("")) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestRedisBus_DropsUndecodableMessages(t *testing.T) {
	bus, mr := newRedisBus(t)
	c := &collector{}
	_, err := bus.Subscribe("t", c.handle)
	require.NoError(t, err)

	mr.Publish("test:t", "not json")
	require.NoError(t, bus.Publish(context.Background(), "t", map[string]any{"ok": true}))

	require.Eventually(t, func() bool { return len(c.received()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, true, c.received()[0]["ok"])
}

func TestRedisBus_PublishFailsWhenServerIsGone(t *testing.T) {
	bus, mr := newRedisBus(t)
	mr.Close()

	err := bus.Publish(context.Background(), "t", map[string]any{})
	assert.Error(t, err)
}

func TestRedisBus_Validation(t *testing.T) {
	bus, _ := newRedisBus(t)

	assert.ErrorIs(t, bus.Publish(context.Background(), "", nil), ErrEmptyTopic)
	assert.Error(t, bus.Publish(context.Background(), "t", map[string]any{"ch": make(chan int)}))
}

func TestRedisBus_Close(t *testing.T) {
	bus, mr := newRedisBus(t)
	_, err := bus.Subscribe("t", func(context.Context, map[string]any) {})
	require.NoError(t, err)

	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())
	require.Eventually(t, func() bool { return len(mr.PubSubChannels("")) == 0 }, 2*time.Second, 10*time.Millisecond)

	_, err = bus.Subscribe("t", func(context.Context, map[string]any) {})
	assert.ErrorIs(t, err, ErrClosed)
}
