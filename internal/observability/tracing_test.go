package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"
)

func TestNewTracingProvider_Disabled(t *testing.T) {
	tp, err := NewTracingProvider(&TracingConfig{ServiceName: "runtime"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.NotNil(t, tp.Tracer())
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestNewTracingProvider_Stdout(t *testing.T) {
	tp, err := NewTracingProvider(&TracingConfig{
		Enabled:      true,
		ServiceName:  "runtime",
		ExporterType: "stdout",
		SamplingRate: 0.5,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, tp.sdk)
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestNewSampler(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), newSampler(1).Description())
	assert.Equal(t, sdktrace.NeverSample().Description(), newSampler(0).Description())
	assert.Contains(t, newSampler(0.25).Description(), "TraceIDRatioBased{0.25}")
}

func newRecorder(t *testing.T) (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return rec, tp
}

func attrs(kvs []attribute.KeyValue) map[attribute.Key]string {
	out := make(map[attribute.Key]string, len(kvs))
	for _, kv := range kvs {
		out[kv.Key] = kv.Value.Emit()
	}
	return out
}

func TestHookSpan(t *testing.T) {
	tests := []struct {
		name    string
		outcome string
		err     error
		code    codes.Code
		events  int
	}{
		{"ok", OutcomeOK, nil, codes.Ok, 0},
		{"error", OutcomeError, errors.New("boom"), codes.Error, 1},
		{"rejected", OutcomeRejected, nil, codes.Unset, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, tp := newRecorder(t)

			_, span := StartHookSpan(context.Background(), tp.Tracer("test"), HookSpan{
				PluginID: "greeter",
				Event:    "user.create",
				Type:     "pre",
				Handler:  "validate",
			})
			EndHookSpan(span, tt.outcome, tt.err)

			ended := rec.Ended()
			require.Len(t, ended, 1)
			s := ended[0]
			assert.Equal(t, "hook pre user.create", s.Name())
			assert.Equal(t, tt.code, s.Status().Code)
			assert.Len(t, s.Events(), tt.events)

			got := attrs(s.Attributes())
			assert.Equal(t, "greeter", got[AttrPluginID])
			assert.Equal(t, "validate", got[AttrHookHandler])
			assert.Equal(t, tt.outcome, got[AttrOutcome])
		})
	}
}
