// Package hooks runs plugin pre/post handlers around host events.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/jrjohn/arcana-plugin-runtime/internal/observability"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/api"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/manager"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/registry"
	"github.com/jrjohn/arcana-plugin-runtime/internal/resilience"
	"github.com/jrjohn/arcana-plugin-runtime/internal/utils"
)

// ErrorRecorder stores handler failures as plugin errors
type ErrorRecorder interface {
	RecordError(ctx context.Context, pluginID string, phase api.Phase, kind api.ErrorKind, err error) api.PluginError
}

// Result is the outcome of running one phase (or both) for an event
type Result struct {
	// Payload is the payload after every handler ran
	Payload  map[string]any
	Executed int
	Skipped  int
	Failed   []api.PluginError
}

func (r *Result) merge(other Result) {
	r.Payload = other.Payload
	r.Executed += other.Executed
	r.Skipped += other.Skipped
	r.Failed = append(r.Failed, other.Failed...)
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithBreakers isolates repeatedly failing handlers
func WithBreakers(breakers *resilience.CircuitBreakerRegistry) Option {
	return func(d *Dispatcher) {
		d.breakers = breakers
	}
}

// WithMetrics records per-handler call counts and durations
func WithMetrics(mp *observability.MetricsProvider) Option {
	return func(d *Dispatcher) {
		d.metrics = mp
	}
}

// WithTracer sets the tracer used for handler spans
func WithTracer(tracer trace.Tracer) Option {
	return func(d *Dispatcher) {
		d.tracer = tracer
	}
}

// Dispatcher invokes the handlers the registry holds for an event,
// sequentially and in registration order. A failing handler never stops
// the handlers after it.
type Dispatcher struct {
	registry registry.Reader
	recorder ErrorRecorder
	breakers *resilience.CircuitBreakerRegistry
	metrics  *observability.MetricsProvider
	tracer   trace.Tracer
	logger   *zap.Logger

	// rejected holds the breaker keys of handlers currently being skipped
	rejected sync.Map
}

// NewDispatcher creates a dispatcher reading handlers from reg
func NewDispatcher(reg registry.Reader, recorder ErrorRecorder, logger *zap.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		registry: reg,
		recorder: recorder,
		logger:   logger.Named("hooks"),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.tracer == nil {
		d.tracer = otel.Tracer("arcana-plugin-runtime/hooks")
	}
	return d
}

// Pre runs the pre handlers for event
func (d *Dispatcher) Pre(ctx context.Context, event string, payload map[string]any) Result {
	return d.run(ctx, api.HookPre, event, d.registry.PreHooks(event), payload)
}

// Post runs the post handlers for event
func (d *Dispatcher) Post(ctx context.Context, event string, payload map[string]any) Result {
	return d.run(ctx, api.HookPost, event, d.registry.PostHooks(event), payload)
}

// Dispatch runs the pre handlers, then the post handlers with the payload
// the pre handlers produced
func (d *Dispatcher) Dispatch(ctx context.Context, event string, payload map[string]any) Result {
	res := d.Pre(ctx, event, payload)
	res.merge(d.Post(ctx, event, res.Payload))
	return res
}

func (d *Dispatcher) run(ctx context.Context, hookType api.HookType, event string, handlers []registry.HookEntry, payload map[string]any) Result {
	res := Result{Payload: utils.CloneMap(payload)}
	if res.Payload == nil {
		res.Payload = map[string]any{}
	}

	for _, h := range handlers {
		if ctx.Err() != nil {
			res.Skipped++
			continue
		}

		out, err := d.invoke(ctx, hookType, event, h, res.Payload)
		switch {
		case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, resilience.ErrTooManyRequests):
			res.Skipped++
			d.reject(hookType, event, h)
		case err != nil:
			res.Executed++
			d.rejected.Delete(BreakerKey(h.PluginID, hookType, event, h.HandlerName))
			res.Failed = append(res.Failed, d.fail(ctx, hookType, event, h, err))
		default:
			res.Executed++
			d.rejected.Delete(BreakerKey(h.PluginID, hookType, event, h.HandlerName))
			if next, ok := out.(map[string]any); ok {
				res.Payload = next
			}
		}
	}
	return res
}

func (d *Dispatcher) invoke(ctx context.Context, hookType api.HookType, event string, h registry.HookEntry, payload map[string]any) (out any, err error) {
	ctx, span := observability.StartHookSpan(ctx, d.tracer, observability.HookSpan{
		PluginID: h.PluginID,
		Event:    event,
		Type:     string(hookType),
		Handler:  h.HandlerName,
	})

	start := time.Now()
	call := func(ctx context.Context) error {
		var callErr error
		out, callErr = guarded(ctx, h.Handler, utils.CloneMap(payload), event)
		return callErr
	}

	if d.breakers != nil {
		err = d.breakers.Get(BreakerKey(h.PluginID, hookType, event, h.HandlerName)).Execute(ctx, call)
	} else {
		err = call(ctx)
	}

	outcome := observability.OutcomeOK
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, resilience.ErrTooManyRequests):
		outcome = observability.OutcomeRejected
	case err != nil:
		outcome = observability.OutcomeError
	}
	observability.EndHookSpan(span, outcome, err)
	d.metrics.RecordHook(ctx, h.PluginID, event, string(hookType), outcome, time.Since(start))

	return out, err
}

// reject logs a skipped handler at Warn the first time its circuit turns
// it away and at Debug until it runs again
func (d *Dispatcher) reject(hookType api.HookType, event string, h registry.HookEntry) {
	fields := []zap.Field{
		zap.String("plugin_id", h.PluginID),
		zap.String("event", event),
		zap.String("type", string(hookType)),
		zap.String("handler", h.HandlerName),
	}
	if _, seen := d.rejected.LoadOrStore(BreakerKey(h.PluginID, hookType, event, h.HandlerName), struct{}{}); seen {
		d.logger.Debug("hook handler skipped by open circuit", fields...)
		return
	}
	d.logger.Warn("hook handler skipped by open circuit", fields...)
}

func (d *Dispatcher) fail(ctx context.Context, hookType api.HookType, event string, h registry.HookEntry, err error) api.PluginError {
	wrapped := fmt.Errorf("%s hook %s for %s: %w", hookType, h.HandlerName, event, err)

	d.logger.Warn("hook handler failed",
		zap.String("plugin_id", h.PluginID),
		zap.String("event", event),
		zap.String("type", string(hookType)),
		zap.String("handler", h.HandlerName),
		zap.Error(err),
	)

	if d.recorder == nil {
		return api.NewPluginError(h.PluginID, api.PhaseDispatch, api.KindHook, wrapped)
	}
	return d.recorder.RecordError(ctx, h.PluginID, api.PhaseDispatch, api.KindHook, wrapped)
}

// guarded invokes a handler, converting a panic into an error
func guarded(ctx context.Context, fn api.Func, payload map[string]any, event string) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	if fn == nil {
		return nil, errors.New("handler is not bound")
	}
	return fn(ctx, payload, event)
}

// BreakerKey names the circuit breaker of one handler. Keys of one plugin
// share the "<pluginID>/" prefix.
func BreakerKey(pluginID string, hookType api.HookType, event, handler string) string {
	return pluginID + "/" + string(hookType) + "/" + event + "/" + handler
}

// OnStatusChange drops a plugin's breakers when it stops being active so
// a re-activated plugin starts with closed circuits
func (d *Dispatcher) OnStatusChange(_ context.Context, event manager.StatusEvent) {
	if d.breakers == nil || event.From != api.StatusActive {
		return
	}
	d.rejected.Range(func(key, _ any) bool {
		if strings.HasPrefix(key.(string), event.PluginID+"/") {
			d.rejected.Delete(key)
		}
		return true
	})
	if n := d.breakers.RemovePrefix(event.PluginID + "/"); n > 0 {
		d.logger.Debug("hook breakers released",
			zap.String("plugin_id", event.PluginID),
			zap.Int("count", n),
		)
	}
}

// OnError implements manager.Observer
func (d *Dispatcher) OnError(context.Context, api.PluginError) {}
