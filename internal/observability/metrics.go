// Package observability wires OpenTelemetry metrics (exported through
// Prometheus) and tracing for the plugin runtime.
package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
)

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	ServiceName    string `mapstructure:"service_name"`
	PrometheusPath string `mapstructure:"prometheus_path"`
}

var (
	attrPluginStatus = attribute.Key("plugin.status")
	attrPluginPhase  = attribute.Key("plugin.phase")
	attrErrorKind    = attribute.Key("plugin.error_kind")
)

// instruments are nil when metrics are disabled
type instruments struct {
	httpRequests      metric.Int64Counter
	httpDuration      metric.Float64Histogram
	pluginErrors      metric.Int64Counter
	pluginActive      metric.Int64UpDownCounter
	pluginTransitions metric.Int64Counter
	hookCalls         metric.Int64Counter
	hookDuration      metric.Float64Histogram
	schemaBuilds      metric.Int64Counter
	schemaDuration    metric.Float64Histogram
}

func newInstruments(m metric.Meter) (*instruments, error) {
	var errs []error
	counter := func(name, desc string) metric.Int64Counter {
		c, err := m.Int64Counter(name, metric.WithDescription(desc))
		errs = append(errs, err)
		return c
	}
	seconds := func(name, desc string) metric.Float64Histogram {
		h, err := m.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("s"))
		errs = append(errs, err)
		return h
	}

	in := &instruments{
		httpRequests:      counter("http_requests_total", "HTTP requests served"),
		httpDuration:      seconds("http_request_duration_seconds", "HTTP request latency"),
		pluginErrors:      counter("plugin_errors_total", "Plugin errors recorded"),
		pluginTransitions: counter("plugin_transitions_total", "Plugin lifecycle transitions"),
		hookCalls:         counter("hook_calls_total", "Hook handler invocations"),
		hookDuration:      seconds("hook_duration_seconds", "Hook handler latency"),
		schemaBuilds:      counter("graphql_schema_builds_total", "GraphQL schema rebuilds"),
		schemaDuration:    seconds("graphql_schema_build_duration_seconds", "GraphQL schema rebuild latency"),
	}
	active, err := m.Int64UpDownCounter("plugin_active", metric.WithDescription("Plugins currently active"))
	in.pluginActive = active
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return in, nil
}

// MetricsProvider records runtime metrics. Every method is safe on a nil
// or disabled provider.
type MetricsProvider struct {
	path    string
	sdk     *sdkmetric.MeterProvider
	handler http.Handler
	in      *instruments
}

// NewMetricsProvider creates a provider; when enabled it installs a
// Prometheus-backed meter provider globally
func NewMetricsProvider(cfg *MetricsConfig, logger *zap.Logger) (*MetricsProvider, error) {
	mp := &MetricsProvider{path: cfg.PrometheusPath}
	if !cfg.Enabled {
		return mp, nil
	}

	registry := prometheus.NewRegistry()
	exporter, err := otelprometheus.New(otelprometheus.WithRegisterer(registry))
	if err != nil {
		return nil, err
	}
	mp.sdk = sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(mp.sdk)

	if mp.in, err = newInstruments(mp.sdk.Meter(cfg.ServiceName)); err != nil {
		return nil, err
	}
	mp.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	logger.Info("Metrics enabled", zap.String("path", mp.Path()))
	return mp, nil
}

func (mp *MetricsProvider) enabled() bool {
	return mp != nil && mp.in != nil
}

// RecordHTTPRequest records one served request keyed by route template
func (mp *MetricsProvider) RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, d time.Duration) {
	if !mp.enabled() {
		return
	}
	attrs := metric.WithAttributes(
		attrHTTPMethod.String(method),
		attrHTTPRoute.String(route),
		attrHTTPStatus.Int(statusCode),
	)
	mp.in.httpRequests.Add(ctx, 1, attrs)
	mp.in.httpDuration.Record(ctx, d.Seconds(), attrs)
}

func (mp *MetricsProvider) RecordPluginError(ctx context.Context, pluginID, phase, kind string) {
	if !mp.enabled() {
		return
	}
	mp.in.pluginErrors.Add(ctx, 1, metric.WithAttributes(
		AttrPluginID.String(pluginID),
		attrPluginPhase.String(phase),
		attrErrorKind.String(kind),
	))
}

// RecordPluginTransition counts a transition and moves the active gauge
// when a plugin enters or leaves "active"
func (mp *MetricsProvider) RecordPluginTransition(ctx context.Context, pluginID, from, to string) {
	if !mp.enabled() {
		return
	}
	mp.in.pluginTransitions.Add(ctx, 1, metric.WithAttributes(
		AttrPluginID.String(pluginID),
		attrPluginStatus.String(to),
	))
	if from == to {
		return
	}
	switch "active" {
	case to:
		mp.in.pluginActive.Add(ctx, 1)
	case from:
		mp.in.pluginActive.Add(ctx, -1)
	}
}

// RecordHook records one handler invocation with its Outcome* value
func (mp *MetricsProvider) RecordHook(ctx context.Context, pluginID, event, hookType, outcome string, d time.Duration) {
	if !mp.enabled() {
		return
	}
	attrs := metric.WithAttributes(
		AttrPluginID.String(pluginID),
		AttrHookEvent.String(event),
		AttrHookType.String(hookType),
		AttrOutcome.String(outcome),
	)
	mp.in.hookCalls.Add(ctx, 1, attrs)
	mp.in.hookDuration.Record(ctx, d.Seconds(), attrs)
}

func (mp *MetricsProvider) RecordSchemaBuild(ctx context.Context, success bool, d time.Duration) {
	if !mp.enabled() {
		return
	}
	outcome := OutcomeOK
	if !success {
		outcome = OutcomeError
	}
	attrs := metric.WithAttributes(AttrOutcome.String(outcome))
	mp.in.schemaBuilds.Add(ctx, 1, attrs)
	mp.in.schemaDuration.Record(ctx, d.Seconds(), attrs)
}

// Handler serves the Prometheus exposition, 404 when disabled
func (mp *MetricsProvider) Handler() http.Handler {
	if mp == nil || mp.handler == nil {
		return http.NotFoundHandler()
	}
	return mp.handler
}

// Path is where Handler should be mounted
func (mp *MetricsProvider) Path() string {
	if mp == nil || mp.path == "" {
		return "/metrics"
	}
	return mp.path
}

func (mp *MetricsProvider) Shutdown(ctx context.Context) error {
	if mp == nil || mp.sdk == nil {
		return nil
	}
	return mp.sdk.Shutdown(ctx)
}
