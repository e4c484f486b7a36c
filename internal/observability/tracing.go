package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// TracingConfig holds OpenTelemetry tracing configuration
type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	ServiceName    string  `mapstructure:"service_name"`
	ServiceVersion string  `mapstructure:"service_version"`
	Environment    string  `mapstructure:"environment"`
	ExporterType   string  `mapstructure:"exporter_type"` // stdout, otlp-grpc, otlp-http
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"`
	OTLPInsecure   bool    `mapstructure:"otlp_insecure"`
	SamplingRate   float64 `mapstructure:"sampling_rate"`
}

// Span attribute keys
var (
	AttrPluginID    = attribute.Key("plugin.id")
	AttrHookEvent   = attribute.Key("hook.event")
	AttrHookType    = attribute.Key("hook.type")
	AttrHookHandler = attribute.Key("hook.handler")
	AttrOutcome     = attribute.Key("outcome")

	attrHTTPMethod = attribute.Key("http.method")
	attrHTTPRoute  = attribute.Key("http.route")
	attrHTTPStatus = attribute.Key("http.status_code")
	attrRPCService = attribute.Key("rpc.service")
	attrRPCMethod  = attribute.Key("rpc.method")
	attrRPCStatus  = attribute.Key("rpc.grpc.status_code")
)

// Hook outcomes
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeRejected = "rejected"
)

// TracingProvider owns the SDK tracer provider when tracing is on. When
// off it hands out the global no-op tracer.
type TracingProvider struct {
	sdk    *sdktrace.TracerProvider
	tracer trace.Tracer
}

// NewTracingProvider creates a new tracing provider and installs it
// globally when tracing is enabled
func NewTracingProvider(cfg *TracingConfig, logger *zap.Logger) (*TracingProvider, error) {
	if !cfg.Enabled {
		return &TracingProvider{tracer: otel.Tracer(cfg.ServiceName)}, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	exporter, err := newExporter(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("tracing exporter %q: %w", cfg.ExporterType, err)
	}

	sdk := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(cfg.SamplingRate)),
	)
	otel.SetTracerProvider(sdk)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("Tracing enabled",
		zap.String("exporter", cfg.ExporterType),
		zap.Float64("sampling_rate", cfg.SamplingRate),
	)
	return &TracingProvider{sdk: sdk, tracer: sdk.Tracer(cfg.ServiceName)}, nil
}

func newSampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

func newExporter(ctx context.Context, cfg *TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.ExporterType {
	case "otlp-grpc":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
	case "otlp-http":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	default:
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
}

// Tracer returns the tracer
func (tp *TracingProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// Shutdown flushes pending spans
func (tp *TracingProvider) Shutdown(ctx context.Context) error {
	if tp.sdk == nil {
		return nil
	}
	return tp.sdk.Shutdown(ctx)
}

// HookSpan describes one hook handler invocation
type HookSpan struct {
	PluginID string
	Event    string
	Type     string
	Handler  string
}

// StartHookSpan starts the span wrapping a single handler call
func StartHookSpan(ctx context.Context, tracer trace.Tracer, h HookSpan) (context.Context, trace.Span) {
	return tracer.Start(ctx, "hook "+h.Type+" "+h.Event, trace.WithAttributes(
		AttrPluginID.String(h.PluginID),
		AttrHookEvent.String(h.Event),
		AttrHookType.String(h.Type),
		AttrHookHandler.String(h.Handler),
	))
}

// EndHookSpan records outcome and err on span and ends it
func EndHookSpan(span trace.Span, outcome string, err error) {
	span.SetAttributes(AttrOutcome.String(outcome))
	switch outcome {
	case OutcomeOK:
		span.SetStatus(codes.Ok, "")
	case OutcomeError:
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Error, "")
		}
	default:
		span.SetStatus(codes.Unset, outcome)
	}
	span.End()
}
