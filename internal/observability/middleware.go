package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// TracingMiddleware starts a server span per request, continuing any
// trace carried in the request headers
func TracingMiddleware(serviceName string) gin.HandlerFunc {
	tracer := otel.Tracer(serviceName)

	return func(c *gin.Context) {
		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))

		route := routeOf(c)
		ctx, span := tracer.Start(ctx, c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attrHTTPMethod.String(c.Request.Method),
				attrHTTPRoute.String(route),
			),
		)
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		code := c.Writer.Status()
		span.SetAttributes(attrHTTPStatus.Int(code))
		for _, err := range c.Errors {
			span.RecordError(err.Err)
		}
		if code >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(code))
		}
	}
}

// MetricsMiddleware records request counts and durations per route
func MetricsMiddleware(mp *MetricsProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		mp.RecordHTTPRequest(c.Request.Context(), c.Request.Method, routeOf(c), c.Writer.Status(), time.Since(start))
	}
}

func routeOf(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unmatched"
}

// UnaryServerInterceptor traces unary gRPC calls
func UnaryServerInterceptor(serviceName string) grpc.UnaryServerInterceptor {
	tracer := otel.Tracer(serviceName)

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, span := startRPCSpan(ctx, tracer, serviceName, info.FullMethod)
		defer span.End()

		resp, err := handler(ctx, req)
		endRPCSpan(span, err)
		return resp, err
	}
}

// StreamServerInterceptor traces streaming gRPC calls such as health Watch
func StreamServerInterceptor(serviceName string) grpc.StreamServerInterceptor {
	tracer := otel.Tracer(serviceName)

	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, span := startRPCSpan(ss.Context(), tracer, serviceName, info.FullMethod)
		defer span.End()

		err := handler(srv, &tracedStream{ServerStream: ss, ctx: ctx})
		endRPCSpan(span, err)
		return err
	}
}

func startRPCSpan(ctx context.Context, tracer trace.Tracer, service, method string) (context.Context, trace.Span) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		ctx = otel.GetTextMapPropagator().Extract(ctx, metadataCarrier(md))
	}
	return tracer.Start(ctx, method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attrRPCService.String(service),
			attrRPCMethod.String(method),
		),
	)
}

func endRPCSpan(span trace.Span, err error) {
	s, _ := status.FromError(err)
	span.SetAttributes(attrRPCStatus.String(s.Code().String()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, s.Message())
	}
}

// metadataCarrier lets the propagator read incoming gRPC metadata
type metadataCarrier metadata.MD

func (mc metadataCarrier) Get(key string) string {
	if vals := metadata.MD(mc).Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

func (mc metadataCarrier) Set(key, value string) {
	metadata.MD(mc).Set(key, value)
}

func (mc metadataCarrier) Keys() []string {
	keys := make([]string, 0, len(mc))
	for k := range mc {
		keys = append(keys, k)
	}
	return keys
}

type tracedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *tracedStream) Context() context.Context {
	return s.ctx
}
