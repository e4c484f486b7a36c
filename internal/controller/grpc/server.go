// Package grpc exposes plugin health over grpc.health.v1.
package grpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/jrjohn/arcana-plugin-runtime/internal/config"
	"github.com/jrjohn/arcana-plugin-runtime/internal/observability"
)

// Server serves the health service. The overall status ("") starts
// NOT_SERVING and flips on MarkServing.
type Server struct {
	addr   string
	grpc   *grpc.Server
	health *health.Server
	logger *zap.Logger
}

func NewServer(cfg *config.GRPCConfig, serviceName string, logger *zap.Logger) (*Server, error) {
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor(logger),
			observability.UnaryServerInterceptor(serviceName),
			LoggingInterceptor(logger),
		),
		grpc.ChainStreamInterceptor(observability.StreamServerInterceptor(serviceName)),
	}
	if cfg.TLSEnabled {
		creds, err := credentials.NewServerTLSFromFile(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("grpc tls: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
	}

	s := &Server{
		addr:   net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
		grpc:   grpc.NewServer(opts...),
		health: health.NewServer(),
		logger: logger.Named("grpc"),
	}
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	if cfg.Reflection {
		reflection.Register(s.grpc)
	}
	return s, nil
}

func (s *Server) Health() *health.Server {
	return s.health
}

func (s *Server) MarkServing() {
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
}

// Start listens on the configured address and serves until Stop
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("grpc listen %s: %w", s.addr, err)
	}
	return s.Serve(lis)
}

func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("gRPC server listening", zap.String("address", lis.Addr().String()))
	return s.grpc.Serve(lis)
}

// Stop reports NOT_SERVING for every service, then drains in-flight calls
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
	s.logger.Info("gRPC server stopped")
}

// LoggingInterceptor logs each call at debug and failures at warn.
// NotFound is expected for health checks of unknown plugins.
func LoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("elapsed", time.Since(start)),
		}
		if err != nil && status.Code(err) != codes.NotFound {
			logger.Warn("gRPC call failed", append(fields, zap.Error(err))...)
		} else {
			logger.Debug("gRPC call", fields...)
		}
		return resp, err
	}
}

// RecoveryInterceptor turns handler panics into codes.Internal
func RecoveryInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("gRPC handler panicked", zap.String("method", info.FullMethod), zap.Any("panic", r))
				resp, err = nil, status.Error(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}
