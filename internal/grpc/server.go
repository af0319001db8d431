// Package grpc exposes the service's gRPC surface: the standard health
// protocol, instrumented like the HTTP router.
package grpc

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"market-chat/internal/observability"
)

// ServiceName is reported alongside the overall ("") health status.
const ServiceName = "market-chat"

// Pinger checks a dependency; *sqlx.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Server serves grpc.health.v1, SERVING while the database answers pings.
type Server struct {
	grpc     *grpc.Server
	health   *health.Server
	db       Pinger
	interval time.Duration
	logger   zerolog.Logger
}

// NewServer builds the gRPC server. Status starts NOT_SERVING until the first check.
func NewServer(db Pinger, interval time.Duration, logger zerolog.Logger) *Server {
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
	)
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	return &Server{grpc: srv, health: hs, db: db, interval: interval, logger: logger}
}

// Check pings the database and updates the reported status.
func (s *Server) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := s.db.PingContext(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("health check: database ping failed")
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	return status
}

// Serve blocks until ctx is done, then stops gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.Check(ctx)
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.health.Shutdown()
				s.grpc.GracefulStop()
				return
			case <-ticker.C:
				s.Check(ctx)
			}
		}
	}()

	s.logger.Info().Str("addr", lis.Addr().String()).Msg("grpc server listening")
	return s.grpc.Serve(lis)
}
