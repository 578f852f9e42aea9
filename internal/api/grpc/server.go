// Package grpcapi exposes the session daemon's gRPC health endpoint.
package grpcapi

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"ai-voice-session-service/internal/observability"
	"ai-voice-session-service/internal/observability/logging"
)

// ServiceName is the health service name of the voice session daemon.
const ServiceName = "ai.voice.session.SessionService"

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

// Server is a gRPC server carrying health and reflection.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	checks map[string]Check
	log    zerolog.Logger

	mu      sync.Mutex
	serving bool
}

// New creates the server. checks are keyed by dependency name; the
// session service is SERVING only while every check passes.
func New(checks map[string]Check) *Server {
	g := grpc.NewServer(
		grpc.ChainUnaryInterceptor(observability.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(observability.StreamServerInterceptor()),
	)

	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(g, hs)

	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(g)

	s := &Server{
		grpc:   g,
		health: hs,
		checks: checks,
		log:    logging.WithComponent("grpc"),
	}
	s.setServing(true)
	return s
}

// Serve accepts connections on lis until Shutdown.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info().Str("addr", lis.Addr().String()).Msg("gRPC server started")
	return s.grpc.Serve(lis)
}

// Refresh runs every check and updates the serving status.
func (s *Server) Refresh(ctx context.Context) bool {
	ok := true
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			s.log.Warn().Err(err).Str("dependency", name).Msg("Health check failed")
			ok = false
		}
	}
	s.setServing(ok)
	return ok
}

// Watch refreshes the serving status every interval until ctx is done.
func (s *Server) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, interval)
			s.Refresh(checkCtx)
			cancel()
		}
	}
}

// Shutdown marks every service NOT_SERVING and stops gracefully.
func (s *Server) Shutdown() {
	s.log.Info().Msg("Shutting down gRPC server")
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

func (s *Server) setServing(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.serving != ok {
		s.log.Info().Bool("serving", ok).Msg("Health status changed")
	}
	s.serving = ok

	status := grpc_health_v1.HealthCheckResponse_SERVING
	if !ok {
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}
