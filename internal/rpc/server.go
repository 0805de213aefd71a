// Package rpc provides the traceboot host gRPC server. It serves the
// standard health service and carries the XHR auto-instrumentation hook.
package rpc

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/fyrsmithlabs/traceboot/internal/instrument"
	"github.com/fyrsmithlabs/traceboot/internal/logging"
)

// Config holds gRPC server configuration.
type Config struct {
	Host    string
	Port    int
	Service string // registered with the health service alongside ""
}

// Option configures a Server.
type Option func(*Server)

// WithHooks gates RPC tracing on h instead of instrument.Default.
func WithHooks(h *instrument.Hooks) Option {
	return func(s *Server) { s.hooks = h }
}

// Server wraps a grpc.Server with a health service.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	hooks  *instrument.Hooks
	logger *logging.Logger
	config *Config

	mu       sync.Mutex
	listener net.Listener
	served   chan error
}

// NewServer creates a gRPC server. Nothing listens until Mount.
func NewServer(logger *logging.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	s := &Server{
		hooks:  instrument.Default,
		logger: logger.Named("rpc"),
		config: cfg,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.grpc = grpc.NewServer(grpc.StatsHandler(s.hooks.ServerStatsHandler()))
	s.health = health.NewServer()
	healthpb.RegisterHealthServer(s.grpc, s.health)

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	if cfg.Service != "" {
		s.health.SetServingStatus(cfg.Service, healthpb.HealthCheckResponse_SERVING)
	}
	return s, nil
}

// Mount binds the listener and serves in the background.
func (s *Server) Mount(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("grpc server already mounted on %s", s.listener.Addr())
	}

	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = ln
	s.served = make(chan error, 1)

	s.logger.Info(ctx, "starting grpc server", zap.String("addr", ln.Addr().String()))
	go func() {
		s.served <- s.grpc.Serve(ln)
	}()
	return nil
}

// Addr returns the bound address, or nil before Mount.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown marks every service NOT_SERVING and stops gracefully. If ctx
// ends first, in-flight RPCs are cancelled.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	served := s.served
	s.served = nil
	s.mu.Unlock()
	if served == nil {
		return nil
	}

	s.logger.Info(ctx, "shutting down grpc server")
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpc.Stop()
		<-stopped
	}

	if err := <-served; err != nil {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}
