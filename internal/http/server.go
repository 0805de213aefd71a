// Package http provides the traceboot host HTTP server.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/traceboot/internal/instrument"
	"github.com/fyrsmithlabs/traceboot/internal/logging"
	"github.com/fyrsmithlabs/traceboot/internal/telemetry"
)

// Server provides the host HTTP endpoints.
type Server struct {
	echo     *echo.Echo
	logger   *logging.Logger
	config   *Config
	gatherer prometheus.Gatherer
	hooks    *instrument.Hooks
	metrics  *HTTPMetrics

	mu       sync.Mutex
	listener net.Listener
	served   chan error
}

// Config holds HTTP server configuration.
type Config struct {
	Host    string
	Port    int
	Version string
	Service string
}

// Option configures a Server.
type Option func(*Server)

// WithGatherer serves g on /metrics instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithHooks gates inbound tracing on h instead of instrument.Default.
func WithHooks(h *instrument.Hooks) Option {
	return func(s *Server) { s.hooks = h }
}

// WithMetrics records request metrics with m.
func WithMetrics(m *HTTPMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates a new HTTP server.
func NewServer(logger *logging.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8080,
		}
	}

	s := &Server{
		logger:   logger.Named("http"),
		config:   cfg,
		gatherer: prometheus.DefaultGatherer,
		hooks:    instrument.Default,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewHTTPMetrics(s.logger)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(echo.WrapMiddleware(s.hooks.HTTPMiddleware("http.server")))
	e.Use(middleware.RequestID())
	e.Use(s.metrics.MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			s.logger.Debug(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s.echo = e
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	s.echo.GET("/debug/otel", s.handleDebug)

	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.handleStatus)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleDebug serves the process-wide tracing debug slot.
func (s *Server) handleDebug(c echo.Context) error {
	return c.JSON(http.StatusOK, telemetry.DebugSnapshot())
}

func (s *Server) handleStatus(c echo.Context) error {
	snap := telemetry.DebugSnapshot()
	tracing := "disabled"
	if snap.Active {
		tracing = snap.State
	}
	return c.JSON(http.StatusOK, StatusResponse{
		Status:  "ok",
		Service: s.config.Service,
		Version: s.config.Version,
		Tracing: tracing,
		Instrumentation: InstrumentationStatus{
			Attached: s.hooks.Attached().Strings(),
		},
	})
}

// Mount binds the listener and serves in the background. It returns once
// the port is bound, so a bind failure is reported to the caller.
func (s *Server) Mount(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("http server already mounted on %s", s.listener.Addr())
	}

	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = ln
	s.served = make(chan error, 1)

	s.logger.Info(ctx, "starting http server", zap.String("addr", ln.Addr().String()))
	go func() {
		err := s.echo.Server.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.served <- err
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

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	served := s.served
	s.served = nil
	s.mu.Unlock()
	if served == nil {
		return nil
	}

	s.logger.Info(ctx, "shutting down http server")
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return <-served
}
