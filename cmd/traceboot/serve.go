package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/traceboot/internal/logging"
	"github.com/fyrsmithlabs/traceboot/internal/telemetry"
	"github.com/fyrsmithlabs/traceboot/pkg/config"
)

type serveOptions struct {
	*rootOptions
	timing string

	// mounted is called with the HTTP address once the host is up.
	mounted func(addr net.Addr)
}

func newServeCmd(root *rootOptions, mounted func(net.Addr)) *cobra.Command {
	opts := &serveOptions{rootOptions: root, mounted: mounted}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Bootstrap tracing and serve the host endpoints",
		Long: `Bootstrap tracing and serve /health, /metrics and /debug/otel.

SIGINT or SIGTERM flushes pending spans within server.shutdown_timeout and
exits cleanly.

Examples:
  # Bootstrap before the server mounts (default)
  traceboot serve

  # Mount first, bootstrap in the background
  traceboot serve --timing deferred`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}
	cmd.Flags().StringVar(&opts.timing, "timing", "", "when to bootstrap: before-mount, after-mount or deferred (overrides tracing.timing)")
	return cmd
}

// runServe blocks until ctx ends. A signal is a clean exit; the only error
// after mount is mandatory tracing that never came up.
func runServe(ctx context.Context, opts *serveOptions) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.timing != "" {
		cfg.Tracing.Timing = opts.timing
	}
	policy, err := cfg.Policy()
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(&cfg.Logging, global.GetLoggerProvider())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	boot := telemetry.New(cfg.Service, &cfg.Tracing, logger, telemetry.WithPrometheus(reg))
	h, err := newHost(cfg, logger, reg)
	if err != nil {
		return err
	}

	logger.Info(ctx, "starting traceboot",
		zap.String("version", version),
		zap.String("service_name", cfg.Service.Name),
		zap.Stringer("timing", policy.Timing),
		zap.Bool("tolerate_failure", policy.TolerateFailure),
	)

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	launched, err := telemetry.Launch(ctx, policy, boot, h.mount)
	if err != nil {
		stopAll(logger, cfg, h, boot)
		return err
	}
	if opts.mounted != nil {
		opts.mounted(h.http.Addr())
	}

	go func() {
		if _, err := launched.Wait(ctx); errors.Is(err, telemetry.ErrTracingUnavailable) {
			logger.Error(ctx, "tracing is mandatory and did not start")
			cancel(err)
		}
	}()

	<-ctx.Done()
	cause := context.Cause(ctx)
	stopAll(logger, cfg, h, boot)

	if errors.Is(cause, telemetry.ErrTracingUnavailable) {
		return cause
	}
	return nil
}

// stopAll stops the host, then flushes tracing, all within one shutdown
// budget.
func stopAll(logger *logging.Logger, cfg *config.Config, h *host, boot *telemetry.Bootstrapper) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	if err := h.shutdown(ctx); err != nil {
		logger.Warn(ctx, "host shutdown incomplete", zap.Error(err))
	}
	boot.Shutdown(ctx)
	logger.Info(ctx, "traceboot stopped")
}
