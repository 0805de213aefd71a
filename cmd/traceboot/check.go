package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/fyrsmithlabs/traceboot/internal/logging"
	"github.com/fyrsmithlabs/traceboot/internal/telemetry"
	"github.com/fyrsmithlabs/traceboot/pkg/config"
)

type checkOptions struct {
	*rootOptions
	connect bool
}

func newCheckCmd(root *rootOptions) *cobra.Command {
	opts := &checkOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Resolve the tracing configuration and print the plan",
		Long: `Resolve the tracing configuration and print the plan the bootstrap would
follow. Header values are never printed.

Examples:
  # Show the plan
  traceboot check

  # Also bootstrap against the collector and send one span
  traceboot check --connect`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCheck(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().BoolVar(&opts.connect, "connect", false, "bootstrap against the collector and export a test span")
	return cmd
}

func runCheck(ctx context.Context, out io.Writer, opts *checkOptions) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}

	plan, err := telemetry.Resolve(cfg.Service, &cfg.Tracing)
	if err != nil {
		return err
	}
	printPlan(out, plan)

	if !opts.connect || !plan.Enabled {
		return nil
	}

	logger, err := logging.NewLogger(&cfg.Logging, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg.Tracing.Verify.Enabled = true
	delivered := &exportResult{}
	boot := telemetry.New(cfg.Service, &cfg.Tracing, logger,
		telemetry.WithExporterFactory(func(ctx context.Context, plan telemetry.Plan) (sdktrace.SpanExporter, error) {
			exp, err := telemetry.NewSpanExporter(ctx, plan)
			if err != nil {
				return nil, err
			}
			return delivered.wrap(exp), nil
		}),
	)
	h := boot.Start(ctx)
	if !h.Active() {
		return fmt.Errorf("tracing bootstrap failed, see log for the failing step")
	}

	_, span := h.Tracer().Start(ctx, "traceboot.check")
	span.End()
	// Shutdown flushes, so every export attempt has happened once it returns.
	boot.Shutdown(ctx)

	exported, err := delivered.result()
	switch {
	case err != nil:
		return fmt.Errorf("collector rejected the check span: %w", err)
	case exported == 0:
		fmt.Fprintf(out, "collector:       reachable (check span not sampled)\n")
	default:
		fmt.Fprintf(out, "collector:       ok\n")
	}
	return nil
}

// exportResult records what the wrapped exporter actually delivered.
type exportResult struct {
	mu       sync.Mutex
	exported int
	err      error
}

func (r *exportResult) wrap(exp sdktrace.SpanExporter) sdktrace.SpanExporter {
	return &recordingExporter{SpanExporter: exp, result: r}
}

func (r *exportResult) result() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exported, r.err
}

type recordingExporter struct {
	sdktrace.SpanExporter
	result *exportResult
}

func (e *recordingExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	err := e.SpanExporter.ExportSpans(ctx, spans)
	e.result.mu.Lock()
	defer e.result.mu.Unlock()
	if err != nil {
		e.result.err = errors.Join(e.result.err, err)
		return err
	}
	e.result.exported += len(spans)
	return nil
}

func printPlan(out io.Writer, plan telemetry.Plan) {
	fmt.Fprintf(out, "service:         %s %s (%s)\n", plan.Identity.Name, plan.Identity.Version, plan.Identity.Environment)
	if !plan.Enabled {
		fmt.Fprintf(out, "tracing:         disabled\n")
		return
	}
	fmt.Fprintf(out, "tracing:         enabled\n")
	fmt.Fprintf(out, "protocol:        %s\n", plan.Protocol)
	fmt.Fprintf(out, "endpoint:        %s\n", plan.Endpoint)
	fmt.Fprintf(out, "batching:        %s\n", plan.Batching)
	fmt.Fprintf(out, "sample rate:     %g\n", plan.SampleRate)
	fmt.Fprintf(out, "instrumentation: %s\n", orNone(plan.Instrument.Strings()))

	names := make([]string, 0, len(plan.Headers))
	for k := range plan.Headers {
		names = append(names, k)
	}
	sort.Strings(names)
	fmt.Fprintf(out, "headers:         %s\n", orNone(names))

	switch {
	case plan.Metrics.Enabled:
		fmt.Fprintf(out, "metrics:         %s every %s\n", plan.Metrics.Endpoint, plan.Metrics.Interval)
	case plan.Metrics.Skipped != "":
		fmt.Fprintf(out, "metrics:         skipped (%s)\n", plan.Metrics.Skipped)
	default:
		fmt.Fprintf(out, "metrics:         disabled\n")
	}
}

func orNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ",")
}
