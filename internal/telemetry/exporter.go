package telemetry

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"os"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc/credentials"
)

// ExporterFactory builds the span exporter for step 3.
type ExporterFactory func(ctx context.Context, plan Plan) (sdktrace.SpanExporter, error)

// MetricExporterFactory builds the metric exporter for step 8.
type MetricExporterFactory func(ctx context.Context, plan Plan) (sdkmetric.Exporter, error)

// consoleWriter receives console-protocol spans.
var consoleWriter io.Writer = os.Stdout

// NewSpanExporter is the default ExporterFactory. Wrap it with
// WithExporterFactory to observe what the bootstrap exports.
func NewSpanExporter(ctx context.Context, plan Plan) (sdktrace.SpanExporter, error) {
	return newSpanExporter(ctx, plan)
}

// newSpanExporter picks the exporter for the plan's protocol. The OTLP
// exporters connect lazily, so an unreachable collector only shows up here
// when verify is enabled.
func newSpanExporter(ctx context.Context, plan Plan) (sdktrace.SpanExporter, error) {
	var (
		exporter sdktrace.SpanExporter
		err      error
	)

	switch plan.Protocol {
	case ProtocolHTTP:
		opts := []otlptracehttp.Option{
			// Carries scheme, host and path; an http scheme implies insecure.
			otlptracehttp.WithEndpointURL(plan.Endpoint),
		}
		if len(plan.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(plan.Headers))
		}
		exporter, err = otlptracehttp.New(ctx, opts...)
	case ProtocolGRPC:
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(plan.Endpoint),
		}
		if plan.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		} else {
			opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewTLS(&tls.Config{
				MinVersion: tls.VersionTLS12,
			})))
		}
		if len(plan.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(plan.Headers))
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	case ProtocolConsole:
		exporter, err = stdouttrace.New(
			stdouttrace.WithWriter(consoleWriter),
			stdouttrace.WithPrettyPrint(),
		)
	default:
		return nil, fmt.Errorf("%w: unsupported protocol %q", ErrConfiguration, plan.Protocol)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: creating trace exporter: %v", ErrTransport, err)
	}
	return exporter, nil
}

// newMetricExporter mirrors newSpanExporter for the metrics pipeline.
func newMetricExporter(ctx context.Context, plan Plan) (sdkmetric.Exporter, error) {
	// Cumulative temporality - required for Prometheus-compatible backends.
	// This overrides OTEL_EXPORTER_OTLP_METRICS_TEMPORALITY_PREFERENCE,
	// which a parent process may have set.
	cumulative := func(sdkmetric.InstrumentKind) metricdata.Temporality {
		return metricdata.CumulativeTemporality
	}

	var (
		exporter sdkmetric.Exporter
		err      error
	)

	switch plan.Protocol {
	case ProtocolHTTP:
		opts := []otlpmetrichttp.Option{
			otlpmetrichttp.WithEndpointURL(plan.Metrics.Endpoint),
			otlpmetrichttp.WithTemporalitySelector(cumulative),
		}
		if len(plan.Headers) > 0 {
			opts = append(opts, otlpmetrichttp.WithHeaders(plan.Headers))
		}
		exporter, err = otlpmetrichttp.New(ctx, opts...)
	case ProtocolGRPC:
		opts := []otlpmetricgrpc.Option{
			otlpmetricgrpc.WithEndpoint(plan.Metrics.Endpoint),
			otlpmetricgrpc.WithTemporalitySelector(cumulative),
		}
		if plan.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		} else {
			opts = append(opts, otlpmetricgrpc.WithTLSCredentials(credentials.NewTLS(&tls.Config{
				MinVersion: tls.VersionTLS12,
			})))
		}
		if len(plan.Headers) > 0 {
			opts = append(opts, otlpmetricgrpc.WithHeaders(plan.Headers))
		}
		exporter, err = otlpmetricgrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("%w: metrics unsupported for protocol %q", ErrConfiguration, plan.Protocol)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: creating metric exporter: %v", ErrTransport, err)
	}
	return exporter, nil
}

// verifyEndpoint opens and closes one TCP connection to the collector.
func verifyEndpoint(ctx context.Context, plan Plan) error {
	d := net.Dialer{Timeout: plan.VerifyTimeout}
	conn, err := d.DialContext(ctx, "tcp", plan.dialAddress())
	if err != nil {
		return fmt.Errorf("%w: collector %s unreachable: %v", ErrTransport, plan.dialAddress(), err)
	}
	return conn.Close()
}
