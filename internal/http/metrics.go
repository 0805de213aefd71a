package http

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/traceboot/internal/logging"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/traceboot/internal/http"

// unmatchedRoute labels requests that matched no registered route.
const unmatchedRoute = "unmatched"

// HTTPMetrics records host endpoint traffic. Every data point carries a
// traced attribute telling whether the request ran inside a sampled span,
// which shows how much of the host's traffic the page_load adapter covers.
type HTTPMetrics struct {
	logger   *logging.Logger
	requests metric.Int64Counter
	duration metric.Float64Histogram
	size     metric.Int64Histogram
	inFlight metric.Int64UpDownCounter
}

// NewHTTPMetrics builds the instruments on the global meter provider, so
// they start exporting once the bootstrap registers one.
func NewHTTPMetrics(logger *logging.Logger) *HTTPMetrics {
	return newHTTPMetrics(otel.Meter(httpInstrumentationName), logger)
}

func newHTTPMetrics(meter metric.Meter, logger *logging.Logger) *HTTPMetrics {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &HTTPMetrics{logger: logger}

	var err error
	m.requests, err = meter.Int64Counter("traceboot.http.requests_total",
		metric.WithDescription("Host endpoint requests by method, route, status and whether the request was traced."),
		metric.WithUnit("{request}"),
	)
	m.warn("traceboot.http.requests_total", err)

	m.duration, err = meter.Float64Histogram("traceboot.http.request_duration_seconds",
		metric.WithDescription("Host endpoint latency. /debug/otel and /api/v1/status should stay in the low buckets."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5),
	)
	m.warn("traceboot.http.request_duration_seconds", err)

	m.size, err = meter.Int64Histogram("traceboot.http.response_size_bytes",
		metric.WithDescription("Response body size. /metrics dominates the upper buckets."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(64, 256, 1024, 4096, 16384, 65536, 262144),
	)
	m.warn("traceboot.http.response_size_bytes", err)

	m.inFlight, err = meter.Int64UpDownCounter("traceboot.http.active_requests",
		metric.WithDescription("Host endpoint requests currently being served."),
		metric.WithUnit("{request}"),
	)
	m.warn("traceboot.http.active_requests", err)

	return m
}

// warn logs an instrument that could not be created. The middleware skips
// nil instruments, so the host keeps serving without them.
func (m *HTTPMetrics) warn(name string, err error) {
	if err != nil {
		m.logger.Warn(context.Background(), "http instrument unavailable",
			zap.String("instrument", name),
			zap.Error(err),
		)
	}
}

// MetricsMiddleware records one data point per request. It must run inside
// the tracing middleware for the traced attribute to be meaningful.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			ctx := c.Request().Context()

			if m.inFlight != nil {
				m.inFlight.Add(ctx, 1)
				defer m.inFlight.Add(ctx, -1)
			}

			err := next(c)

			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("endpoint", normalizePath(c.Path())),
				attribute.Int("status", c.Response().Status),
				attribute.Bool("traced", trace.SpanContextFromContext(ctx).IsSampled()),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.duration != nil {
				m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			if m.size != nil {
				m.size.Record(ctx, c.Response().Size, attrs)
			}
			return err
		}
	}
}

// normalizePath maps the matched route to a label. Echo reports the route
// pattern, not the raw URI, so parameters never reach a label.
func normalizePath(path string) string {
	if path == "" {
		return unmatchedRoute
	}
	return path
}
