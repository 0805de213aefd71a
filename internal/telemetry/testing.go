package telemetry

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/fyrsmithlabs/traceboot/internal/instrument"
	"github.com/fyrsmithlabs/traceboot/internal/logging"
)

// TestTelemetry bundles in-memory collaborators for bootstrap tests. None of
// them touch process-wide state.
type TestTelemetry struct {
	Exporter       *tracetest.InMemoryExporter
	MetricExporter *TestMetricExporter
	Registrar      *TestRegistrar
	Hooks          *instrument.Hooks
	Logger         *logging.TestLogger
	Registry       *prometheus.Registry
}

// NewTestTelemetry creates fresh in-memory collaborators.
func NewTestTelemetry() *TestTelemetry {
	return &TestTelemetry{
		Exporter:       tracetest.NewInMemoryExporter(),
		MetricExporter: &TestMetricExporter{},
		Registrar:      &TestRegistrar{},
		Hooks:          instrument.NewHooks(),
		Logger:         logging.NewTestLogger(),
		Registry:       prometheus.NewRegistry(),
	}
}

// Options wires the collaborators into a Bootstrapper. Extra options are
// applied last so they can override any of them.
func (t *TestTelemetry) Options(extra ...Option) []Option {
	opts := []Option{
		WithSpanExporter(t.Exporter),
		WithMetricExporter(t.MetricExporter),
		WithRegistrar(t.Registrar),
		WithHooks(t.Hooks),
		WithPrometheus(t.Registry),
	}
	return append(opts, extra...)
}

// New creates a Bootstrapper using the test collaborators.
func (t *TestTelemetry) New(id ServiceIdentity, cfg *Config, extra ...Option) *Bootstrapper {
	return New(id, cfg, t.Logger.Logger, t.Options(extra...)...)
}

// Spans returns all exported spans.
func (t *TestTelemetry) Spans() tracetest.SpanStubs {
	return t.Exporter.GetSpans()
}

// SpanByName finds a span by name, or nil if not found.
func (t *TestTelemetry) SpanByName(name string) *tracetest.SpanStub {
	spans := t.Spans()
	for i := range spans {
		if spans[i].Name == name {
			return &spans[i]
		}
	}
	return nil
}

// AssertSpanExists verifies a span with the given name was exported.
func (t *TestTelemetry) AssertSpanExists(tb testing.TB, name string) {
	tb.Helper()
	if t.SpanByName(name) == nil {
		tb.Errorf("expected span %q not found, got: %v", name, t.spanNames())
	}
}

// AssertSpanAttribute verifies a span has the expected attribute.
func (t *TestTelemetry) AssertSpanAttribute(tb testing.TB, spanName string, key string, expected interface{}) {
	tb.Helper()
	span := t.SpanByName(spanName)
	if span == nil {
		tb.Fatalf("span %q not found", spanName)
	}

	for _, attr := range span.Attributes {
		if string(attr.Key) == key {
			if got := attrValue(attr.Value); got != expected {
				tb.Errorf("span %q attribute %q: got %v, want %v", spanName, key, got, expected)
			}
			return
		}
	}
	tb.Errorf("span %q missing attribute %q", spanName, key)
}

func (t *TestTelemetry) spanNames() []string {
	spans := t.Spans()
	names := make([]string, len(spans))
	for i, span := range spans {
		names[i] = span.Name
	}
	return names
}

// attrValue extracts the value from an attribute.
func attrValue(v attribute.Value) interface{} {
	switch v.Type() {
	case attribute.STRING:
		return v.AsString()
	case attribute.INT64:
		return v.AsInt64()
	case attribute.FLOAT64:
		return v.AsFloat64()
	case attribute.BOOL:
		return v.AsBool()
	default:
		return v.AsInterface()
	}
}

// TestRegistrar is an in-memory registration slot with the same
// one-at-a-time rule as the global one.
type TestRegistrar struct {
	mu            sync.Mutex
	active        bool
	tracer        trace.TracerProvider
	propagator    propagation.TextMapPropagator
	meter         metric.MeterProvider
	registrations int
	releases      int
}

func (r *TestRegistrar) RegisterTracing(tp trace.TracerProvider, prop propagation.TextMapPropagator) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return nil, fmt.Errorf("%w: test slot already taken", ErrRegistration)
	}
	r.active = true
	r.tracer = tp
	r.propagator = prop
	r.registrations++

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.active = false
			r.tracer = nil
			r.propagator = nil
			r.releases++
		})
	}, nil
}

func (r *TestRegistrar) RegisterMetrics(mp metric.MeterProvider) func() {
	r.mu.Lock()
	r.meter = mp
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		r.meter = nil
		r.mu.Unlock()
	}
}

// Active reports whether a provider holds the slot.
func (r *TestRegistrar) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// TracerProvider returns the registered provider, or nil.
func (r *TestRegistrar) TracerProvider() trace.TracerProvider {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tracer
}

// Propagator returns the registered propagator, or nil.
func (r *TestRegistrar) Propagator() propagation.TextMapPropagator {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.propagator
}

// MeterProvider returns the registered meter provider, or nil.
func (r *TestRegistrar) MeterProvider() metric.MeterProvider {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.meter
}

// Counts returns how many registrations and releases happened.
func (r *TestRegistrar) Counts() (registrations, releases int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registrations, r.releases
}

// TestMetricExporter records exported metric batches.
type TestMetricExporter struct {
	mu       sync.Mutex
	exported []metricdata.ResourceMetrics
	shutdown bool
}

func (e *TestMetricExporter) Temporality(k sdkmetric.InstrumentKind) metricdata.Temporality {
	return sdkmetric.DefaultTemporalitySelector(k)
}

func (e *TestMetricExporter) Aggregation(k sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return sdkmetric.DefaultAggregationSelector(k)
}

func (e *TestMetricExporter) Export(_ context.Context, rm *metricdata.ResourceMetrics) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.exported = append(e.exported, *rm)
	return nil
}

func (e *TestMetricExporter) ForceFlush(context.Context) error { return nil }

func (e *TestMetricExporter) Shutdown(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.shutdown = true
	return nil
}

// Exported returns the batches exported so far.
func (e *TestMetricExporter) Exported() []metricdata.ResourceMetrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]metricdata.ResourceMetrics(nil), e.exported...)
}

// IsShutdown reports whether Shutdown was called.
func (e *TestMetricExporter) IsShutdown() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shutdown
}
