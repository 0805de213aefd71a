package telemetry

import (
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Registrar owns the process-wide "active backend" slot.
type Registrar interface {
	// RegisterTracing installs tp and prop. It fails with ErrRegistration
	// while another provider holds the slot. release frees the slot.
	RegisterTracing(tp trace.TracerProvider, prop propagation.TextMapPropagator) (release func(), err error)
	// RegisterMetrics installs mp and returns a function restoring a no-op.
	RegisterMetrics(mp metric.MeterProvider) (release func())
}

// NewPropagator returns the W3C TraceContext and Baggage propagators.
func NewPropagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
}

// GlobalRegistrar writes the otel global providers.
var GlobalRegistrar Registrar = &globalRegistrar{}

type globalRegistrar struct {
	mu     sync.Mutex
	active bool
}

func (g *globalRegistrar) RegisterTracing(tp trace.TracerProvider, prop propagation.TextMapPropagator) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.active {
		return nil, fmt.Errorf("%w: a tracer provider is already registered for this process", ErrRegistration)
	}
	g.active = true
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(prop)

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			otel.SetTracerProvider(noop.NewTracerProvider())
			otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator())
			g.active = false
		})
	}, nil
}

func (g *globalRegistrar) RegisterMetrics(mp metric.MeterProvider) func() {
	otel.SetMeterProvider(mp)
	var once sync.Once
	return func() {
		once.Do(func() { otel.SetMeterProvider(metricnoop.NewMeterProvider()) })
	}
}
