package telemetry

import (
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Handle is the result of a bootstrap: a tracer and the provider behind it,
// both present or both absent. The zero Handle means tracing is off, and
// callers treat it exactly like never having bootstrapped.
type Handle struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
	meter    *sdkmetric.MeterProvider
	owner    *Bootstrapper
}

// newHandle returns the zero Handle unless both halves are present.
func newHandle(tracer trace.Tracer, provider *sdktrace.TracerProvider, meter *sdkmetric.MeterProvider, owner *Bootstrapper) Handle {
	if tracer == nil || provider == nil {
		return Handle{}
	}
	return Handle{tracer: tracer, provider: provider, meter: meter, owner: owner}
}

// Tracer returns the named tracer, or nil for the zero Handle.
func (h Handle) Tracer() trace.Tracer {
	return h.tracer
}

// Provider returns the tracer provider, or nil for the zero Handle.
func (h Handle) Provider() *sdktrace.TracerProvider {
	return h.provider
}

// MeterProvider returns the OTLP meter provider when metrics were planned.
func (h Handle) MeterProvider() *sdkmetric.MeterProvider {
	return h.meter
}

// Active reports whether the handle holds a tracer and provider.
func (h Handle) Active() bool {
	return h.tracer != nil && h.provider != nil
}

// TracerOrNoop returns the handle's tracer, falling back to a no-op tracer
// so callers never branch on presence.
func (h Handle) TracerOrNoop() trace.Tracer {
	if h.tracer != nil {
		return h.tracer
	}
	return noopTracer
}
