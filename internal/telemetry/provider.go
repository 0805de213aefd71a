package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

var noopTracer = noop.NewTracerProvider().Tracer("")

// ProviderFactory builds the tracer provider for step 2. Span processors
// are registered on it afterwards.
type ProviderFactory func(res *resource.Resource, sampler sdktrace.Sampler) (*sdktrace.TracerProvider, error)

func newTracerProvider(res *resource.Resource, sampler sdktrace.Sampler) (*sdktrace.TracerProvider, error) {
	if res == nil {
		return nil, fmt.Errorf("%w: nil resource", ErrConfiguration)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	), nil
}

// newSampler maps a ratio onto a parent-based sampler so remote sampling
// decisions carried by traceparent are honored.
func newSampler(rate float64) sdktrace.Sampler {
	var sampler sdktrace.Sampler
	switch {
	case rate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case rate <= 0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(rate)
	}
	return sdktrace.ParentBased(sampler)
}

// newSpanProcessor selects the processor for the batching mode.
func newSpanProcessor(plan Plan, exporter sdktrace.SpanExporter) sdktrace.SpanProcessor {
	if plan.Batching == Batched {
		return sdktrace.NewBatchSpanProcessor(exporter,
			sdktrace.WithBatchTimeout(plan.Batch.Timeout.Duration()),
			sdktrace.WithExportTimeout(plan.Batch.ExportTimeout.Duration()),
			sdktrace.WithMaxExportBatchSize(plan.Batch.MaxSize),
			sdktrace.WithMaxQueueSize(plan.Batch.MaxQueueSize),
		)
	}
	return sdktrace.NewSimpleSpanProcessor(exporter)
}
