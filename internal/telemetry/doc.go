// Package telemetry decides whether, how, and with what fallback a process
// initializes distributed tracing.
//
// # Overview
//
// A Bootstrapper resolves the tracing Config into a Plan, then runs a fixed
// sequence of steps: resource, tracer provider, span exporter, span
// processor, process-wide registration, automatic instrumentation, named
// tracer and, optionally, an OTLP metrics pipeline. Each step's constructor
// can be replaced with an Option for tests.
//
// # Usage
//
//	b := telemetry.New(id, cfg, logger)
//	h := b.Start(ctx)
//	defer b.Shutdown(context.Background())
//
//	ctx, span := h.TracerOrNoop().Start(ctx, "work")
//	defer span.End()
//
// Hosts that mount before tracing is ready use Launch with a Policy:
//
//	l, err := telemetry.Launch(ctx, telemetry.Policy{Timing: telemetry.Deferred, TolerateFailure: true}, b, mount)
//
// # Configuration
//
//	tracing:
//	  enabled: true
//	  endpoint: "http://localhost:4318/v1/traces"
//	  protocol: "http/protobuf"   # or grpc, console
//	  batching: "auto"            # batched only in production
//	  auto_instrument: [page_load, fetch]
//	  sampling:
//	    rate: 1.0
//	  shutdown:
//	    timeout: "5s"
//
// # Error Handling
//
// Nothing escapes the bootstrap. A failing step, or a panic inside one,
// releases whatever was built, logs one "tracing bootstrap failed" line with
// the step and error kind, and yields the zero Handle. Hosts behave the same
// with or without a handle.
//
// # Testing
//
// TestTelemetry supplies in-memory exporters, a private registration slot
// and private instrumentation hooks:
//
//	tt := telemetry.NewTestTelemetry()
//	h := tt.New(id, cfg).Start(ctx)
//	_, span := h.Tracer().Start(ctx, "test-span")
//	span.End()
//	tt.AssertSpanExists(t, "test-span")
package telemetry
