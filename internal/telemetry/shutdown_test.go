package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/traceboot/internal/logging"
)

// brokenExporter fails to shut down.
type brokenExporter struct {
	*tracetest.InMemoryExporter
}

func (brokenExporter) Shutdown(context.Context) error {
	return errors.New("flush timed out")
}

func TestShutdown_ZeroHandleIsSilentNoop(t *testing.T) {
	logger := logging.NewTestLogger()

	assert.NotPanics(t, func() {
		Shutdown(context.Background(), Handle{}, logger.Logger)
		Shutdown(context.Background(), Handle{}, nil)
	})
	assert.Empty(t, logger.All())
}

func TestShutdown_DisabledBootstrapperIsNoop(t *testing.T) {
	tt := NewTestTelemetry()
	cfg := NewDefaultConfig()
	cfg.Enabled = false

	b := tt.New(devIdentity(), cfg)
	h := b.Start(context.Background())
	tt.Logger.Reset()

	Shutdown(context.Background(), h, nil)
	b.Shutdown(context.Background())

	assert.Empty(t, tt.Logger.All())
	assert.Equal(t, StateDisabled, b.State())
}

func TestShutdown_LogsExactlyOneSuccess(t *testing.T) {
	resetDebugSlot(t)
	tt := NewTestTelemetry()
	b := tt.New(devIdentity(), NewDefaultConfig())
	h := b.Start(context.Background())
	require.True(t, h.Active())
	require.True(t, PublishDebug(h))
	tt.Logger.Reset()

	Shutdown(context.Background(), h, nil)

	assert.Equal(t, 1, tt.Logger.FilterMessage("tracing terminated").Len())
	assert.Equal(t, 0, tt.Logger.FilterMessage("error terminating tracing").Len())
	assert.Len(t, tt.Logger.All(), 1)
	assert.Equal(t, StateTerminated, b.State())
	assert.False(t, tt.Registrar.Active(), "registration slot released")
	_, ok := DebugHandle()
	assert.False(t, ok, "debug slot cleared")
	assert.Equal(t, 1.0, testutil.ToFloat64(b.metrics.shutdown.WithLabelValues("success")))

	// At most once.
	Shutdown(context.Background(), h, nil)
	b.Shutdown(context.Background())
	assert.Len(t, tt.Logger.All(), 1)
}

func TestShutdown_LogsExactlyOneFailure(t *testing.T) {
	tt := NewTestTelemetry()
	b := tt.New(devIdentity(), NewDefaultConfig(),
		WithSpanExporter(brokenExporter{tracetest.NewInMemoryExporter()}),
	)
	require.True(t, b.Start(context.Background()).Active())
	tt.Logger.Reset()

	assert.NotPanics(t, func() { b.Shutdown(context.Background()) })

	assert.Equal(t, 1, tt.Logger.CountLevel(zapcore.ErrorLevel))
	tt.Logger.AssertLogged(t, zapcore.ErrorLevel, "error terminating tracing")
	tt.Logger.AssertNotLogged(t, zapcore.InfoLevel, "tracing terminated")
	assert.Equal(t, StateTerminated, b.State(), "a failed flush still terminates")
	assert.False(t, tt.Registrar.Active())
	assert.Equal(t, 1.0, testutil.ToFloat64(b.metrics.shutdown.WithLabelValues("failure")))
}

func TestShutdown_UsesCallerLogger(t *testing.T) {
	tt := NewTestTelemetry()
	b := tt.New(devIdentity(), NewDefaultConfig())
	h := b.Start(context.Background())
	require.True(t, h.Active())

	other := logging.NewTestLogger()
	Shutdown(context.Background(), h, other.Logger)

	other.AssertLogged(t, zapcore.InfoLevel, "tracing terminated")
	tt.Logger.AssertNotLogged(t, zapcore.InfoLevel, "tracing terminated")
}

func TestShutdown_FlushesPendingBatch(t *testing.T) {
	tt := NewTestTelemetry()
	id := devIdentity()
	id.Environment = ProductionEnvironment

	var exported int
	b := tt.New(id, NewDefaultConfig(), WithSpanExporter(countingExporter{tt.Exporter, &exported}))
	h := b.Start(context.Background())
	require.True(t, h.Active())

	_, span := h.Tracer().Start(context.Background(), "pending")
	span.End()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b.Shutdown(ctx)

	assert.Equal(t, 1, exported, "shutdown drains the batch queue")
}

// countingExporter counts spans before delegating, since the in-memory
// exporter forgets everything on shutdown.
type countingExporter struct {
	*tracetest.InMemoryExporter
	n *int
}

func (c countingExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	*c.n += len(spans)
	return c.InMemoryExporter.ExportSpans(ctx, spans)
}
