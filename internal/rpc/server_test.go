package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/fyrsmithlabs/traceboot/internal/instrument"
	"github.com/fyrsmithlabs/traceboot/internal/logging"
)

func mountTestServer(t *testing.T, hooks *instrument.Hooks) (*Server, healthpb.HealthClient) {
	t.Helper()
	s, err := NewServer(logging.NewNop(), &Config{Host: "127.0.0.1", Port: 0, Service: "checkout"}, WithHooks(hooks))
	require.NoError(t, err)
	require.NoError(t, s.Mount(context.Background()))
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	conn, err := grpc.NewClient(s.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return s, healthpb.NewHealthClient(conn)
}

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(nil, &Config{})
	assert.Error(t, err)

	_, err = NewServer(logging.NewNop(), nil)
	assert.Error(t, err)
}

func TestServer_HealthServing(t *testing.T) {
	_, client := mountTestServer(t, instrument.NewHooks())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, service := range []string{"", "checkout"} {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		require.NoError(t, err, "service %q", service)
		assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
	}

	_, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: "unknown"})
	assert.Error(t, err)
}

func TestServer_MountTwice(t *testing.T) {
	s, _ := mountTestServer(t, instrument.NewHooks())
	err := s.Mount(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already mounted")
}

func TestServer_XHRTracing(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	hooks := instrument.NewHooks(instrument.WithTracerProvider(tp))

	_, client := mountTestServer(t, hooks)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Empty(t, rec.Ended(), "no spans until xhr is attached")

	require.NoError(t, hooks.Attach(instrument.NewSet(instrument.XHR)))
	t.Cleanup(hooks.Detach)

	_, err = client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		for _, s := range rec.Ended() {
			if s.SpanKind() == trace.SpanKindServer {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_Shutdown(t *testing.T) {
	s, client := mountTestServer(t, instrument.NewHooks())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	assert.NoError(t, s.Shutdown(ctx), "second shutdown is a no-op")

	short, cancelShort := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancelShort()
	_, err := client.Check(short, &healthpb.HealthCheckRequest{})
	assert.Error(t, err)
}
