package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/fyrsmithlabs/traceboot/internal/instrument"
)

func TestResolveBatching_ProductionOnly(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		env := rapid.OneOf(
			rapid.String(),
			rapid.SampledFrom([]string{"production", "Production", "production ", "staging", "development", ""}),
		).Draw(t, "environment")

		mode, err := ResolveBatching(BatchingAuto, env)
		if err != nil {
			t.Fatalf("auto batching failed: %v", err)
		}
		want := Immediate
		if env == "production" {
			want = Batched
		}
		if mode != want {
			t.Fatalf("environment %q: got %s, want %s", env, mode, want)
		}
	})
}

func TestResolveBatching_Overrides(t *testing.T) {
	mode, err := ResolveBatching(BatchingBatched, "development")
	require.NoError(t, err)
	assert.Equal(t, Batched, mode)

	mode, err = ResolveBatching(BatchingImmediate, ProductionEnvironment)
	require.NoError(t, err)
	assert.Equal(t, Immediate, mode)

	mode, err = ResolveBatching("", ProductionEnvironment)
	require.NoError(t, err)
	assert.Equal(t, Batched, mode, "empty setting behaves like auto")

	_, err = ResolveBatching("sometimes", "development")
	require.Error(t, err)
}

func TestResolve_Defaults(t *testing.T) {
	plan, err := Resolve(NewDefaultIdentity(), NewDefaultConfig())
	require.NoError(t, err)

	assert.True(t, plan.Enabled)
	assert.Equal(t, ProtocolHTTP, plan.Protocol)
	assert.Equal(t, DefaultEndpoint, plan.Endpoint)
	assert.True(t, plan.Insecure)
	assert.Equal(t, Immediate, plan.Batching)
	assert.True(t, plan.Instrument.Empty())
	assert.False(t, plan.Metrics.Enabled)
	assert.Equal(t, "localhost:4318", plan.dialAddress())
}

func TestResolve_FillsVersion(t *testing.T) {
	plan, err := Resolve(ServiceIdentity{Name: "svc"}, NewDefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, "0.1.0", plan.Identity.Version)
	assert.Equal(t, "", plan.Identity.Environment)
	assert.Equal(t, Immediate, plan.Batching)
}

func TestResolve_Disabled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = false
	cfg.Endpoint = "::not a url::"

	plan, err := Resolve(NewDefaultIdentity(), cfg)
	require.NoError(t, err, "disabled config is not validated")
	assert.False(t, plan.Enabled)
}

func TestResolve_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		id     ServiceIdentity
		mutate func(*Config)
	}{
		{"missing service name", ServiceIdentity{}, func(*Config) {}},
		{"ftp scheme", NewDefaultIdentity(), func(c *Config) { c.Endpoint = "ftp://collector:4318/v1/traces" }},
		{"no scheme", NewDefaultIdentity(), func(c *Config) { c.Endpoint = "collector:4318" }},
		{"no host", NewDefaultIdentity(), func(c *Config) { c.Endpoint = "http:///v1/traces" }},
		{"unparsable", NewDefaultIdentity(), func(c *Config) { c.Endpoint = "http://[::1" }},
		{"grpc without port", NewDefaultIdentity(), func(c *Config) { c.Protocol = ProtocolGRPC; c.Endpoint = "collector" }},
		{"unknown protocol", NewDefaultIdentity(), func(c *Config) { c.Protocol = "zipkin" }},
		{"unknown batching", NewDefaultIdentity(), func(c *Config) { c.Batching = "sometimes" }},
		{"unknown category", NewDefaultIdentity(), func(c *Config) { c.AutoInstrument = []string{"clicks"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)

			_, err := Resolve(tt.id, cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfiguration)
		})
	}
}

func TestResolve_GRPCEndpoints(t *testing.T) {
	tests := []struct {
		endpoint     string
		insecureFlag bool
		wantEndpoint string
		wantInsecure bool
	}{
		{"collector:4317", false, "collector:4317", false},
		{"collector:4317", true, "collector:4317", true},
		{"http://collector:4317", false, "collector:4317", true},
		{"https://collector", false, "collector:4317", false},
		{DefaultEndpoint, false, "localhost:4317", true},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			cfg := NewDefaultConfig()
			cfg.Protocol = ProtocolGRPC
			cfg.Endpoint = tt.endpoint
			cfg.Insecure = tt.insecureFlag

			plan, err := Resolve(NewDefaultIdentity(), cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.wantEndpoint, plan.Endpoint)
			assert.Equal(t, tt.wantInsecure, plan.Insecure)
			assert.Equal(t, tt.wantEndpoint, plan.dialAddress())
		})
	}
}

func TestResolve_Metrics(t *testing.T) {
	t.Run("http derives sibling path", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Metrics.Enabled = true
		cfg.Endpoint = "https://otel.example.com/ingest/v1/traces"

		plan, err := Resolve(NewDefaultIdentity(), cfg)
		require.NoError(t, err)
		assert.True(t, plan.Metrics.Enabled)
		assert.Equal(t, "https://otel.example.com/ingest/v1/metrics", plan.Metrics.Endpoint)
		assert.Equal(t, "otel.example.com:443", plan.dialAddress())
	})

	t.Run("http without traces path", func(t *testing.T) {
		assert.Equal(t, "http://collector:4318/v1/metrics", metricsURL("http://collector:4318"))
	})

	t.Run("console skips metrics", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Metrics.Enabled = true
		cfg.Protocol = ProtocolConsole
		cfg.Verify.Enabled = true

		plan, err := Resolve(NewDefaultIdentity(), cfg)
		require.NoError(t, err)
		assert.False(t, plan.Metrics.Enabled)
		assert.NotEmpty(t, plan.Metrics.Skipped)
		assert.False(t, plan.Verify, "console has nothing to dial")
	})
}

func TestResolve_Instrumentation(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.AutoInstrument = []string{"page_load,fetch"}

	plan, err := Resolve(NewDefaultIdentity(), cfg)
	require.NoError(t, err)
	assert.True(t, plan.Instrument.Has(instrument.PageLoad))
	assert.True(t, plan.Instrument.Has(instrument.Fetch))
	assert.False(t, plan.Instrument.Has(instrument.XHR))
}
