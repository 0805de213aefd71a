package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/traceboot/internal/config"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "http://localhost:4318/v1/traces", cfg.Endpoint)
	assert.Equal(t, ProtocolHTTP, cfg.Protocol)
	assert.Equal(t, BatchingAuto, cfg.Batching)
	assert.Empty(t, cfg.AutoInstrument)
	assert.True(t, cfg.TolerateFailure)
	assert.Equal(t, 1.0, cfg.Sampling.Rate)
	assert.Equal(t, 5*time.Second, cfg.Shutdown.Timeout.Duration())
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"disabled skips validation", func(c *Config) { c.Enabled = false; c.Protocol = "bogus" }, ""},
		{"empty endpoint", func(c *Config) { c.Endpoint = "" }, "endpoint is required"},
		{"console needs no endpoint", func(c *Config) { c.Protocol = ProtocolConsole; c.Endpoint = "" }, ""},
		{"bad protocol", func(c *Config) { c.Protocol = "thrift" }, "protocol must be one of"},
		{"bad batching", func(c *Config) { c.Batching = "lazy" }, "batching must be one of"},
		{"sampling too high", func(c *Config) { c.Sampling.Rate = 1.5 }, "sampling.rate"},
		{"sampling negative", func(c *Config) { c.Sampling.Rate = -0.1 }, "sampling.rate"},
		{"zero batch timeout", func(c *Config) { c.Batch.Timeout = 0 }, "batch timeouts"},
		{"zero batch size", func(c *Config) { c.Batch.MaxSize = 0 }, "max_size"},
		{"batch larger than queue", func(c *Config) { c.Batch.MaxSize = 4096 }, "cannot exceed"},
		{"verify without timeout", func(c *Config) { c.Verify.Enabled = true; c.Verify.Timeout = 0 }, "verify.timeout"},
		{"metrics without interval", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.ExportInterval = 0 }, "export_interval"},
		{"zero shutdown timeout", func(c *Config) { c.Shutdown.Timeout = 0 }, "shutdown.timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestHeaders_UnmarshalText(t *testing.T) {
	var h Headers
	require.NoError(t, h.UnmarshalText([]byte("authorization=Bearer%20abc, x-tenant = blue ,,")))

	assert.Equal(t, config.Secret("Bearer abc"), h["authorization"])
	assert.Equal(t, config.Secret("blue"), h["x-tenant"])
	assert.Len(t, h, 2)
	assert.Equal(t, map[string]string{"authorization": "Bearer abc", "x-tenant": "blue"}, h.Values())
	assert.Equal(t, "[REDACTED]", h["authorization"].String())
}

func TestHeaders_UnmarshalTextErrors(t *testing.T) {
	var h Headers
	assert.Error(t, h.UnmarshalText([]byte("novalue")))
	assert.Error(t, h.UnmarshalText([]byte("=value")))
	assert.Error(t, h.UnmarshalText([]byte("key=%zz")))
}

func TestHeaders_EmptyValues(t *testing.T) {
	var h Headers
	assert.Nil(t, h.Values())
	require.NoError(t, h.UnmarshalText(nil))
	assert.Empty(t, h)
}
