package telemetry

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/fyrsmithlabs/traceboot/internal/config"
)

// Protocol names.
const (
	ProtocolHTTP    = "http/protobuf"
	ProtocolGRPC    = "grpc"
	ProtocolConsole = "console"
)

// Batching settings.
const (
	BatchingAuto      = "auto"
	BatchingImmediate = "immediate"
	BatchingBatched   = "batched"
)

// DefaultEndpoint is the collector URL used when none is configured.
const DefaultEndpoint = "http://localhost:4318/v1/traces"

// DefaultGRPCEndpoint replaces DefaultEndpoint when the protocol is grpc and
// the endpoint was left at its default.
const DefaultGRPCEndpoint = "http://localhost:4317"

// Config holds tracing configuration.
type Config struct {
	Enabled         bool           `koanf:"enabled"`
	Endpoint        string         `koanf:"endpoint"`
	Protocol        string         `koanf:"protocol"`
	Insecure        bool           `koanf:"insecure"` // grpc only; http derives it from the URL scheme
	Headers         Headers        `koanf:"headers"`
	Batching        string         `koanf:"batching"`
	Batch           BatchConfig    `koanf:"batch"`
	AutoInstrument  []string       `koanf:"auto_instrument"`
	Timing          string         `koanf:"timing"`
	TolerateFailure bool           `koanf:"tolerate_failure"`
	Verify          VerifyConfig   `koanf:"verify"`
	Sampling        SamplingConfig `koanf:"sampling"`
	Metrics         MetricsConfig  `koanf:"metrics"`
	Shutdown        ShutdownConfig `koanf:"shutdown"`
}

// BatchConfig tunes the batch span processor.
type BatchConfig struct {
	Timeout       config.Duration `koanf:"timeout"`
	ExportTimeout config.Duration `koanf:"export_timeout"`
	MaxSize       int             `koanf:"max_size"`
	MaxQueueSize  int             `koanf:"max_queue_size"`
}

// VerifyConfig controls the optional collector reachability check.
type VerifyConfig struct {
	Enabled bool            `koanf:"enabled"`
	Timeout config.Duration `koanf:"timeout"`
}

// SamplingConfig controls trace sampling behavior.
type SamplingConfig struct {
	Rate float64 `koanf:"rate"` // 0.0-1.0, default 1.0
}

// MetricsConfig controls OTLP metrics export alongside traces.
type MetricsConfig struct {
	Enabled        bool            `koanf:"enabled"`
	ExportInterval config.Duration `koanf:"export_interval"`
}

// ShutdownConfig controls graceful shutdown behavior.
type ShutdownConfig struct {
	Timeout config.Duration `koanf:"timeout"`
}

// NewDefaultConfig returns tracing defaults: enabled, OTLP/HTTP to a local
// collector, automatic batching, manual instrumentation only.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:  true,
		Endpoint: DefaultEndpoint,
		Protocol: ProtocolHTTP,
		Batching: BatchingAuto,
		Batch: BatchConfig{
			Timeout:       config.Duration(5 * time.Second),
			ExportTimeout: config.Duration(30 * time.Second),
			MaxSize:       512,
			MaxQueueSize:  2048,
		},
		Timing:          "before-mount",
		TolerateFailure: true,
		Verify: VerifyConfig{
			Enabled: false,
			Timeout: config.Duration(2 * time.Second),
		},
		Sampling: SamplingConfig{
			Rate: 1.0,
		},
		Metrics: MetricsConfig{
			Enabled:        false,
			ExportInterval: config.Duration(15 * time.Second),
		},
		Shutdown: ShutdownConfig{
			Timeout: config.Duration(5 * time.Second),
		},
	}
}

// Validate checks configuration for errors. Endpoint syntax is checked when
// the config is resolved into a Plan, since it depends on the protocol.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	switch c.Protocol {
	case ProtocolHTTP, ProtocolGRPC, ProtocolConsole:
	default:
		return fmt.Errorf("protocol must be one of %s, %s, %s; got %q", ProtocolHTTP, ProtocolGRPC, ProtocolConsole, c.Protocol)
	}

	if c.Protocol != ProtocolConsole && c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when tracing is enabled")
	}

	switch c.Batching {
	case BatchingAuto, BatchingImmediate, BatchingBatched:
	default:
		return fmt.Errorf("batching must be one of %s, %s, %s; got %q", BatchingAuto, BatchingImmediate, BatchingBatched, c.Batching)
	}

	if c.Sampling.Rate < 0 || c.Sampling.Rate > 1 {
		return fmt.Errorf("sampling.rate must be between 0 and 1, got %f", c.Sampling.Rate)
	}

	if c.Batch.Timeout.Duration() <= 0 || c.Batch.ExportTimeout.Duration() <= 0 {
		return fmt.Errorf("batch timeouts must be positive")
	}
	if c.Batch.MaxSize <= 0 || c.Batch.MaxQueueSize <= 0 {
		return fmt.Errorf("batch.max_size and batch.max_queue_size must be positive")
	}
	if c.Batch.MaxSize > c.Batch.MaxQueueSize {
		return fmt.Errorf("batch.max_size (%d) cannot exceed batch.max_queue_size (%d)", c.Batch.MaxSize, c.Batch.MaxQueueSize)
	}

	if c.Verify.Enabled && c.Verify.Timeout.Duration() <= 0 {
		return fmt.Errorf("verify.timeout must be positive when verify is enabled")
	}

	if c.Metrics.Enabled && c.Metrics.ExportInterval.Duration() <= 0 {
		return fmt.Errorf("metrics.export_interval must be positive when metrics enabled")
	}

	if c.Shutdown.Timeout.Duration() <= 0 {
		return fmt.Errorf("shutdown.timeout must be positive")
	}

	return nil
}

// Headers are extra request headers sent to the collector. Values are
// secrets. From text they parse in the OTEL_EXPORTER_OTLP_HEADERS form
// "key1=value1,key2=value2" with URL-escaped values.
type Headers map[string]config.Secret

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Headers) UnmarshalText(text []byte) error {
	parsed := Headers{}
	for _, pair := range strings.Split(string(text), ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return fmt.Errorf("invalid header %q: want key=value", pair)
		}
		val, err := url.PathUnescape(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid header %q: %w", k, err)
		}
		parsed[k] = config.Secret(val)
	}
	*h = parsed
	return nil
}

// Values returns the raw header values for exporter options.
func (h Headers) Values() map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v.Value()
	}
	return out
}
