package telemetry

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/fyrsmithlabs/traceboot/internal/instrument"
)

// BatchingMode selects the span processor.
type BatchingMode int

const (
	// Immediate exports each span synchronously as it ends.
	Immediate BatchingMode = iota
	// Batched buffers spans and exports them in groups.
	Batched
)

func (m BatchingMode) String() string {
	if m == Batched {
		return BatchingBatched
	}
	return BatchingImmediate
}

// ResolveBatching turns a batching setting into a mode. "auto" (or empty)
// picks Batched for exactly the production environment and Immediate for
// everything else, including an empty environment.
func ResolveBatching(setting, environment string) (BatchingMode, error) {
	switch setting {
	case BatchingAuto, "":
		if environment == ProductionEnvironment {
			return Batched, nil
		}
		return Immediate, nil
	case BatchingImmediate:
		return Immediate, nil
	case BatchingBatched:
		return Batched, nil
	default:
		return Immediate, fmt.Errorf("unknown batching setting %q", setting)
	}
}

// Plan is the bootstrap configuration resolved once from Config. Every
// branch the bootstrap takes reads the Plan.
type Plan struct {
	Identity ServiceIdentity
	Enabled  bool

	Protocol string
	// Endpoint is the URL for http/protobuf and host:port for grpc.
	Endpoint string
	Insecure bool
	Headers  map[string]string

	Batching BatchingMode
	Batch    BatchConfig

	SampleRate float64
	Instrument instrument.Set

	Verify        bool
	VerifyTimeout time.Duration

	Metrics MetricsPlan

	ShutdownTimeout time.Duration
}

// MetricsPlan describes the optional OTLP metrics pipeline.
type MetricsPlan struct {
	Enabled  bool
	Endpoint string
	Interval time.Duration
	// Skipped explains why metrics were requested but not planned.
	Skipped string
}

// Resolve validates cfg and derives the Plan. Every failure is a
// configuration error.
func Resolve(id ServiceIdentity, cfg *Config) (Plan, error) {
	if cfg == nil {
		return Plan{}, fmt.Errorf("%w: nil tracing config", ErrConfiguration)
	}
	id = id.withDefaults()
	plan := Plan{
		Identity:        id,
		Enabled:         cfg.Enabled,
		ShutdownTimeout: cfg.Shutdown.Timeout.Duration(),
	}
	if !cfg.Enabled {
		return plan, nil
	}

	if err := id.Validate(); err != nil {
		return Plan{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if err := cfg.Validate(); err != nil {
		return Plan{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	batching, err := ResolveBatching(cfg.Batching, id.Environment)
	if err != nil {
		return Plan{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	set, err := instrument.ParseSet(cfg.AutoInstrument)
	if err != nil {
		return Plan{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	plan.Protocol = cfg.Protocol
	plan.Headers = cfg.Headers.Values()
	plan.Batching = batching
	plan.Batch = cfg.Batch
	plan.SampleRate = cfg.Sampling.Rate
	plan.Instrument = set
	plan.Verify = cfg.Verify.Enabled && cfg.Protocol != ProtocolConsole
	plan.VerifyTimeout = cfg.Verify.Timeout.Duration()

	switch cfg.Protocol {
	case ProtocolHTTP:
		u, err := parseHTTPEndpoint(cfg.Endpoint)
		if err != nil {
			return Plan{}, err
		}
		plan.Endpoint = u.String()
		plan.Insecure = u.Scheme == "http"
	case ProtocolGRPC:
		raw := cfg.Endpoint
		if raw == DefaultEndpoint {
			raw = DefaultGRPCEndpoint
		}
		hostport, insecure, err := parseGRPCEndpoint(raw)
		if err != nil {
			return Plan{}, err
		}
		plan.Endpoint = hostport
		plan.Insecure = insecure || cfg.Insecure
	case ProtocolConsole:
		plan.Endpoint = ""
	}

	if cfg.Metrics.Enabled {
		plan.Metrics = planMetrics(plan, cfg.Metrics)
	}
	return plan, nil
}

func parseHTTPEndpoint(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed endpoint %q: %v", ErrConfiguration, raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: endpoint %q must use http or https", ErrConfiguration, raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: endpoint %q has no host", ErrConfiguration, raw)
	}
	return u, nil
}

// parseGRPCEndpoint accepts host:port or an http(s) URL. An http URL
// implies a plaintext connection.
func parseGRPCEndpoint(raw string) (hostport string, insecure bool, err error) {
	if strings.Contains(raw, "://") {
		u, err := parseHTTPEndpoint(raw)
		if err != nil {
			return "", false, err
		}
		hostport = u.Host
		insecure = u.Scheme == "http"
		if u.Port() == "" {
			hostport = net.JoinHostPort(u.Hostname(), "4317")
		}
		return hostport, insecure, nil
	}
	host, port, err := net.SplitHostPort(raw)
	if err != nil || host == "" || port == "" {
		return "", false, fmt.Errorf("%w: grpc endpoint %q must be host:port", ErrConfiguration, raw)
	}
	return raw, false, nil
}

func planMetrics(plan Plan, cfg MetricsConfig) MetricsPlan {
	mp := MetricsPlan{Interval: cfg.ExportInterval.Duration()}
	switch plan.Protocol {
	case ProtocolHTTP:
		mp.Enabled = true
		mp.Endpoint = metricsURL(plan.Endpoint)
	case ProtocolGRPC:
		mp.Enabled = true
		mp.Endpoint = plan.Endpoint
	default:
		mp.Skipped = "metrics export needs an OTLP protocol"
	}
	return mp
}

// metricsURL points a traces URL at the sibling metrics path.
func metricsURL(traces string) string {
	u, err := url.Parse(traces)
	if err != nil {
		return traces
	}
	if strings.HasSuffix(u.Path, "/v1/traces") {
		u.Path = strings.TrimSuffix(u.Path, "/v1/traces") + "/v1/metrics"
	} else {
		u.Path = "/v1/metrics"
	}
	return u.String()
}

// dialAddress is the host:port the reachability check connects to.
func (p Plan) dialAddress() string {
	if p.Protocol != ProtocolHTTP {
		return p.Endpoint
	}
	u, err := url.Parse(p.Endpoint)
	if err != nil {
		return p.Endpoint
	}
	if u.Port() != "" {
		return u.Host
	}
	port := "80"
	if u.Scheme == "https" {
		port = "443"
	}
	return net.JoinHostPort(u.Hostname(), port)
}
