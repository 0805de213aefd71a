// Package config assembles the traceboot configuration from defaults, an
// optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/traceboot/internal/config"
	"github.com/fyrsmithlabs/traceboot/internal/logging"
	"github.com/fyrsmithlabs/traceboot/internal/telemetry"
)

// EnvPrefix prefixes every traceboot-specific environment variable.
const EnvPrefix = "traceboot"

// Config holds the complete traceboot configuration.
type Config struct {
	Service telemetry.ServiceIdentity `koanf:"service"`
	Server  ServerConfig              `koanf:"server"`
	Logging logging.Config            `koanf:"logging"`
	Tracing telemetry.Config          `koanf:"tracing"`
}

// ServerConfig holds host listener configuration.
type ServerConfig struct {
	Host            string          `koanf:"host"`
	HTTPPort        int             `koanf:"http_port"` // 0 picks a free port
	GRPCPort        int             `koanf:"grpc_port"` // 0 disables the gRPC health server
	ShutdownTimeout config.Duration `koanf:"shutdown_timeout"`
}

// standardEnv maps the conventional variable names onto config keys. They
// take precedence over TRACEBOOT_ equivalents.
var standardEnv = map[string]string{
	"OTEL_SERVICE_NAME":           "service.name",
	"APP_VERSION":                 "service.version",
	"ENVIRONMENT":                 "service.environment",
	"OTEL_EXPORTER_OTLP_ENDPOINT": "tracing.endpoint",
	"OTEL_EXPORTER_OTLP_HEADERS":  "tracing.headers",
	"OTEL_TRACES_SAMPLER_ARG":     "tracing.sampling.rate",
}

// NewDefaultConfig returns the configuration used when nothing overrides it.
func NewDefaultConfig() *Config {
	return &Config{
		Service: telemetry.NewDefaultIdentity(),
		Server: ServerConfig{
			Host:            "0.0.0.0",
			HTTPPort:        8080,
			GRPCPort:        0,
			ShutdownTimeout: config.Duration(10 * time.Second),
		},
		Logging: *logging.NewDefaultConfig(),
		Tracing: *telemetry.NewDefaultConfig(),
	}
}

// Load reads configuration.
//
// Precedence (highest to lowest):
//  1. OTEL_SERVICE_NAME, APP_VERSION, ENVIRONMENT, OTEL_EXPORTER_OTLP_*
//  2. TRACEBOOT_<SECTION>_<KEY>, e.g. TRACEBOOT_TRACING_PROTOCOL
//  3. YAML file at path, if it exists
//  4. Defaults
func Load(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	err := config.Load(path, cfg,
		config.PrefixedEnv(EnvPrefix, config.Keys(cfg)),
		config.AliasEnv(standardEnv),
	)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks every section and reports all problems together.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Service.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("service: %w", err))
	}
	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("server: %w", err))
	}
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}
	// Tracing problems are the bootstrap's to report; a bad tracing section
	// must never stop the host from starting. Only the launch timing is
	// checked here because Launch needs it before the bootstrap runs.
	if _, err := telemetry.ParseTiming(c.Tracing.Timing); err != nil {
		errs = append(errs, fmt.Errorf("tracing: %w", err))
	}
	return errors.Join(errs...)
}

// Validate checks listener settings.
func (s ServerConfig) Validate() error {
	if s.HTTPPort < 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("http_port must be 0-65535, got %d", s.HTTPPort)
	}
	if s.GRPCPort < 0 || s.GRPCPort > 65535 {
		return fmt.Errorf("grpc_port must be 0-65535, got %d", s.GRPCPort)
	}
	if s.GRPCPort != 0 && s.GRPCPort == s.HTTPPort {
		return fmt.Errorf("grpc_port and http_port must differ")
	}
	if s.ShutdownTimeout.Duration() <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}
	return nil
}

// Policy returns the launch policy for the configured timing.
func (c *Config) Policy() (telemetry.Policy, error) {
	timing, err := telemetry.ParseTiming(c.Tracing.Timing)
	if err != nil {
		return telemetry.Policy{}, err
	}
	return telemetry.Policy{Timing: timing, TolerateFailure: c.Tracing.TolerateFailure}, nil
}
