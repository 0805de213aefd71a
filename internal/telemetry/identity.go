package telemetry

import "errors"

const (
	defaultServiceName    = "traceboot"
	defaultServiceVersion = "0.1.0"
	defaultEnvironment    = "development"

	// ProductionEnvironment is the one environment name that selects batched
	// span processing under automatic batching.
	ProductionEnvironment = "production"
)

// ServiceIdentity tags every signal the process emits.
type ServiceIdentity struct {
	Name        string `koanf:"name" json:"name"`
	Version     string `koanf:"version" json:"version"`
	Environment string `koanf:"environment" json:"environment"`
}

// NewDefaultIdentity returns the identity used when nothing overrides it.
func NewDefaultIdentity() ServiceIdentity {
	return ServiceIdentity{
		Name:        defaultServiceName,
		Version:     defaultServiceVersion,
		Environment: defaultEnvironment,
	}
}

// Validate checks that the identity can name a service.
func (id ServiceIdentity) Validate() error {
	if id.Name == "" {
		return errors.New("service name is required")
	}
	return nil
}

// withDefaults fills an empty version only. An empty environment is kept
// as-is so it resolves like any other non-production value.
func (id ServiceIdentity) withDefaults() ServiceIdentity {
	if id.Version == "" {
		id.Version = defaultServiceVersion
	}
	return id
}
