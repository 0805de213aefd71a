package telemetry

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// environmentKey repeats the deployment environment under the short key
// dashboards already filter on.
const environmentKey = attribute.Key("environment")

// ResourceFactory builds the resource for step 1.
type ResourceFactory func(ctx context.Context, id ServiceIdentity) (*resource.Resource, error)

// newResource describes the service. OTEL_RESOURCE_ATTRIBUTES is merged
// in, but the identity wins on conflicting keys.
func newResource(ctx context.Context, id ServiceIdentity) (*resource.Resource, error) {
	// Built standalone: resource.Default() carries a different semconv
	// schema URL and merging the two fails.
	res, err := resource.New(ctx,
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithFromEnv(),
		resource.WithAttributes(
			semconv.ServiceName(id.Name),
			semconv.ServiceVersion(id.Version),
			semconv.ServiceInstanceID(uuid.NewString()),
			semconv.DeploymentEnvironment(id.Environment),
			environmentKey.String(id.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: building resource: %v", ErrConfiguration, err)
	}
	return res, nil
}
