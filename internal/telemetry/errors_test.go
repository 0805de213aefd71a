package telemetry

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBootstrapError_MatchesKindAndCause(t *testing.T) {
	cause := errors.New("dial refused")
	err := stepError(StepExporter, cause)

	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrConfiguration)
	assert.Equal(t, StepExporter, err.Step)
	assert.Contains(t, err.Error(), "exporter step")
	assert.Contains(t, err.Error(), "dial refused")
}

func TestStepError_KeepsCarriedKind(t *testing.T) {
	err := stepError(StepExporter, fmt.Errorf("%w: bad url", ErrConfiguration))
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Equal(t, "configuration", KindName(err))

	inner := stepError(StepRegister, errors.New("taken"))
	outer := stepError(StepPlan, fmt.Errorf("wrapped: %w", inner))
	assert.Same(t, inner, outer, "an existing BootstrapError is reused")
}

func TestStep_DefaultKinds(t *testing.T) {
	tests := map[Step]string{
		StepPlan:       "configuration",
		StepResource:   "configuration",
		StepProvider:   "configuration",
		StepExporter:   "transport",
		StepProcessor:  "configuration",
		StepRegister:   "registration",
		StepInstrument: "registration",
		StepTracer:     "configuration",
		StepMetrics:    "transport",
	}
	for step, want := range tests {
		assert.Equal(t, want, KindName(stepError(step, errors.New("x"))), step)
	}
	assert.Equal(t, "unknown", KindName(errors.New("plain")))
}
