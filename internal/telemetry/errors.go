package telemetry

import (
	"errors"
	"fmt"
)

// Error kinds. A BootstrapError matches its kind with errors.Is.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrTransport     = errors.New("transport error")
	ErrRegistration  = errors.New("registration error")
)

// Step names one stage of the bootstrap.
type Step string

// Bootstrap steps in execution order.
const (
	StepPlan       Step = "plan"
	StepResource   Step = "resource"
	StepProvider   Step = "provider"
	StepExporter   Step = "exporter"
	StepProcessor  Step = "processor"
	StepRegister   Step = "register"
	StepInstrument Step = "instrument"
	StepTracer     Step = "tracer"
	StepMetrics    Step = "metrics"
)

// defaultKind is the kind assigned to a step failure whose cause does not
// already carry one.
func (s Step) defaultKind() error {
	switch s {
	case StepExporter, StepMetrics:
		return ErrTransport
	case StepRegister, StepInstrument:
		return ErrRegistration
	default:
		return ErrConfiguration
	}
}

// BootstrapError records which step failed and why.
type BootstrapError struct {
	Kind error
	Step Step
	Err  error
}

func (e *BootstrapError) Error() string {
	return fmt.Sprintf("%s step: %v: %v", e.Step, e.Kind, e.Err)
}

// Unwrap exposes both the kind sentinel and the cause.
func (e *BootstrapError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// stepError wraps err for step, keeping a kind the cause already carries.
func stepError(step Step, err error) *BootstrapError {
	var be *BootstrapError
	if errors.As(err, &be) {
		return be
	}
	kind := step.defaultKind()
	for _, k := range []error{ErrConfiguration, ErrTransport, ErrRegistration} {
		if errors.Is(err, k) {
			kind = k
			break
		}
	}
	return &BootstrapError{Kind: kind, Step: step, Err: err}
}

// KindName returns the short name of err's kind for logs and metrics.
func KindName(err error) string {
	switch {
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrRegistration):
		return "registration"
	default:
		return "unknown"
	}
}
