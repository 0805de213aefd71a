package http

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatusResponse is the response body for GET /api/v1/status.
type StatusResponse struct {
	Status          string                `json:"status"`
	Service         string                `json:"service,omitempty"`
	Version         string                `json:"version,omitempty"`
	Tracing         string                `json:"tracing"` // "disabled" or the bootstrap state
	Instrumentation InstrumentationStatus `json:"instrumentation"`
}

// InstrumentationStatus lists the attached auto-instrumentation categories.
type InstrumentationStatus struct {
	Attached []string `json:"attached"`
}
