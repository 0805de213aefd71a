package telemetry

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// selfMetrics counts bootstrap and shutdown outcomes.
//
// Metrics:
//   - traceboot_bootstrap_total{outcome,step} - outcome is active, disabled or failed
//   - traceboot_shutdown_total{outcome} - outcome is success or failure
//   - traceboot_tracing_state - current State as a number
type selfMetrics struct {
	bootstrap *prometheus.CounterVec
	shutdown  *prometheus.CounterVec
	state     prometheus.Gauge
}

// newSelfMetrics registers the collectors on reg, reusing collectors a
// previous Bootstrapper left there. A nil reg disables the metrics.
func newSelfMetrics(reg prometheus.Registerer) *selfMetrics {
	if reg == nil {
		return nil
	}
	m := &selfMetrics{
		bootstrap: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "traceboot_bootstrap_total",
			Help: "Tracing bootstrap outcomes by failing step",
		}, []string{"outcome", "step"}),
		shutdown: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "traceboot_shutdown_total",
			Help: "Tracing shutdown outcomes",
		}, []string{"outcome"}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "traceboot_tracing_state",
			Help: "Tracing lifecycle state (0 uninitialized, 1 initializing, 2 active, 3 disabled, 4 shutting down, 5 terminated)",
		}),
	}
	m.bootstrap = registerOrReuse(reg, m.bootstrap)
	m.shutdown = registerOrReuse(reg, m.shutdown)
	m.state = registerOrReuse(reg, m.state)
	return m
}

func registerOrReuse[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func (m *selfMetrics) recordBootstrap(outcome string, step Step) {
	if m == nil {
		return
	}
	m.bootstrap.WithLabelValues(outcome, string(step)).Inc()
}

func (m *selfMetrics) recordShutdown(outcome string) {
	if m == nil {
		return
	}
	m.shutdown.WithLabelValues(outcome).Inc()
}

func (m *selfMetrics) setState(s State) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
}
