package telemetry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/traceboot/internal/instrument"
	"github.com/fyrsmithlabs/traceboot/internal/logging"
)

// State is the lifecycle of one Bootstrapper.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateActive
	StateDisabled
	StateShuttingDown
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateDisabled:
		return "disabled"
	case StateShuttingDown:
		return "shutting_down"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Option configures a Bootstrapper.
type Option func(*options)

type options struct {
	resourceFactory       ResourceFactory
	providerFactory       ProviderFactory
	exporterFactory       ExporterFactory
	metricExporterFactory MetricExporterFactory
	registrar             Registrar
	hooks                 *instrument.Hooks
	registerer            prometheus.Registerer
}

// WithResourceFactory replaces resource construction.
func WithResourceFactory(f ResourceFactory) Option {
	return func(o *options) { o.resourceFactory = f }
}

// WithProviderFactory replaces tracer provider construction.
func WithProviderFactory(f ProviderFactory) Option {
	return func(o *options) { o.providerFactory = f }
}

// WithExporterFactory replaces span exporter construction.
func WithExporterFactory(f ExporterFactory) Option {
	return func(o *options) { o.exporterFactory = f }
}

// WithSpanExporter uses exp regardless of protocol (for testing).
func WithSpanExporter(exp sdktrace.SpanExporter) Option {
	return WithExporterFactory(func(context.Context, Plan) (sdktrace.SpanExporter, error) {
		return exp, nil
	})
}

// WithMetricExporter uses exp for the metrics pipeline (for testing).
func WithMetricExporter(exp metric.Exporter) Option {
	return func(o *options) {
		o.metricExporterFactory = func(context.Context, Plan) (metric.Exporter, error) {
			return exp, nil
		}
	}
}

// WithRegistrar replaces the process-wide registration slot.
func WithRegistrar(r Registrar) Option {
	return func(o *options) { o.registrar = r }
}

// WithHooks sets the instrumentation hooks to attach. Defaults to
// instrument.Default.
func WithHooks(h *instrument.Hooks) Option {
	return func(o *options) { o.hooks = h }
}

// WithPrometheus exports bootstrap outcome metrics on reg.
func WithPrometheus(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// Bootstrapper runs the tracing bootstrap once and owns what it built.
//
// Start never panics and never returns an error: every failure is logged
// once and yields the zero Handle, and the host carries on untraced.
type Bootstrapper struct {
	id      ServiceIdentity
	cfg     *Config
	logger  *logging.Logger
	opts    options
	metrics *selfMetrics

	mu     sync.Mutex // serializes Start and Shutdown
	state  atomic.Int32
	plan   atomic.Pointer[Plan]
	handle atomic.Pointer[Handle]
	detach []func()
}

// New creates a Bootstrapper in StateUninitialized.
func New(id ServiceIdentity, cfg *Config, logger *logging.Logger, opts ...Option) *Bootstrapper {
	if logger == nil {
		logger = logging.NewNop()
	}
	o := options{
		resourceFactory:       newResource,
		providerFactory:       newTracerProvider,
		exporterFactory:       newSpanExporter,
		metricExporterFactory: newMetricExporter,
		registrar:             GlobalRegistrar,
		hooks:                 instrument.Default,
	}
	for _, opt := range opts {
		opt(&o)
	}
	b := &Bootstrapper{
		id:      id,
		cfg:     cfg,
		logger:  logger.Named("telemetry"),
		opts:    o,
		metrics: newSelfMetrics(o.registerer),
	}
	b.metrics.setState(StateUninitialized)
	return b
}

// Bootstrap is New followed by Start.
func Bootstrap(ctx context.Context, id ServiceIdentity, cfg *Config, logger *logging.Logger, opts ...Option) Handle {
	return New(id, cfg, logger, opts...).Start(ctx)
}

// State returns the current lifecycle state.
func (b *Bootstrapper) State() State {
	return State(b.state.Load())
}

// Plan returns the resolved plan once Start has resolved it.
func (b *Bootstrapper) Plan() (Plan, bool) {
	p := b.plan.Load()
	if p == nil {
		return Plan{}, false
	}
	return *p, true
}

// Handle returns the handle Start produced, or the zero Handle.
func (b *Bootstrapper) Handle() Handle {
	h := b.handle.Load()
	if h == nil {
		return Handle{}
	}
	return *h
}

func (b *Bootstrapper) setState(s State) {
	b.state.Store(int32(s))
	b.metrics.setState(s)
}

// Start runs the bootstrap. It may be called once; later calls log a
// registration error and return the zero Handle.
func (b *Bootstrapper) Start(ctx context.Context) Handle {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.state.CompareAndSwap(int32(StateUninitialized), int32(StateInitializing)) {
		b.fail(ctx, stepError(StepRegister, fmt.Errorf("%w: bootstrap already ran (state %s)", ErrRegistration, b.State())))
		return Handle{}
	}
	b.metrics.setState(StateInitializing)

	h, err := b.run(ctx)
	if err != nil {
		b.setState(StateDisabled)
		b.fail(ctx, err)
		return Handle{}
	}
	if !h.Active() {
		b.setState(StateDisabled)
		b.metrics.recordBootstrap("disabled", "")
		b.logger.Info(ctx, "tracing disabled by configuration")
		return Handle{}
	}

	b.handle.Store(&h)
	b.setState(StateActive)
	b.metrics.recordBootstrap("active", "")

	plan, _ := b.Plan()
	b.logger.Info(ctx, "tracing initialized",
		zap.String("service_name", plan.Identity.Name),
		zap.String("version", plan.Identity.Version),
		zap.String("environment", plan.Identity.Environment),
		zap.String("protocol", plan.Protocol),
		zap.String("endpoint", plan.Endpoint),
		zap.Stringer("batching", plan.Batching),
		zap.Strings("auto_instrument", plan.Instrument.Strings()),
		zap.Bool("metrics", plan.Metrics.Enabled),
		logging.SecretKeys("headers", b.cfg.Headers),
	)
	return h
}

// fail is the single error log line of a failed bootstrap.
func (b *Bootstrapper) fail(ctx context.Context, err *BootstrapError) {
	b.metrics.recordBootstrap("failed", err.Step)
	b.logger.Error(ctx, "tracing bootstrap failed",
		zap.String("step", string(err.Step)),
		zap.String("kind", KindName(err)),
		zap.Error(err.Err),
	)
}

type undoFunc struct {
	name string
	fn   func(context.Context) error
}

// run executes the steps in order. On failure everything built so far is
// released in reverse order before the error is returned.
func (b *Bootstrapper) run(ctx context.Context) (_ Handle, failure *BootstrapError) {
	var (
		undo   []undoFunc
		detach []func()
	)
	defer func() {
		if failure == nil {
			return
		}
		b.unwind(ctx, undo)
	}()

	step := func(s Step, fn func() error) (err *BootstrapError) {
		defer func() {
			if r := recover(); r != nil {
				err = stepError(s, fmt.Errorf("panic: %v", r))
			}
		}()
		if e := fn(); e != nil {
			return stepError(s, e)
		}
		return nil
	}

	var plan Plan
	if err := step(StepPlan, func() error {
		p, err := Resolve(b.id, b.cfg)
		if err != nil {
			return err
		}
		plan = p
		b.plan.Store(&p)
		if p.Enabled && p.Verify {
			return verifyEndpoint(ctx, p)
		}
		return nil
	}); err != nil {
		return Handle{}, err
	}
	if !plan.Enabled {
		return Handle{}, nil
	}
	if plan.Metrics.Skipped != "" {
		b.logger.Warn(ctx, "metrics export skipped", zap.String("reason", plan.Metrics.Skipped), zap.String("protocol", plan.Protocol))
	}

	var res *resource.Resource
	if err := step(StepResource, func() error {
		r, err := b.opts.resourceFactory(ctx, plan.Identity)
		if err != nil {
			return err
		}
		if r == nil {
			return fmt.Errorf("resource factory returned nil")
		}
		res = r
		return nil
	}); err != nil {
		return Handle{}, err
	}

	var tp *sdktrace.TracerProvider
	if err := step(StepProvider, func() error {
		p, err := b.opts.providerFactory(res, newSampler(plan.SampleRate))
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("provider factory returned nil")
		}
		tp = p
		undo = append(undo, undoFunc{"provider", tp.Shutdown})
		return nil
	}); err != nil {
		return Handle{}, err
	}

	var exporter sdktrace.SpanExporter
	if err := step(StepExporter, func() error {
		e, err := b.opts.exporterFactory(ctx, plan)
		if err != nil {
			return err
		}
		if e == nil {
			return fmt.Errorf("exporter factory returned nil")
		}
		exporter = e
		undo = append(undo, undoFunc{"exporter", exporter.Shutdown})
		return nil
	}); err != nil {
		return Handle{}, err
	}

	if err := step(StepProcessor, func() error {
		tp.RegisterSpanProcessor(newSpanProcessor(plan, exporter))
		return nil
	}); err != nil {
		return Handle{}, err
	}

	if err := step(StepRegister, func() error {
		release, err := b.opts.registrar.RegisterTracing(tp, NewPropagator())
		if err != nil {
			return err
		}
		undo = append(undo, undoFunc{"registration", func(context.Context) error { release(); return nil }})
		detach = append(detach, release)
		return nil
	}); err != nil {
		return Handle{}, err
	}

	if !plan.Instrument.Empty() {
		if err := step(StepInstrument, func() error {
			hooks := b.opts.hooks
			if err := hooks.Attach(plan.Instrument); err != nil {
				return fmt.Errorf("%w: %v", ErrRegistration, err)
			}
			undo = append(undo, undoFunc{"instrument", func(context.Context) error { hooks.Detach(); return nil }})
			detach = append(detach, hooks.Detach)
			return nil
		}); err != nil {
			return Handle{}, err
		}
	}

	var tracer trace.Tracer
	if err := step(StepTracer, func() error {
		tracer = tp.Tracer(plan.Identity.Name, trace.WithInstrumentationVersion(plan.Identity.Version))
		if tracer == nil {
			return fmt.Errorf("provider returned nil tracer")
		}
		return nil
	}); err != nil {
		return Handle{}, err
	}

	var mp *metric.MeterProvider
	if plan.Metrics.Enabled {
		if err := step(StepMetrics, func() error {
			exp, err := b.opts.metricExporterFactory(ctx, plan)
			if err != nil {
				return err
			}
			if exp == nil {
				return fmt.Errorf("metric exporter factory returned nil")
			}
			mp = metric.NewMeterProvider(
				metric.WithResource(res),
				metric.WithReader(metric.NewPeriodicReader(exp, metric.WithInterval(plan.Metrics.Interval))),
			)
			undo = append(undo, undoFunc{"meter provider", mp.Shutdown})
			release := b.opts.registrar.RegisterMetrics(mp)
			undo = append(undo, undoFunc{"meter registration", func(context.Context) error { release(); return nil }})
			detach = append(detach, release)
			return nil
		}); err != nil {
			return Handle{}, err
		}
	}

	b.detach = detach
	return newHandle(tracer, tp, mp, b), nil
}

// unwind releases partially built state. Errors are logged at debug level
// only, the failure itself has already been decided.
func (b *Bootstrapper) unwind(ctx context.Context, undo []undoFunc) {
	timeout := b.cfg.shutdownTimeout()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	for i := len(undo) - 1; i >= 0; i-- {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Debug(ctx, "cleanup panicked", zap.String("resource", undo[i].name), zap.Any("panic", r))
				}
			}()
			if err := undo[i].fn(ctx); err != nil {
				b.logger.Debug(ctx, "cleanup failed", zap.String("resource", undo[i].name), zap.Error(err))
			}
		}()
	}
}

// shutdownTimeout tolerates a nil or zero-valued config.
func (c *Config) shutdownTimeout() time.Duration {
	if c == nil || c.Shutdown.Timeout.Duration() <= 0 {
		return 5 * time.Second
	}
	return c.Shutdown.Timeout.Duration()
}
