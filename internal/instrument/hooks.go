package instrument

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/embedded"
	"google.golang.org/grpc/stats"
)

const instrumentationName = "github.com/fyrsmithlabs/traceboot/internal/instrument"

// ErrAlreadyAttached is returned when a category is attached twice.
var ErrAlreadyAttached = errors.New("instrumentation already attached")

// Hooks owns the switchable adapters for one process. Default is the
// process-wide instance used by the bootstrap and the host.
type Hooks struct {
	mu       sync.Mutex
	active   map[Category]*atomic.Bool
	provider trace.TracerProvider

	transport *http.RoundTripper
	install   sync.Once

	// Commands currently running under WrapCommand.
	running map[*invocation]struct{}
}

// Option configures Hooks.
type Option func(*Hooks)

// WithTracerProvider pins the provider the adapters emit through. Without
// it they use the global provider, which follows whatever the bootstrap
// registers.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(h *Hooks) {
		h.provider = tp
	}
}

// WithTransportTarget sets the RoundTripper variable InstallTransport
// replaces. Defaults to &http.DefaultTransport.
func WithTransportTarget(rt *http.RoundTripper) Option {
	return func(h *Hooks) {
		h.transport = rt
	}
}

// Default is the process-wide hook set.
var Default = NewHooks()

// NewHooks creates an unattached hook set.
func NewHooks(opts ...Option) *Hooks {
	h := &Hooks{
		active:    make(map[Category]*atomic.Bool, len(Categories)),
		transport: &http.DefaultTransport,
		running:   make(map[*invocation]struct{}),
	}
	for _, c := range Categories {
		h.active[c] = &atomic.Bool{}
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hooks) tracerProvider() trace.TracerProvider {
	if h.provider != nil {
		return h.provider
	}
	return globalProvider{}
}

// globalProvider looks up the global provider on every span start. The
// contrib adapters resolve their tracer once, at construction, and hosts
// construct them before the bootstrap registers anything.
type globalProvider struct{ embedded.TracerProvider }

func (globalProvider) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	return globalTracer{name: name, opts: opts}
}

type globalTracer struct {
	embedded.Tracer

	name string
	opts []trace.TracerOption
}

func (g globalTracer) Start(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.GetTracerProvider().Tracer(g.name, g.opts...).Start(ctx, spanName, opts...)
}

// Attach activates every category in set. It is all-or-nothing: if any
// member is already active nothing changes and ErrAlreadyAttached is
// returned. Attaching UserInteraction opens spans for commands that are
// already running.
func (h *Hooks) Attach(set Set) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range set.List() {
		if h.active[c].Load() {
			return fmt.Errorf("%w: %s", ErrAlreadyAttached, c)
		}
	}
	for _, c := range set.List() {
		h.active[c].Store(true)
	}
	if set.Has(UserInteraction) {
		for inv := range h.running {
			if inv.span == nil {
				inv.span = h.startCommandSpan(inv)
			}
		}
	}
	return nil
}

// Detach deactivates every category. Command spans still open are ended
// first so they reach the provider before it is shut down.
func (h *Hooks) Detach() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for inv := range h.running {
		if inv.span != nil {
			inv.span.End()
			inv.span = nil
		}
	}
	for _, c := range Categories {
		h.active[c].Store(false)
	}
}

// Active reports whether c is attached.
func (h *Hooks) Active(c Category) bool {
	b, ok := h.active[c]
	return ok && b.Load()
}

// Attached returns the currently active categories.
func (h *Hooks) Attached() Set {
	var cs []Category
	for _, c := range Categories {
		if h.active[c].Load() {
			cs = append(cs, c)
		}
	}
	return NewSet(cs...)
}

// HTTPMiddleware wraps inbound handlers with otelhttp once PageLoad is
// attached. Until then requests pass straight through.
func (h *Hooks) HTTPMiddleware(operation string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		traced := otelhttp.NewHandler(next, operation,
			otelhttp.WithTracerProvider(h.tracerProvider()),
		)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if h.Active(PageLoad) {
				traced.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Transport wraps base so outbound requests are traced while Fetch is
// attached. The gate is read per request; the returned RoundTripper never
// changes. A nil base means http.DefaultTransport at call time.
func (h *Hooks) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &gatedTransport{
		hooks:  h,
		base:   base,
		traced: otelhttp.NewTransport(base, otelhttp.WithTracerProvider(h.tracerProvider())),
	}
}

// InstallTransport replaces the transport target with Transport of its
// current value. Only the first call writes; call it before anything reads
// the target concurrently, typically first thing in main.
func (h *Hooks) InstallTransport() {
	h.install.Do(func() {
		*h.transport = h.Transport(*h.transport)
	})
}

type gatedTransport struct {
	hooks  *Hooks
	base   http.RoundTripper
	traced http.RoundTripper
}

func (g *gatedTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if g.hooks.Active(Fetch) {
		return g.traced.RoundTrip(r)
	}
	return g.base.RoundTrip(r)
}

// ServerStatsHandler returns a gRPC server stats handler gated on XHR.
func (h *Hooks) ServerStatsHandler() stats.Handler {
	return &gatedStatsHandler{
		hooks: h,
		inner: otelgrpc.NewServerHandler(otelgrpc.WithTracerProvider(h.tracerProvider())),
	}
}

// ClientStatsHandler returns a gRPC client stats handler gated on XHR.
func (h *Hooks) ClientStatsHandler() stats.Handler {
	return &gatedStatsHandler{
		hooks: h,
		inner: otelgrpc.NewClientHandler(otelgrpc.WithTracerProvider(h.tracerProvider())),
	}
}

type gatedStatsHandler struct {
	hooks *Hooks
	inner stats.Handler
}

func (g *gatedStatsHandler) TagRPC(ctx context.Context, info *stats.RPCTagInfo) context.Context {
	if !g.hooks.Active(XHR) {
		return ctx
	}
	return g.inner.TagRPC(ctx, info)
}

func (g *gatedStatsHandler) HandleRPC(ctx context.Context, s stats.RPCStats) {
	if g.hooks.Active(XHR) {
		g.inner.HandleRPC(ctx, s)
	}
}

func (g *gatedStatsHandler) TagConn(ctx context.Context, info *stats.ConnTagInfo) context.Context {
	if !g.hooks.Active(XHR) {
		return ctx
	}
	return g.inner.TagConn(ctx, info)
}

func (g *gatedStatsHandler) HandleConn(ctx context.Context, s stats.ConnStats) {
	if g.hooks.Active(XHR) {
		g.inner.HandleConn(ctx, s)
	}
}

// WrapCommand wraps cmd and all of its subcommands so that each invocation
// is traced while UserInteraction is attached. A command that attaches the
// category itself, by running the bootstrap, gets a span back-dated to its
// start; that span carries no children since the command context is
// already fixed.
func (h *Hooks) WrapCommand(cmd *cobra.Command) {
	for _, sub := range cmd.Commands() {
		h.WrapCommand(sub)
	}

	run := cmd.RunE
	if run == nil && cmd.Run != nil {
		plain := cmd.Run
		run = func(c *cobra.Command, args []string) error {
			plain(c, args)
			return nil
		}
		cmd.Run = nil
	}
	if run == nil {
		return
	}

	cmd.RunE = func(c *cobra.Command, args []string) error {
		ctx := c.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		inv := &invocation{
			ctx:   ctx,
			path:  c.CommandPath(),
			args:  len(args),
			start: time.Now(),
		}
		if span := h.enter(inv); span != nil {
			c.SetContext(trace.ContextWithSpan(ctx, span))
		}

		err := run(c, args)
		h.leave(inv, err)
		return err
	}
}

type invocation struct {
	ctx   context.Context
	path  string
	args  int
	start time.Time
	span  trace.Span
}

func (h *Hooks) enter(inv *invocation) trace.Span {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.running[inv] = struct{}{}
	if h.active[UserInteraction].Load() {
		inv.span = h.startCommandSpan(inv)
	}
	return inv.span
}

func (h *Hooks) leave(inv *invocation, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.running, inv)
	if inv.span == nil {
		return
	}
	if err != nil {
		inv.span.RecordError(err)
		inv.span.SetStatus(codes.Error, err.Error())
	}
	inv.span.End()
	inv.span = nil
}

// startCommandSpan must be called with h.mu held.
func (h *Hooks) startCommandSpan(inv *invocation) trace.Span {
	_, span := h.tracerProvider().Tracer(instrumentationName).Start(inv.ctx, "cli "+inv.path,
		trace.WithTimestamp(inv.start),
		trace.WithAttributes(
			attribute.String("cli.command", inv.path),
			attribute.Int("cli.args", inv.args),
		),
	)
	return span
}
