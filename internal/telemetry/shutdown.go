package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/traceboot/internal/logging"
)

// Shutdown flushes and releases everything behind h. The zero Handle is a
// silent no-op. Otherwise exactly one outcome is logged on logger (or the
// bootstrapper's logger when nil). It never returns an error and only the
// first call for a handle does anything.
func Shutdown(ctx context.Context, h Handle, logger *logging.Logger) {
	if !h.Active() || h.owner == nil {
		return
	}
	h.owner.shutdown(ctx, logger)
}

// Shutdown releases what Start built. It is a no-op unless the
// Bootstrapper is active.
func (b *Bootstrapper) Shutdown(ctx context.Context) {
	b.shutdown(ctx, nil)
}

func (b *Bootstrapper) shutdown(ctx context.Context, logger *logging.Logger) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.state.CompareAndSwap(int32(StateActive), int32(StateShuttingDown)) {
		return
	}
	b.metrics.setState(StateShuttingDown)
	if logger == nil {
		logger = b.logger
	}

	// Use configured timeout if no deadline set
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.shutdownTimeout())
		defer cancel()
	}

	h := b.Handle()
	// Detach first so spans ended by the hooks are flushed below.
	for i := len(b.detach) - 1; i >= 0; i-- {
		b.detach[i]()
	}
	b.detach = nil

	var errs []error
	func() {
		defer func() {
			if r := recover(); r != nil {
				errs = append(errs, fmt.Errorf("panic during shutdown: %v", r))
			}
		}()
		if err := h.provider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace provider shutdown: %w", err))
		}
		if h.meter != nil {
			if err := h.meter.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
			}
		}
	}()

	clearDebug(h)
	b.setState(StateTerminated)

	if err := errors.Join(errs...); err != nil {
		b.metrics.recordShutdown("failure")
		logger.Error(ctx, "error terminating tracing", zap.Error(err))
		return
	}
	b.metrics.recordShutdown("success")
	logger.Info(ctx, "tracing terminated")
}
