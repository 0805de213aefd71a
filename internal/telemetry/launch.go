package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Timing says when the bootstrap runs relative to mounting the host.
type Timing int

const (
	// BeforeMount bootstraps synchronously, then mounts.
	BeforeMount Timing = iota
	// AfterMount mounts, then bootstraps synchronously.
	AfterMount
	// Deferred mounts, then bootstraps on a goroutine.
	Deferred
)

func (t Timing) String() string {
	switch t {
	case AfterMount:
		return "after-mount"
	case Deferred:
		return "deferred"
	default:
		return "before-mount"
	}
}

// ParseTiming accepts before-mount, after-mount and deferred.
func ParseTiming(s string) (Timing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "before-mount", "before_mount":
		return BeforeMount, nil
	case "after-mount", "after_mount":
		return AfterMount, nil
	case "deferred":
		return Deferred, nil
	default:
		return BeforeMount, fmt.Errorf("unknown timing %q", s)
	}
}

// Policy is when to bootstrap and whether a disabled outcome is fatal.
type Policy struct {
	Timing          Timing
	TolerateFailure bool
}

// DefaultPolicy bootstraps before mount and tolerates failure.
func DefaultPolicy() Policy {
	return Policy{Timing: BeforeMount, TolerateFailure: true}
}

// ErrTracingUnavailable is reported when tracing is mandatory and the
// bootstrap did not produce an active handle.
var ErrTracingUnavailable = errors.New("tracing unavailable")

// Starter runs a bootstrap. *Bootstrapper implements it.
type Starter interface {
	Start(ctx context.Context) Handle
}

// MountFunc starts the host without blocking.
type MountFunc func(ctx context.Context) error

// Launched tracks the bootstrap started by Launch.
type Launched struct {
	policy Policy
	done   chan struct{}
	handle Handle
}

func newLaunched(p Policy) *Launched {
	return &Launched{policy: p, done: make(chan struct{})}
}

func (l *Launched) resolve(h Handle) {
	if h.Active() {
		PublishDebug(h)
	}
	l.handle = h
	close(l.done)
}

// Done is closed once the bootstrap has resolved.
func (l *Launched) Done() <-chan struct{} {
	return l.done
}

// Wait blocks until the bootstrap resolves or ctx ends. With
// TolerateFailure unset, an inactive handle yields ErrTracingUnavailable.
func (l *Launched) Wait(ctx context.Context) (Handle, error) {
	select {
	case <-l.done:
	case <-ctx.Done():
		return Handle{}, ctx.Err()
	}
	if !l.handle.Active() && !l.policy.TolerateFailure {
		return Handle{}, ErrTracingUnavailable
	}
	return l.handle, nil
}

// Launch runs the bootstrap and mount in the order the policy's timing
// asks for. Mount errors are returned unchanged. The host always mounts
// unless the policy is BeforeMount, tracing is mandatory and the bootstrap
// came back disabled.
func Launch(ctx context.Context, policy Policy, s Starter, mount MountFunc) (*Launched, error) {
	l := newLaunched(policy)

	switch policy.Timing {
	case AfterMount:
		if err := mount(ctx); err != nil {
			return nil, err
		}
		l.resolve(s.Start(ctx))
		return l, nil

	case Deferred:
		if err := mount(ctx); err != nil {
			return nil, err
		}
		go func() {
			l.resolve(s.Start(ctx))
		}()
		return l, nil

	default:
		l.resolve(s.Start(ctx))
		if !l.handle.Active() && !policy.TolerateFailure {
			return l, ErrTracingUnavailable
		}
		if err := mount(ctx); err != nil {
			return l, err
		}
		return l, nil
	}
}
