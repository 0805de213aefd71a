package telemetry

import "sync/atomic"

var debugSlot atomic.Pointer[Handle]

// PublishDebug stores h in the process-wide debug slot. Only active handles
// whose bootstrapper has not begun shutting down are accepted; it reports
// whether h was stored.
func PublishDebug(h Handle) bool {
	if !h.Active() {
		return false
	}
	if b := h.owner; b != nil {
		// Shutdown clears the slot under the same lock.
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.State() != StateActive {
			return false
		}
	}
	debugSlot.Store(&h)
	return true
}

// DebugHandle returns the published handle, if any.
func DebugHandle() (Handle, bool) {
	h := debugSlot.Load()
	if h == nil {
		return Handle{}, false
	}
	return *h, true
}

// clearDebug empties the slot if it still holds h.
func clearDebug(h Handle) {
	cur := debugSlot.Load()
	if cur != nil && cur.provider == h.provider {
		debugSlot.CompareAndSwap(cur, nil)
	}
}

// DebugInfo is the read-only view of the debug slot served to operators.
type DebugInfo struct {
	Active         bool     `json:"active"`
	State          string   `json:"state"`
	Service        string   `json:"service,omitempty"`
	Version        string   `json:"version,omitempty"`
	Environment    string   `json:"environment,omitempty"`
	Protocol       string   `json:"protocol,omitempty"`
	Endpoint       string   `json:"endpoint,omitempty"`
	Batching       string   `json:"batching,omitempty"`
	AutoInstrument []string `json:"auto_instrument,omitempty"`
	Metrics        bool     `json:"metrics"`
}

// DebugSnapshot describes the published handle.
func DebugSnapshot() DebugInfo {
	h, ok := DebugHandle()
	if !ok || h.owner == nil {
		return DebugInfo{Active: false, State: StateUninitialized.String()}
	}
	info := DebugInfo{
		Active: true,
		State:  h.owner.State().String(),
	}
	if plan, ok := h.owner.Plan(); ok {
		info.Service = plan.Identity.Name
		info.Version = plan.Identity.Version
		info.Environment = plan.Identity.Environment
		info.Protocol = plan.Protocol
		info.Endpoint = plan.Endpoint
		info.Batching = plan.Batching.String()
		info.AutoInstrument = plan.Instrument.Strings()
		info.Metrics = plan.Metrics.Enabled
	}
	return info
}
