package surface

import (
	"errors"
	"sync"

	"github.com/vellumedit/vellum/internal/document"
	"github.com/vellumedit/vellum/internal/view"
)

// Surface errors.
var (
	// ErrSurfaceUnresponsive indicates a request timed out. The handle is
	// degraded but still accepts fire-and-forget pushes.
	ErrSurfaceUnresponsive = errors.New("surface unresponsive")

	// ErrSurfaceDisposed indicates the surface has been released.
	ErrSurfaceDisposed = errors.New("surface disposed")

	// ErrSurfaceNotReady indicates the surface has not signaled readiness.
	ErrSurfaceNotReady = errors.New("surface not ready")

	// ErrMalformedPayload indicates an envelope payload failed validation.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrNoFactory indicates the registry has no surface factory for the
	// requested mode.
	ErrNoFactory = errors.New("no surface factory")
)

// State is a handle's lifecycle state.
// created -> initializing -> ready -> (active <-> inactive) -> disposed
type State int

// Handle states.
const (
	StateCreated State = iota
	StateInitializing
	StateReady
	StateActive
	StateInactive
	StateDisposed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateActive:
		return "active"
	case StateInactive:
		return "inactive"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Surface is the black-box rendering instance. Implementations receive
// envelopes through Deliver and emit envelopes through the function passed
// to the factory. Close releases the underlying instance.
type Surface interface {
	Deliver(env Envelope) error
	Close() error
}

// Factory constructs a surface for a document/mode pair. The emit function
// is the surface's channel back to the core; it is safe to call from any
// goroutine until Close returns.
type Factory func(id document.Identity, mode view.Mode, emit func(Envelope)) (Surface, error)

// Handle correlates one live surface to a document and mode. Handles are
// owned exclusively by the Registry; other components look surfaces up by
// document identity instead of holding references.
type Handle struct {
	mu sync.RWMutex

	id   document.Identity
	mode view.Mode

	surface Surface
	state   State

	// degraded marks a surface that timed out on a request. Degraded
	// surfaces still receive pushes; a later reply restores them.
	degraded bool

	visible bool
	active  bool
}

// DocumentID returns the correlated document identity.
func (h *Handle) DocumentID() document.Identity {
	return h.id
}

// Mode returns the mode the surface displays.
func (h *Handle) Mode() view.Mode {
	return h.mode
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// IsReady reports whether the surface has signaled initialization complete
// and has not been disposed.
func (h *Handle) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state >= StateReady && h.state != StateDisposed
}

// IsDisposed reports whether the surface has been released.
func (h *Handle) IsDisposed() bool {
	return h.State() == StateDisposed
}

// IsDegraded reports whether the last request to the surface timed out.
func (h *Handle) IsDegraded() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.degraded
}

// IsActive mirrors host focus state.
func (h *Handle) IsActive() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.active
}

// IsVisible mirrors host visibility state.
func (h *Handle) IsVisible() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.visible
}

// markReady transitions to ready when the surface-ready signal arrives.
func (h *Handle) markReady() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateCreated || h.state == StateInitializing {
		h.state = StateReady
	}
	h.degraded = false
}

// setActive flips focus state for a ready surface.
func (h *Handle) setActive(active bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state < StateReady || h.state == StateDisposed {
		return
	}
	h.active = active
	if active {
		h.state = StateActive
		h.visible = true
	} else {
		h.state = StateInactive
	}
}

// setVisible flips visibility state.
func (h *Handle) setVisible(visible bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateDisposed {
		return
	}
	h.visible = visible
}

// setDegraded records a request timeout or recovery.
func (h *Handle) setDegraded(degraded bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.degraded = degraded
}

// markDisposed finalizes the handle. Returns the surface to close, or nil
// if already disposed.
func (h *Handle) markDisposed() Surface {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateDisposed {
		return nil
	}
	h.state = StateDisposed
	s := h.surface
	h.surface = nil
	return s
}

// deliverable returns the surface if the handle accepts delivery in its
// current state.
func (h *Handle) deliverable() (Surface, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	switch {
	case h.state == StateDisposed:
		return nil, ErrSurfaceDisposed
	case h.state < StateReady || h.surface == nil:
		return nil, ErrSurfaceNotReady
	default:
		return h.surface, nil
	}
}
