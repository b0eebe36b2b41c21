package surface

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vellumedit/vellum/internal/document"
	"github.com/vellumedit/vellum/internal/view"
)

// DefaultRequestTimeout bounds request round-trips to a surface.
const DefaultRequestTimeout = 3 * time.Second

type handleKey struct {
	id   document.Identity
	mode view.Mode
}

// MessageHandler receives inbound envelopes that are not correlated
// replies. Called from the emitting surface's goroutine.
type MessageHandler func(h *Handle, env Envelope)

// Registry creates, tracks, and disposes one surface per open
// document/mode pair and routes the message protocol to each.
type Registry struct {
	mu      sync.RWMutex
	handles map[handleKey]*Handle
	factory Factory
	timeout time.Duration

	// pending maps correlation ids to reply channels, one per in-flight
	// request.
	pending map[string]chan Envelope

	onMessage MessageHandler
	logf      func(format string, args ...any)
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRequestTimeout overrides the request round-trip bound.
func WithRequestTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogf sets the registry's log sink.
func WithLogf(logf func(format string, args ...any)) RegistryOption {
	return func(r *Registry) {
		r.logf = logf
	}
}

// NewRegistry creates a surface registry backed by the given factory.
func NewRegistry(factory Factory, opts ...RegistryOption) *Registry {
	r := &Registry{
		handles: make(map[handleKey]*Handle),
		factory: factory,
		timeout: DefaultRequestTimeout,
		pending: make(map[string]chan Envelope),
		logf:    func(string, ...any) {},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetMessageHandler installs the sink for inbound surface messages. The
// coordinator is constructed after the registry, so this is wired late.
func (r *Registry) SetMessageHandler(h MessageHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onMessage = h
}

// Acquire returns the live handle for (id, mode), constructing a new
// surface if none exists. New handles stay not-ready until the surface's
// ready signal arrives.
func (r *Registry) Acquire(id document.Identity, mode view.Mode) (*Handle, error) {
	key := handleKey{id: id, mode: mode}

	r.mu.Lock()
	if h, ok := r.handles[key]; ok && !h.IsDisposed() {
		r.mu.Unlock()
		return h, nil
	}
	if r.factory == nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("acquire %s/%s: %w", id, mode, ErrNoFactory)
	}

	h := &Handle{id: id, mode: mode, state: StateCreated}
	r.handles[key] = h
	r.mu.Unlock()

	s, err := r.factory(id, mode, func(env Envelope) {
		r.receive(h, env)
	})
	if err != nil {
		r.mu.Lock()
		delete(r.handles, key)
		r.mu.Unlock()
		return nil, fmt.Errorf("acquire %s/%s: %w", id, mode, err)
	}

	h.mu.Lock()
	h.surface = s
	// The surface may have signaled ready from inside the factory.
	if h.state == StateCreated {
		h.state = StateInitializing
	}
	h.mu.Unlock()

	return h, nil
}

// Send posts a fire-and-forget envelope. Delivery to a disposed or not-yet-
// ready surface is dropped and logged; callers must not assume delivery.
func (r *Registry) Send(h *Handle, env Envelope) {
	s, err := h.deliverable()
	if err != nil {
		r.logf("send %s to %s/%s dropped: %v", env.Type, h.DocumentID(), h.Mode(), err)
		return
	}
	if err := s.Deliver(env); err != nil {
		r.logf("send %s to %s/%s failed: %v", env.Type, h.DocumentID(), h.Mode(), err)
	}
}

// Request posts an envelope with a correlation id and waits for the
// matching reply. On timeout the handle is marked degraded (but not
// disposed) and ErrSurfaceUnresponsive is returned.
func (r *Registry) Request(ctx context.Context, h *Handle, env Envelope) (Envelope, error) {
	s, err := h.deliverable()
	if err != nil {
		return Envelope{}, fmt.Errorf("request %s to %s/%s: %w", env.Type, h.DocumentID(), h.Mode(), err)
	}

	env.CorrelationID = uuid.NewString()
	ch := make(chan Envelope, 1)

	r.mu.Lock()
	r.pending[env.CorrelationID] = ch
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pending, env.CorrelationID)
		r.mu.Unlock()
	}()

	if err := s.Deliver(env); err != nil {
		return Envelope{}, fmt.Errorf("request %s to %s/%s: %w", env.Type, h.DocumentID(), h.Mode(), err)
	}

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case reply := <-ch:
		h.setDegraded(false)
		return reply, nil
	case <-timer.C:
		h.setDegraded(true)
		return Envelope{}, fmt.Errorf("request %s to %s/%s: %w", env.Type, h.DocumentID(), h.Mode(), ErrSurfaceUnresponsive)
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

// Release disposes the handle's surface and removes it from tracking.
// Idempotent; any state accepts release.
func (r *Registry) Release(h *Handle) error {
	if h == nil {
		return nil
	}

	s := h.markDisposed()

	r.mu.Lock()
	key := handleKey{id: h.id, mode: h.mode}
	if r.handles[key] == h {
		delete(r.handles, key)
	}
	r.mu.Unlock()

	if s == nil {
		return nil
	}
	if err := s.Close(); err != nil {
		return fmt.Errorf("release %s/%s: %w", h.DocumentID(), h.Mode(), err)
	}
	return nil
}

// ReleaseAll disposes every surface for a document. Each failing disposal
// is logged individually so one failure cannot block the others.
func (r *Registry) ReleaseAll(id document.Identity) {
	for _, h := range r.HandlesFor(id) {
		if err := r.Release(h); err != nil {
			r.logf("release %s/%s: %v", h.DocumentID(), h.Mode(), err)
		}
	}
}

// ByDocument returns the currently visible surface for a document: the
// active handle when one exists, otherwise any visible one. Background
// surfaces are updated lazily on next activation instead of eagerly.
func (r *Registry) ByDocument(id document.Identity) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var visible *Handle
	for key, h := range r.handles {
		if key.id != id || h.IsDisposed() {
			continue
		}
		if h.IsActive() {
			return h, true
		}
		if h.IsVisible() && visible == nil {
			visible = h
		}
	}
	if visible != nil {
		return visible, true
	}
	return nil, false
}

// Lookup returns the live handle for an exact document/mode pair.
func (r *Registry) Lookup(id document.Identity, mode view.Mode) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[handleKey{id: id, mode: mode}]
	if !ok || h.IsDisposed() {
		return nil, false
	}
	return h, true
}

// HandlesFor returns all live handles for a document.
func (r *Registry) HandlesFor(id document.Identity) []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Handle
	for key, h := range r.handles {
		if key.id == id && !h.IsDisposed() {
			out = append(out, h)
		}
	}
	return out
}

// Activate marks the given handles as focused/visible and deactivates the
// document's other surfaces.
func (r *Registry) Activate(id document.Identity, modes ...view.Mode) {
	want := make(map[view.Mode]bool, len(modes))
	for _, m := range modes {
		want[m] = true
	}
	for _, h := range r.HandlesFor(id) {
		if want[h.Mode()] {
			h.setActive(true)
			h.setVisible(true)
		} else {
			h.setActive(false)
			h.setVisible(false)
		}
	}
}

// Broadcast sends an envelope to every live ready surface.
func (r *Registry) Broadcast(env Envelope) {
	r.mu.RLock()
	handles := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.mu.RUnlock()

	for _, h := range handles {
		if h.IsReady() {
			r.Send(h, env)
		}
	}
}

// Shutdown releases every tracked surface.
func (r *Registry) Shutdown() {
	r.mu.RLock()
	handles := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.mu.RUnlock()

	for _, h := range handles {
		if err := r.Release(h); err != nil {
			r.logf("shutdown release %s/%s: %v", h.DocumentID(), h.Mode(), err)
		}
	}
}

// receive routes an inbound envelope from a surface. Correlated replies go
// to their waiting caller; everything else reaches the message handler.
func (r *Registry) receive(h *Handle, env Envelope) {
	if env.CorrelationID != "" {
		// Any correlated reply proves the surface is responsive again.
		h.setDegraded(false)

		r.mu.RLock()
		ch, ok := r.pending[env.CorrelationID]
		r.mu.RUnlock()
		if ok {
			select {
			case ch <- env:
			default:
			}
			return
		}
		// Fall through: a correlation id the registry is no longer
		// waiting on (late reply) is treated as a plain message.
	}

	if env.Type == TypeSurfaceReady {
		h.markReady()
	}

	r.mu.RLock()
	onMessage := r.onMessage
	r.mu.RUnlock()
	if onMessage != nil {
		onMessage(h, env)
	}
}
