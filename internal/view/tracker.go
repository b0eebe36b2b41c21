package view

import (
	"fmt"
	"sync"
	"time"

	"github.com/vellumedit/vellum/internal/document"
)

// ChangeEvent describes a completed mode switch.
type ChangeEvent struct {
	Identity     document.Identity
	PreviousMode Mode
	CurrentMode  Mode
	Timestamp    time.Time
}

// ChangeListener receives mode-changed events. A panicking listener is
// isolated and reported through the tracker's failure handler; it never
// rolls back the switch or starves other listeners.
type ChangeListener func(ev ChangeEvent)

// state is the tracked view state for one document.
type state struct {
	mode Mode

	// preserved holds the view snapshot captured at the most recent exit
	// from each mode.
	preserved map[Mode]document.ViewState

	// switching guards against reentrant switches on the same document.
	switching bool

	// pendingTarget is the target mode of an uncommitted switch.
	pendingTarget Mode

	// userChosen is set once the user explicitly picks a mode, after which
	// configuration defaults no longer apply.
	userChosen bool
}

// Tracker owns per-document mode state. Switches are two-phase: Begin
// captures the outgoing view and reserves the transition, then Commit or
// Rollback finishes it. A failed surface setup therefore never leaves a
// document in an ambiguous mode.
type Tracker struct {
	mu        sync.RWMutex
	states    map[document.Identity]*state
	listeners []ChangeListener

	// onFailure receives errors from panicking listeners.
	onFailure func(err error)
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithListenerFailureHandler sets the sink for isolated listener panics.
func WithListenerFailureHandler(h func(err error)) TrackerOption {
	return func(t *Tracker) {
		t.onFailure = h
	}
}

// NewTracker creates a mode state tracker.
func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{
		states:    make(map[document.Identity]*state),
		onFailure: func(error) {},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Track creates view state for a newly displayed document in the given
// initial mode. Tracking an already-tracked document is a no-op.
func (t *Tracker) Track(id document.Identity, initial Mode) error {
	if !initial.Valid() {
		return fmt.Errorf("track %s: %w: %q", id, ErrInvalidMode, initial)
	}
	if !SupportsContent(id.Path(), initial) {
		initial = ModeRichEdit
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.states[id]; ok {
		return nil
	}
	t.states[id] = &state{
		mode:      initial,
		preserved: make(map[Mode]document.ViewState),
	}
	return nil
}

// Forget drops view state for a closed document.
func (t *Tracker) Forget(id document.Identity) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, id)
}

// Mode returns the document's current presentation mode.
func (t *Tracker) Mode(id document.Identity) (Mode, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.states[id]
	if !ok {
		return "", fmt.Errorf("mode %s: %w", id, ErrNotTracked)
	}
	return st.mode, nil
}

// CanSwitch reports whether a switch to target may begin. It is false only
// when a switch is already in flight for the document or the target mode is
// unsupported for the document's content type.
func (t *Tracker) CanSwitch(id document.Identity, target Mode) bool {
	if !target.Valid() || !SupportsContent(id.Path(), target) {
		return false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.states[id]
	if !ok {
		return false
	}
	return !st.switching
}

// BeginSwitch starts a transactional mode switch. The outgoing mode's live
// view state is stored under its key and the preserved view for the target
// mode (zero view on first visit) is returned for injection into the new
// surface. The switch stays pending until Commit or Rollback.
func (t *Tracker) BeginSwitch(id document.Identity, target Mode, outgoing document.ViewState) (document.ViewState, error) {
	if !target.Valid() {
		return document.ViewState{}, fmt.Errorf("switch %s: %w: %q", id, ErrInvalidMode, target)
	}
	if !SupportsContent(id.Path(), target) {
		return document.ViewState{}, fmt.Errorf("switch %s: %w: %s unsupported for content", id, ErrInvalidMode, target)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.states[id]
	if !ok {
		return document.ViewState{}, fmt.Errorf("switch %s: %w", id, ErrNotTracked)
	}
	if st.switching {
		return document.ViewState{}, fmt.Errorf("switch %s: %w", id, ErrSwitchInFlight)
	}

	st.preserved[st.mode] = outgoing.Clone()
	st.switching = true
	st.pendingTarget = target

	return st.preserved[target].Clone(), nil
}

// CommitSwitch finalizes a pending switch and notifies listeners.
func (t *Tracker) CommitSwitch(id document.Identity) error {
	t.mu.Lock()
	st, ok := t.states[id]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("commit %s: %w", id, ErrNotTracked)
	}
	if !st.switching {
		t.mu.Unlock()
		return fmt.Errorf("commit %s: %w", id, ErrNoSwitchInFlight)
	}

	prev := st.mode
	cur := st.pendingTarget
	st.mode = cur
	st.switching = false
	st.pendingTarget = ""
	st.userChosen = true

	listeners := make([]ChangeListener, len(t.listeners))
	copy(listeners, t.listeners)
	t.mu.Unlock()

	ev := ChangeEvent{
		Identity:     id,
		PreviousMode: prev,
		CurrentMode:  cur,
		Timestamp:    time.Now(),
	}
	for _, l := range listeners {
		t.deliver(l, ev)
	}
	return nil
}

// RollbackSwitch abandons a pending switch, leaving the document in its
// prior mode. The captured outgoing view is kept; it is still the freshest
// snapshot of that mode.
func (t *Tracker) RollbackSwitch(id document.Identity) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[id]
	if !ok {
		return fmt.Errorf("rollback %s: %w", id, ErrNotTracked)
	}
	if !st.switching {
		return fmt.Errorf("rollback %s: %w", id, ErrNoSwitchInFlight)
	}
	st.switching = false
	st.pendingTarget = ""
	return nil
}

// DefaultTo applies the configured default mode if the user has not chosen
// one explicitly. Returns true if the mode changed.
func (t *Tracker) DefaultTo(id document.Identity, def Mode) (bool, error) {
	if !def.Valid() {
		return false, fmt.Errorf("default %s: %w: %q", id, ErrInvalidMode, def)
	}
	if !SupportsContent(id.Path(), def) {
		def = ModeRichEdit
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[id]
	if !ok {
		return false, fmt.Errorf("default %s: %w", id, ErrNotTracked)
	}
	if st.userChosen || st.switching || st.mode == def {
		return false, nil
	}
	st.mode = def
	return true, nil
}

// PreservedView returns the snapshot captured at the most recent exit from
// the given mode.
func (t *Tracker) PreservedView(id document.Identity, m Mode) (document.ViewState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.states[id]
	if !ok {
		return document.ViewState{}, false
	}
	v, ok := st.preserved[m]
	return v.Clone(), ok
}

// OnChange registers a mode-changed listener.
func (t *Tracker) OnChange(l ChangeListener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, l)
}

// deliver invokes one listener, converting panics into failure reports.
func (t *Tracker) deliver(l ChangeListener, ev ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			t.onFailure(fmt.Errorf("mode-changed listener panic for %s: %v", ev.Identity, r))
		}
	}()
	l(ev)
}
