package view

import (
	"errors"
	"testing"

	"github.com/vellumedit/vellum/internal/document"
)

const mdDoc = document.Identity("/notes/plan.md")
const goDoc = document.Identity("/src/main.go")

func TestTrackerTrack(t *testing.T) {
	tr := NewTracker()

	if err := tr.Track(mdDoc, ModeRendered); err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	mode, err := tr.Mode(mdDoc)
	if err != nil {
		t.Fatalf("Mode() error = %v", err)
	}
	if mode != ModeRendered {
		t.Errorf("Mode() = %s, want %s", mode, ModeRendered)
	}

	// Re-tracking does not reset the mode.
	if err := tr.Track(mdDoc, ModeRichEdit); err != nil {
		t.Fatalf("second Track() error = %v", err)
	}
	if mode, _ := tr.Mode(mdDoc); mode != ModeRendered {
		t.Errorf("Mode() after re-track = %s, want %s", mode, ModeRendered)
	}
}

func TestTrackerTrackDowngradesUnsupported(t *testing.T) {
	tr := NewTracker()

	// Rendered is meaningless for a Go file; tracking falls back.
	if err := tr.Track(goDoc, ModeRendered); err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	if mode, _ := tr.Mode(goDoc); mode != ModeRichEdit {
		t.Errorf("Mode() = %s, want %s", mode, ModeRichEdit)
	}
}

func TestTrackerUntracked(t *testing.T) {
	tr := NewTracker()

	if _, err := tr.Mode(mdDoc); !errors.Is(err, ErrNotTracked) {
		t.Errorf("Mode() error = %v, want ErrNotTracked", err)
	}
	if _, err := tr.BeginSwitch(mdDoc, ModeRendered, document.ViewState{}); !errors.Is(err, ErrNotTracked) {
		t.Errorf("BeginSwitch() error = %v, want ErrNotTracked", err)
	}
}

func TestTrackerSwitchRoundTrip(t *testing.T) {
	tr := NewTracker()
	_ = tr.Track(mdDoc, ModeRichEdit)

	editView := document.ViewState{
		Cursor:       document.Position{Line: 10, Column: 4},
		ScrollOffset: 120,
	}

	// rich-edit -> rendered: first visit, zero preserved view.
	preserved, err := tr.BeginSwitch(mdDoc, ModeRendered, editView)
	if err != nil {
		t.Fatalf("BeginSwitch() error = %v", err)
	}
	if preserved.Cursor != (document.Position{}) || preserved.ScrollOffset != 0 {
		t.Errorf("first visit preserved view = %+v, want zero", preserved)
	}
	if err := tr.CommitSwitch(mdDoc); err != nil {
		t.Fatalf("CommitSwitch() error = %v", err)
	}

	// rendered -> rich-edit: the edit view comes back exactly.
	renderedView := document.ViewState{ScrollOffset: 300}
	preserved, err = tr.BeginSwitch(mdDoc, ModeRichEdit, renderedView)
	if err != nil {
		t.Fatalf("BeginSwitch() back error = %v", err)
	}
	if preserved.Cursor != editView.Cursor || preserved.ScrollOffset != editView.ScrollOffset {
		t.Errorf("preserved view = %+v, want %+v", preserved, editView)
	}
	if err := tr.CommitSwitch(mdDoc); err != nil {
		t.Fatalf("CommitSwitch() back error = %v", err)
	}

	// The rendered view was preserved on exit too.
	v, ok := tr.PreservedView(mdDoc, ModeRendered)
	if !ok || v.ScrollOffset != 300 {
		t.Errorf("PreservedView(rendered) = %+v, %v; want scroll 300", v, ok)
	}
}

func TestTrackerSwitchInFlight(t *testing.T) {
	tr := NewTracker()
	_ = tr.Track(mdDoc, ModeRichEdit)

	if _, err := tr.BeginSwitch(mdDoc, ModeRendered, document.ViewState{}); err != nil {
		t.Fatalf("BeginSwitch() error = %v", err)
	}
	if _, err := tr.BeginSwitch(mdDoc, ModeSplit, document.ViewState{}); !errors.Is(err, ErrSwitchInFlight) {
		t.Errorf("overlapping BeginSwitch() error = %v, want ErrSwitchInFlight", err)
	}
	if tr.CanSwitch(mdDoc, ModeSplit) {
		t.Error("CanSwitch() should be false while a switch is pending")
	}
}

func TestTrackerRollback(t *testing.T) {
	tr := NewTracker()
	_ = tr.Track(mdDoc, ModeRichEdit)

	outgoing := document.ViewState{ScrollOffset: 55}
	if _, err := tr.BeginSwitch(mdDoc, ModeRendered, outgoing); err != nil {
		t.Fatalf("BeginSwitch() error = %v", err)
	}
	if err := tr.RollbackSwitch(mdDoc); err != nil {
		t.Fatalf("RollbackSwitch() error = %v", err)
	}

	if mode, _ := tr.Mode(mdDoc); mode != ModeRichEdit {
		t.Errorf("Mode() after rollback = %s, want %s", mode, ModeRichEdit)
	}
	// The captured view survives the rollback.
	if v, ok := tr.PreservedView(mdDoc, ModeRichEdit); !ok || v.ScrollOffset != 55 {
		t.Errorf("PreservedView() after rollback = %+v, %v", v, ok)
	}
	// And a new switch may begin.
	if !tr.CanSwitch(mdDoc, ModeRendered) {
		t.Error("CanSwitch() should be true after rollback")
	}
}

func TestTrackerCommitWithoutSwitch(t *testing.T) {
	tr := NewTracker()
	_ = tr.Track(mdDoc, ModeRichEdit)

	if err := tr.CommitSwitch(mdDoc); !errors.Is(err, ErrNoSwitchInFlight) {
		t.Errorf("CommitSwitch() error = %v, want ErrNoSwitchInFlight", err)
	}
	if err := tr.RollbackSwitch(mdDoc); !errors.Is(err, ErrNoSwitchInFlight) {
		t.Errorf("RollbackSwitch() error = %v, want ErrNoSwitchInFlight", err)
	}
}

func TestTrackerListeners(t *testing.T) {
	tr := NewTracker()
	_ = tr.Track(mdDoc, ModeRichEdit)

	var events []ChangeEvent
	tr.OnChange(func(ev ChangeEvent) {
		events = append(events, ev)
	})

	_, _ = tr.BeginSwitch(mdDoc, ModeRendered, document.ViewState{})
	if err := tr.CommitSwitch(mdDoc); err != nil {
		t.Fatalf("CommitSwitch() error = %v", err)
	}

	if len(events) != 1 {
		t.Fatalf("listener calls = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.PreviousMode != ModeRichEdit || ev.CurrentMode != ModeRendered {
		t.Errorf("event = %+v, want rich-edit -> rendered", ev)
	}
}

func TestTrackerListenerPanicIsolated(t *testing.T) {
	var failures int
	tr := NewTracker(WithListenerFailureHandler(func(error) { failures++ }))
	_ = tr.Track(mdDoc, ModeRichEdit)

	var secondRan bool
	tr.OnChange(func(ChangeEvent) { panic("boom") })
	tr.OnChange(func(ChangeEvent) { secondRan = true })

	_, _ = tr.BeginSwitch(mdDoc, ModeRendered, document.ViewState{})
	if err := tr.CommitSwitch(mdDoc); err != nil {
		t.Fatalf("CommitSwitch() error = %v", err)
	}

	if failures != 1 {
		t.Errorf("failure reports = %d, want 1", failures)
	}
	if !secondRan {
		t.Error("a panicking listener must not starve the others")
	}
	if mode, _ := tr.Mode(mdDoc); mode != ModeRendered {
		t.Error("a panicking listener must not roll back the switch")
	}
}

func TestTrackerDefaultTo(t *testing.T) {
	tr := NewTracker()
	_ = tr.Track(mdDoc, ModeRichEdit)

	changed, err := tr.DefaultTo(mdDoc, ModeRendered)
	if err != nil || !changed {
		t.Fatalf("DefaultTo() = %v, %v; want true, nil", changed, err)
	}

	// An explicit user switch pins the mode against future defaults.
	_, _ = tr.BeginSwitch(mdDoc, ModeRichEdit, document.ViewState{})
	_ = tr.CommitSwitch(mdDoc)

	changed, err = tr.DefaultTo(mdDoc, ModeSplit)
	if err != nil {
		t.Fatalf("DefaultTo() error = %v", err)
	}
	if changed {
		t.Error("DefaultTo() must not override a user-chosen mode")
	}
}

func TestTrackerForget(t *testing.T) {
	tr := NewTracker()
	_ = tr.Track(mdDoc, ModeRendered)
	tr.Forget(mdDoc)

	if _, err := tr.Mode(mdDoc); !errors.Is(err, ErrNotTracked) {
		t.Errorf("Mode() after Forget error = %v, want ErrNotTracked", err)
	}
}
