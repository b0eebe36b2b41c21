package surface

import (
	"sync"

	"github.com/vellumedit/vellum/internal/document"
)

// TextWidget is the editing widget embedded in a rich-edit surface. Any
// real text-widget implementation can stand in; the core only depends on
// this contract.
type TextWidget interface {
	Value() string
	SetValue(content string)
	Selection() (cursor document.Position, selections []document.Range)
	SetSelection(cursor document.Position, selections []document.Range)
	OnContentChanged(fn func(content string))
	OnSelectionChanged(fn func(cursor document.Position, selections []document.Range))
}

// MemWidget is an in-memory TextWidget used by the built-in rich-edit
// surface and by tests.
type MemWidget struct {
	mu         sync.Mutex
	content    string
	cursor     document.Position
	selections []document.Range

	onContent   []func(content string)
	onSelection []func(cursor document.Position, selections []document.Range)
}

// NewMemWidget creates an empty in-memory widget.
func NewMemWidget() *MemWidget {
	return &MemWidget{}
}

// Value returns the widget content.
func (w *MemWidget) Value() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.content
}

// SetValue replaces the widget content without firing change callbacks,
// mirroring programmatic setValue in real widgets.
func (w *MemWidget) SetValue(content string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.content = content
}

// Selection returns the cursor and selection ranges.
func (w *MemWidget) Selection() (document.Position, []document.Range) {
	w.mu.Lock()
	defer w.mu.Unlock()
	sels := make([]document.Range, len(w.selections))
	copy(sels, w.selections)
	return w.cursor, sels
}

// SetSelection moves the cursor and selections without firing callbacks.
func (w *MemWidget) SetSelection(cursor document.Position, selections []document.Range) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cursor = cursor
	w.selections = make([]document.Range, len(selections))
	copy(w.selections, selections)
}

// OnContentChanged registers a user-edit callback.
func (w *MemWidget) OnContentChanged(fn func(content string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onContent = append(w.onContent, fn)
}

// OnSelectionChanged registers a selection callback.
func (w *MemWidget) OnSelectionChanged(fn func(cursor document.Position, selections []document.Range)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onSelection = append(w.onSelection, fn)
}

// Type simulates a user edit: content is replaced and change callbacks
// fire, as they would for keystrokes in a real widget.
func (w *MemWidget) Type(content string) {
	w.mu.Lock()
	w.content = content
	fns := make([]func(string), len(w.onContent))
	copy(fns, w.onContent)
	w.mu.Unlock()

	for _, fn := range fns {
		fn(content)
	}
}

// MoveCursor simulates a user selection change.
func (w *MemWidget) MoveCursor(cursor document.Position, selections []document.Range) {
	w.mu.Lock()
	w.cursor = cursor
	w.selections = make([]document.Range, len(selections))
	copy(w.selections, selections)
	fns := make([]func(document.Position, []document.Range), len(w.onSelection))
	copy(fns, w.onSelection)
	w.mu.Unlock()

	for _, fn := range fns {
		fn(cursor, selections)
	}
}
