// Package document provides the canonical in-memory state for open files.
//
// A Document tracks content, dirty state, and the user's view position for
// one open file. The Store owns the collection of open documents keyed by
// their canonical file identity, performs all file I/O, and watches the
// backing files for external modification.
package document

import (
	"path/filepath"
	"sync"
	"time"
)

// Position is a cursor location within a document.
type Position struct {
	Line   int
	Column int
}

// Range is a selection span between two positions.
type Range struct {
	Start Position
	End   Position
}

// ViewState is the cursor, scroll, and selection state for a document as
// displayed in one presentation mode.
type ViewState struct {
	Cursor       Position
	ScrollOffset float64
	Selections   []Range
}

// Clone returns a deep copy of the view state.
func (v ViewState) Clone() ViewState {
	out := v
	if v.Selections != nil {
		out.Selections = make([]Range, len(v.Selections))
		copy(out.Selections, v.Selections)
	}
	return out
}

// Identity is the stable key for an open document, derived from the file's
// canonical absolute path rather than its content.
type Identity string

// IdentityFor derives the identity for a file path.
func IdentityFor(path string) (Identity, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return Identity(filepath.Clean(abs)), nil
}

// Path returns the identity's backing file path.
func (id Identity) Path() string {
	return string(id)
}

// Document represents one open file.
type Document struct {
	mu sync.RWMutex

	identity Identity

	// content is the current text. Authoritative unless an external reload
	// is pending resolution.
	content string

	// savedContent is the content at open or last save. Dirty is defined as
	// content differing from savedContent, never as a sticky flag.
	savedContent string

	// view is the live cursor/scroll/selection state reported by the
	// currently active surface.
	view ViewState

	// lastModified is the backing file's modification time at the last
	// successful load or save. Used to detect external changes.
	lastModified time.Time

	// version increments on every content mutation.
	version int64

	closed bool
}

// New creates a document from freshly loaded file content.
func New(identity Identity, content string, modTime time.Time) *Document {
	return &Document{
		identity:     identity,
		content:      content,
		savedContent: content,
		lastModified: modTime,
		version:      1,
	}
}

// Identity returns the document's stable key.
func (d *Document) Identity() Identity {
	return d.identity
}

// Content returns the current text.
func (d *Document) Content() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.content
}

// SetContent replaces the current text. Returns true if the dirty state
// changed as a result.
func (d *Document) SetContent(content string) (dirtyChanged bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	wasDirty := d.content != d.savedContent
	d.content = content
	d.version++
	return wasDirty != (d.content != d.savedContent)
}

// IsDirty reports whether content differs from the last persisted content.
func (d *Document) IsDirty() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.content != d.savedContent
}

// View returns a copy of the live view state.
func (d *Document) View() ViewState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.view.Clone()
}

// SetView records the live view state reported by the active surface.
func (d *Document) SetView(view ViewState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.view = view.Clone()
}

// LastModified returns the backing file's modification time at the last
// successful load or save.
func (d *Document) LastModified() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastModified
}

// Version returns the current content version.
func (d *Document) Version() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.version
}

// MarkSaved records a successful save: the current content becomes the
// persisted baseline and the disk modification time is remembered.
func (d *Document) MarkSaved(modTime time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.savedContent = d.content
	d.lastModified = modTime
}

// Reload replaces both current and saved content from disk. Returns true if
// the content actually changed.
func (d *Document) Reload(content string, modTime time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	changed := content != d.content
	d.content = content
	d.savedContent = content
	d.lastModified = modTime
	if changed {
		d.version++
	}
	return changed
}

// AcknowledgeDisk updates the known disk modification time without touching
// content. Used when the user chooses to keep their in-memory edits over an
// external change; the next save then overwrites deliberately instead of
// reporting a conflict.
func (d *Document) AcknowledgeDisk(modTime time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastModified = modTime
}

// HasExternalChange reports whether the given disk modification time is
// newer than the last known load/save time.
func (d *Document) HasExternalChange(diskModTime time.Time) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return diskModTime.After(d.lastModified)
}

// MarkClosed marks the document as released by the store.
func (d *Document) MarkClosed() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
}

// IsClosed reports whether the document has been released.
func (d *Document) IsClosed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.closed
}
