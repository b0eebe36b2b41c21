package event

import (
	"time"

	"github.com/vellumedit/vellum/internal/document"
	"github.com/vellumedit/vellum/internal/view"
)

// DocumentOpened is published on TopicDocumentOpened.
type DocumentOpened struct {
	Identity document.Identity
	Mode     view.Mode
}

// DocumentClosed is published on TopicDocumentClosed.
type DocumentClosed struct {
	Identity document.Identity
}

// DocumentSaved is published on TopicDocumentSaved.
type DocumentSaved struct {
	Identity document.Identity
}

// DocumentReloaded is published on TopicDocumentReloaded after an external
// change was applied.
type DocumentReloaded struct {
	Identity document.Identity
}

// DirtyChanged is published on TopicDirtyChanged when a document's dirty
// flag flips.
type DirtyChanged struct {
	Identity document.Identity
	Dirty    bool
}

// ConflictDetected is published on TopicConflict when an external change
// hits a dirty document and a resolution decision is needed.
type ConflictDetected struct {
	Identity document.Identity
}

// ModeChanged is published on TopicModeChanged after a successful switch.
type ModeChanged struct {
	Identity     document.Identity
	PreviousMode view.Mode
	CurrentMode  view.Mode
	Timestamp    time.Time
}
