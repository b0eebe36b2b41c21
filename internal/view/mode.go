// Package view tracks per-document presentation state: the current mode and
// the view snapshot preserved for each mode the user has visited.
package view

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Mode is a document presentation mode.
type Mode string

const (
	// ModeRichEdit is the editable text view.
	ModeRichEdit Mode = "rich-edit"

	// ModeRendered is the read-only rendered view.
	ModeRendered Mode = "rendered"

	// ModeSplit shows rich-edit and rendered side by side.
	ModeSplit Mode = "split"
)

// Mode errors.
var (
	// ErrInvalidMode indicates an unknown or unsupported mode.
	ErrInvalidMode = errors.New("invalid mode")

	// ErrNotTracked indicates the document has no view state.
	ErrNotTracked = errors.New("document not tracked")

	// ErrSwitchInFlight indicates a mode switch is already in progress for
	// the document.
	ErrSwitchInFlight = errors.New("mode switch in flight")

	// ErrNoSwitchInFlight indicates commit or rollback without a pending
	// switch.
	ErrNoSwitchInFlight = errors.New("no mode switch in flight")
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeRichEdit, ModeRendered, ModeSplit:
		return true
	}
	return false
}

// RequiresRenderer reports whether the mode needs markdown rendering.
func (m Mode) RequiresRenderer() bool {
	return m == ModeRendered || m == ModeSplit
}

// ParseMode parses a mode name.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
	return m, nil
}

// Toggle returns the next mode in the rich-edit -> rendered -> split cycle,
// skipping modes the document does not support.
func Toggle(current Mode, supports func(Mode) bool) Mode {
	order := []Mode{ModeRichEdit, ModeRendered, ModeSplit}
	idx := 0
	for i, m := range order {
		if m == current {
			idx = i
			break
		}
	}
	for i := 1; i <= len(order); i++ {
		next := order[(idx+i)%len(order)]
		if supports == nil || supports(next) {
			return next
		}
	}
	return current
}

// SupportsContent reports whether a file's content type can be displayed in
// the mode. Rendered output only exists for markdown; everything else is
// rich-edit only.
func SupportsContent(path string, m Mode) bool {
	if !m.RequiresRenderer() {
		return m.Valid()
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown", ".mdown", ".mkd":
		return true
	}
	return false
}
