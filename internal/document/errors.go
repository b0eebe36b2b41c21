package document

import (
	"errors"
	"fmt"
)

// Store errors. Raw filesystem errors never leave this package; they are
// converted to this taxonomy at the I/O boundary.
var (
	// ErrNotFound indicates the backing file does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrAccessDenied indicates a filesystem permission failure.
	ErrAccessDenied = errors.New("access denied")

	// ErrWriteConflict indicates the backing file changed externally since
	// the last known load or save, with differing content.
	ErrWriteConflict = errors.New("write conflict")

	// ErrUnsavedChanges indicates a close was attempted on a dirty document
	// without an explicit discard.
	ErrUnsavedChanges = errors.New("unsaved changes")

	// ErrNotOpen indicates the identity has no open document.
	ErrNotOpen = errors.New("document not open")

	// ErrStoreClosed indicates the store has been shut down.
	ErrStoreClosed = errors.New("document store closed")
)

// OperationError wraps a store failure with the operation and identity.
type OperationError struct {
	Op       string
	Identity Identity
	Err      error
}

func (e *OperationError) Error() string {
	if e.Identity != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Identity, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// opError builds an OperationError around err.
func opError(op string, id Identity, err error) error {
	return &OperationError{Op: op, Identity: id, Err: err}
}
