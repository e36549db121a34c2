package persistence

import (
	"errors"
	"fmt"
)

var (
	// ErrEntryNotFound indicates no ledger entry exists for the given identifier.
	ErrEntryNotFound = errors.New("ledger entry not found")

	// ErrInvalidEntry indicates an entry is missing required fields.
	ErrInvalidEntry = errors.New("invalid ledger entry")

	// ErrUnsupportedProvider indicates a database URL names no known ledger backend.
	ErrUnsupportedProvider = errors.New("unsupported ledger provider")
)

// EntryError wraps ledger errors with the operation and entry involved.
type EntryError struct {
	Op      string // Operation being performed (e.g., "Record", "Entry")
	EntryID string
	Err     error
	Message string
}

func (e *EntryError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s operation failed for ledger entry %s: %s (%v)", e.Op, e.EntryID, e.Message, e.Err)
	}

	return fmt.Sprintf("%s operation failed for ledger entry %s: %v", e.Op, e.EntryID, e.Err)
}

func (e *EntryError) Unwrap() error {
	return e.Err
}

func (e *EntryError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewEntryError(op, entryID string, err error, message string) *EntryError {
	return &EntryError{
		Op:      op,
		EntryID: entryID,
		Err:     err,
		Message: message,
	}
}

// IsEntryNotFound checks if an error indicates a ledger entry was not found.
func IsEntryNotFound(err error) bool {
	return errors.Is(err, ErrEntryNotFound)
}

// IsInvalidEntry checks if an error indicates an entry failed validation.
func IsInvalidEntry(err error) bool {
	return errors.Is(err, ErrInvalidEntry)
}
