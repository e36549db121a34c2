// Package persistence stores the ledger of aborts and cancellations performed by cascades.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/hierarchy-killer/pkg/models"
)

type EntryKind string

const (
	KindRunAborted       EntryKind = "run_aborted"
	KindRequestCancelled EntryKind = "request_cancelled"
)

// Entry is one abort or cancellation.
type Entry struct {
	ID        string       `json:"id"`
	Kind      EntryKind    `json:"kind"`
	RunID     models.RunID `json:"run_id"`
	RequestID string       `json:"request_id,omitempty"`
	Reason    string       `json:"reason"`
	CreatedAt time.Time    `json:"created_at"`
}

// Validate checks the fields every ledger implementation relies on.
func (e *Entry) Validate() error {
	switch {
	case e.ID == "":
		return NewEntryError("Validate", e.ID, ErrInvalidEntry, "id is required")
	case e.RunID == "":
		return NewEntryError("Validate", e.ID, ErrInvalidEntry, "run id is required")
	case e.Kind == KindRequestCancelled && e.RequestID == "":
		return NewEntryError("Validate", e.ID, ErrInvalidEntry, "request id is required for cancellations")
	case e.Kind != KindRunAborted && e.Kind != KindRequestCancelled:
		return NewEntryError("Validate", e.ID, ErrInvalidEntry, "unknown kind "+string(e.Kind))
	}

	return nil
}

// ListOptions filters ledger listings. Entries are returned newest first.
type ListOptions struct {
	RunID models.RunID
	Limit int
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Normalize applies the default and maximum limit.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultListLimit
	}

	if o.Limit > MaxListLimit {
		o.Limit = MaxListLimit
	}

	return o
}

type Ledger interface {
	Record(ctx context.Context, entry *Entry) error
	Entry(ctx context.Context, id string) (*Entry, error)
	Entries(ctx context.Context, opts ListOptions) ([]*Entry, error)
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}
