// Package audit keeps a trail of every abort and cancellation a cascade performs.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukex/hierarchy-killer/pkg/eventbus"
	"github.com/dukex/hierarchy-killer/pkg/events"
	"github.com/dukex/hierarchy-killer/pkg/hierarchy"
	"github.com/dukex/hierarchy-killer/pkg/models"
	"github.com/dukex/hierarchy-killer/pkg/persistence"
	"github.com/google/uuid"
)

var _ hierarchy.Observer = (*Recorder)(nil)

// Recorder writes each abort and cancellation to the ledger and announces it
// on the audit topic. Failures are logged; they never interrupt a cascade.
type Recorder struct {
	ledger    persistence.Ledger
	publisher eventbus.EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewRecorder builds a recorder. publisher may be nil to skip announcements.
func NewRecorder(ledger persistence.Ledger, publisher eventbus.EventPublisher, logger *slog.Logger) *Recorder {
	return &Recorder{
		ledger:    ledger,
		publisher: publisher,
		logger:    logger.With("module", "audit_recorder"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (r *Recorder) RunAborted(ctx context.Context, run models.RunID, reason string) {
	r.record(ctx, &persistence.Entry{
		ID:        uuid.New().String(),
		Kind:      persistence.KindRunAborted,
		RunID:     run,
		Reason:    reason,
		CreatedAt: r.now(),
	})

	r.publish(ctx, string(run), events.RunAborted{
		BaseEvent: events.NewBaseEvent(events.RunAbortedEvent, run),
		Reason:    reason,
	})
}

func (r *Recorder) RequestCancelled(ctx context.Context, request models.PendingRequest, reason string) {
	run, _ := models.SoleUpstream(request.Causes)

	r.record(ctx, &persistence.Entry{
		ID:        uuid.New().String(),
		Kind:      persistence.KindRequestCancelled,
		RunID:     run,
		RequestID: request.ID,
		Reason:    reason,
		CreatedAt: r.now(),
	})

	r.publish(ctx, request.ID, events.RequestCancelled{
		BaseEvent: events.NewBaseEvent(events.RequestCancelledEvent, run),
		RequestID: request.ID,
		Reason:    reason,
	})
}

func (r *Recorder) record(ctx context.Context, entry *persistence.Entry) {
	if r.ledger == nil {
		return
	}

	err := r.ledger.Record(ctx, entry)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to record ledger entry", "kind", entry.Kind, "run", entry.RunID, "error", err)
	}
}

func (r *Recorder) publish(ctx context.Context, key string, event eventbus.Event) {
	if r.publisher == nil {
		return
	}

	err := r.publisher.Publish(ctx, key, event)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to publish audit event", "event_type", event.GetType(), "key", key, "error", err)
	}
}
