package hierarchy

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/dukex/hierarchy-killer/pkg/models"
	"github.com/dukex/hierarchy-killer/pkg/otelhelper"
	"github.com/dukex/hierarchy-killer/pkg/protocol"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Observer is told about every abort and cancellation a cascade performs.
type Observer interface {
	RunAborted(ctx context.Context, run models.RunID, reason string)
	RequestCancelled(ctx context.Context, request models.PendingRequest, reason string)
}

// Engine decides whether a completed run cascades and aborts its direct
// relatives. Relatives further away are reached when the aborted runs
// complete in turn.
type Engine struct {
	store     *Store
	host      protocol.Host
	logger    *slog.Logger
	tracer    trace.Tracer
	observers []Observer

	aborts atomic.Int64
}

func NewEngine(store *Store, host protocol.Host, logger *slog.Logger, tracer trace.Tracer, observers ...Observer) *Engine {
	return &Engine{
		store:     store,
		host:      host,
		logger:    logger,
		tracer:    tracer,
		observers: observers,
	}
}

// Aborts returns the number of runs aborted so far.
func (e *Engine) Aborts() int64 {
	return e.aborts.Load()
}

// Evaluate handles the completion of run. record is a snapshot taken when
// the completion was received. The run's own record is removed afterwards.
func (e *Engine) Evaluate(ctx context.Context, run models.RunID, record *models.RunRecord, console *slog.Logger) {
	defer e.store.Remove(run)

	if !record.Policy.Enabled {
		return
	}

	outcome, known := e.host.Outcome(ctx, run)
	if !known {
		console.WarnContext(ctx, "Run outcome is unknown, no cascade", "run", run)

		return
	}

	if !record.Policy.Triggers(outcome) {
		return
	}

	reason := e.reason(ctx, run, record)

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "hierarchy.cascade",
		attribute.String(otelhelper.RunIDKey, run.String()),
		attribute.String(otelhelper.OutcomeKey, outcome.String()),
	)
	defer span.End()

	console.InfoContext(ctx, "Run finished badly, aborting relatives", "outcome", outcome.String())

	if record.Policy.KillUpstream {
		e.killUpstream(ctx, record, reason)
	}

	if record.Policy.KillDownstream {
		e.killDownstream(ctx, record, reason)
		e.cancelPending(ctx, run, console, reason)
	}
}

// reason keeps the chain of earlier cascades that reached this run.
func (e *Engine) reason(ctx context.Context, run models.RunID, record *models.RunRecord) string {
	url := e.host.URL(ctx, run)
	if url == "" {
		url = run.String()
	}

	reason := ", caused by " + url
	if record.AbortReason != "" {
		reason += record.AbortReason
	}

	return reason
}

func (e *Engine) killUpstream(ctx context.Context, record *models.RunRecord, reason string) {
	for _, upstream := range record.UpstreamRuns() {
		if _, ok := e.store.Get(upstream); !ok {
			e.logger.DebugContext(ctx, "Upstream run is no longer tracked, nothing to abort", "upstream", upstream)

			continue
		}

		if !e.host.IsExecuting(ctx, upstream) {
			e.logger.DebugContext(ctx, "Upstream run is not executing, nothing to abort", "upstream", upstream)

			continue
		}

		e.Abort(ctx, upstream, reason)
	}
}

func (e *Engine) killDownstream(ctx context.Context, record *models.RunRecord, reason string) {
	for _, downstream := range record.Downstream {
		if !e.host.IsExecuting(ctx, downstream) {
			continue
		}

		if _, ok := e.store.Get(downstream); !ok {
			e.logger.ErrorContext(ctx,
				"Run is listed downstream and still executing but has no record, this should never happen",
				"downstream", downstream)

			continue
		}

		e.Abort(ctx, downstream, reason)
	}
}

// cancelPending cancels queued requests triggered solely by run. They never
// started, so they are not in the downstream list.
func (e *Engine) cancelPending(ctx context.Context, run models.RunID, console *slog.Logger, reason string) {
	requests, err := e.host.PendingRequests(ctx)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to list pending requests", "run", run, "error", err)

		return
	}

	for _, request := range requests {
		upstream, ok := models.SoleUpstream(request.Causes)
		if !ok || upstream != run {
			continue
		}

		e.cancel(ctx, run, request, console, reason)
	}
}

func (e *Engine) cancel(ctx context.Context, run models.RunID, request models.PendingRequest, console *slog.Logger, reason string) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "hierarchy.cancel",
		attribute.String(otelhelper.RunIDKey, run.String()),
		attribute.String(otelhelper.RequestIDKey, request.ID),
	)
	defer span.End()

	err := e.host.Cancel(ctx, request)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to cancel pending request", "request", request.ID, "error", err)
		otelhelper.SetError(span, err, attribute.String(otelhelper.RequestIDKey, request.ID))

		return
	}

	console.InfoContext(ctx, "Waiting item "+request.ID+" cancelled"+reason)

	for _, observer := range e.observers {
		observer.RequestCancelled(ctx, request, reason)
	}
}

// Abort stops an executing tracked run. A run is aborted at most once: the
// first reason recorded on it wins, and runs that already stopped are skipped.
func (e *Engine) Abort(ctx context.Context, run models.RunID, reason string) {
	if !e.host.IsExecuting(ctx, run) {
		return
	}

	if !e.store.MarkAborted(run, reason) {
		return
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "hierarchy.abort",
		attribute.String(otelhelper.RunIDKey, run.String()),
	)
	defer span.End()

	err := e.host.Abort(ctx, run)
	if err != nil {
		// The run may have finished between the check and the call. Either
		// way no abort happened, so a later cascade may try again.
		e.store.ReleaseAbort(run, reason)
		e.logger.DebugContext(ctx, "Abort request failed, ignoring", "run", run, "error", err)
		otelhelper.SetError(span, err, attribute.String(otelhelper.RunIDKey, run.String()))

		return
	}

	e.aborts.Add(1)
	e.logger.InfoContext(ctx, "Aborted run", "run", run, "url", e.host.URL(ctx, run), "reason", reason)

	for _, observer := range e.observers {
		observer.RunAborted(ctx, run, reason)
	}
}
