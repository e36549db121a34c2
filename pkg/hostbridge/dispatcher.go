package hostbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/hierarchy-killer/pkg/eventbus"
	"github.com/dukex/hierarchy-killer/pkg/events"
	"github.com/dukex/hierarchy-killer/pkg/models"
	"github.com/dukex/hierarchy-killer/pkg/otelhelper"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/dukex/hierarchy-killer/pkg/hostbridge"

// Notifier receives run lifecycle notifications. *hierarchy.Tracker implements it.
type Notifier interface {
	NotifyStarted(ctx context.Context, run models.RunID, console *slog.Logger)
	NotifyCompleted(ctx context.Context, run models.RunID, console *slog.Logger)
	NotifyFinalized(ctx context.Context, run models.RunID)
}

// Dispatcher feeds lifecycle events into the bridge cache and then the notifier.
type Dispatcher struct {
	bridge   *Bridge
	notifier Notifier
	validate *validator.Validate
	tracer   trace.Tracer
	logger   *slog.Logger
}

func NewDispatcher(bridge *Bridge, notifier Notifier, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		bridge:   bridge,
		notifier: notifier,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		tracer:   otel.Tracer(tracerName),
		logger:   logger.With("module", "lifecycle_dispatcher"),
	}
}

// Register subscribes the dispatcher to the lifecycle events of sub.
func (d *Dispatcher) Register(sub eventbus.EventSubscriber) error {
	for _, eventType := range []events.EventType{
		events.RunStartedEvent,
		events.RunCompletedEvent,
		events.RunFinalizedEvent,
	} {
		err := sub.Handle(eventType, d.handle)
		if err != nil {
			return fmt.Errorf("failed to register handler for %s: %w", eventType, err)
		}
	}

	return nil
}

// handle drops invalid events so the bus does not redeliver them.
func (d *Dispatcher) handle(ctx context.Context, event any) error {
	err := d.Dispatch(ctx, event)
	if errors.Is(err, ErrInvalidEvent) {
		d.logger.WarnContext(ctx, "Dropping invalid lifecycle event", "error", err)

		return nil
	}

	return err
}

// Dispatch routes one lifecycle event.
func (d *Dispatcher) Dispatch(ctx context.Context, event any) error {
	switch e := event.(type) {
	case *events.RunStarted:
		ctx, span := d.startSpan(ctx, e.BaseEvent)
		defer span.End()

		return d.started(ctx, e)
	case *events.RunCompleted:
		ctx, span := d.startSpan(ctx, e.BaseEvent)
		defer span.End()

		return d.completed(ctx, e)
	case *events.RunFinalized:
		ctx, span := d.startSpan(ctx, e.BaseEvent)
		defer span.End()

		return d.finalized(ctx, e)
	default:
		return fmt.Errorf("%w: unexpected event %T", ErrInvalidEvent, event)
	}
}

// nolint:ireturn,spancheck // the caller ends the span
func (d *Dispatcher) startSpan(ctx context.Context, event events.BaseEvent) (context.Context, trace.Span) {
	return otelhelper.StartSpan(ctx, d.tracer, "hostbridge.dispatch",
		attribute.String(otelhelper.EventIDKey, event.ID),
		attribute.String(otelhelper.EventTypeKey, string(event.Type)),
		attribute.String(otelhelper.RunIDKey, event.RunID.String()),
	)
}

func (d *Dispatcher) check(event any) error {
	err := d.validate.Struct(event)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}

	return nil
}

func (d *Dispatcher) console(run models.RunID) *slog.Logger {
	return d.logger.With("run", run, "url", d.bridge.URL(context.Background(), run))
}

func (d *Dispatcher) started(ctx context.Context, event *events.RunStarted) error {
	err := d.check(event)
	if err != nil {
		return err
	}

	err = d.bridge.Remember(ctx, event)
	if err != nil {
		return err
	}

	d.logger.DebugContext(ctx, "Run started", "run", event.RunID, "causes", len(event.Causes))
	d.notifier.NotifyStarted(ctx, event.RunID, d.console(event.RunID))

	return nil
}

func (d *Dispatcher) completed(ctx context.Context, event *events.RunCompleted) error {
	err := d.check(event)
	if err != nil {
		return err
	}

	err = d.bridge.Complete(ctx, event)
	if err != nil {
		return err
	}

	d.logger.DebugContext(ctx, "Run completed", "run", event.RunID)
	d.notifier.NotifyCompleted(ctx, event.RunID, d.console(event.RunID))

	return nil
}

func (d *Dispatcher) finalized(ctx context.Context, event *events.RunFinalized) error {
	err := d.check(event)
	if err != nil {
		return err
	}

	d.notifier.NotifyFinalized(ctx, event.RunID)

	return d.bridge.Forget(ctx, event.RunID)
}
