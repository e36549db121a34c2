package hierarchy

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/dukex/hierarchy-killer/pkg/models"
	"github.com/dukex/hierarchy-killer/pkg/otelhelper"
	"github.com/dukex/hierarchy-killer/pkg/protocol"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/dukex/hierarchy-killer/pkg/hierarchy"

// Tracker receives run lifecycle notifications from the host. Its methods are
// safe for concurrent use, do nothing on a nil or shut down tracker, and never
// panic into the caller.
type Tracker struct {
	store  *Store
	binder *Binder
	engine *Engine
	logger *slog.Logger

	active atomic.Bool
	closed atomic.Bool
}

type options struct {
	logger    *slog.Logger
	tracer    trace.Tracer
	observers []Observer
}

type Option func(*options)

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		o.tracer = tracer
	}
}

// WithObserver registers an observer of aborts and cancellations.
func WithObserver(observer Observer) Option {
	return func(o *options) {
		o.observers = append(o.observers, observer)
	}
}

func NewTracker(host protocol.Host, opts ...Option) *Tracker {
	o := &options{
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}

	logger := o.logger.With("module", "hierarchy_tracker")
	store := NewStore()

	t := &Tracker{
		store:  store,
		binder: NewBinder(store, NewPolicyResolver(host, logger), host, logger),
		engine: NewEngine(store, host, logger, o.tracer, o.observers...),
		logger: logger,
	}
	t.active.Store(true)

	logger.Info("Hierarchy tracker initialized")

	return t
}

func (t *Tracker) ready() bool {
	return t != nil && !t.closed.Load() && t.active.Load()
}

func (t *Tracker) console(console *slog.Logger, run models.RunID) *slog.Logger {
	if console == nil {
		console = t.logger
	}

	return console.With("run", run.String())
}

// recoverBoundary keeps internal failures from reaching the host.
func (t *Tracker) recoverBoundary(ctx context.Context, notification string, run models.RunID) {
	if r := recover(); r != nil {
		t.logger.ErrorContext(ctx, "Recovered from panic while handling notification",
			"notification", notification, "run", run, "panic", r)
	}
}

// NotifyStarted adopts run if its configuration enables the hierarchy killer
// and links it to its triggering run.
func (t *Tracker) NotifyStarted(ctx context.Context, run models.RunID, console *slog.Logger) {
	if !t.ready() {
		return
	}
	defer t.recoverBoundary(ctx, "started", run)

	ctx, span := otelhelper.StartSpan(ctx, t.engine.tracer, "hierarchy.started",
		attribute.String(otelhelper.RunIDKey, run.String()))
	defer span.End()

	tracked := t.binder.Bind(ctx, run, t.console(console, run))
	span.SetAttributes(attribute.Bool(otelhelper.TrackedKey, tracked))

	t.logger.DebugContext(ctx, "Run started", "run", run, "tracked", tracked,
		"aborts", t.engine.Aborts(), "tracked_runs", t.store.Size())
}

// NotifyCompleted evaluates the outcome of run and cascades if it is bad enough.
func (t *Tracker) NotifyCompleted(ctx context.Context, run models.RunID, console *slog.Logger) {
	if !t.ready() {
		return
	}
	defer t.recoverBoundary(ctx, "completed", run)

	record, ok := t.store.Get(run)
	if !ok {
		t.logger.DebugContext(ctx, "Run is not governed by the hierarchy killer", "run", run)

		return
	}

	console = t.console(console, run)
	if record.Aborted() {
		console.InfoContext(ctx, "Aborted by hierarchy killer"+record.AbortReason)
	}

	ctx, span := otelhelper.StartSpan(ctx, t.engine.tracer, "hierarchy.completed",
		attribute.String(otelhelper.RunIDKey, run.String()))
	defer span.End()

	t.engine.Evaluate(ctx, run, record, console)
}

// NotifyFinalized forgets run.
func (t *Tracker) NotifyFinalized(ctx context.Context, run models.RunID) {
	if !t.ready() {
		return
	}
	defer t.recoverBoundary(ctx, "finalized", run)

	t.store.Remove(run)
}

// AbortCount returns how many runs were aborted since the tracker was created.
func (t *Tracker) AbortCount() int64 {
	if t == nil {
		return 0
	}

	return t.engine.Aborts()
}

// TrackedCount returns how many runs are currently tracked.
func (t *Tracker) TrackedCount() int {
	if t == nil {
		return 0
	}

	return t.store.Size()
}

// Active reports whether enforcement is enabled.
func (t *Tracker) Active() bool {
	return t.ready()
}

// SetActive switches enforcement on or off. Switching it off drops all
// tracking state immediately.
func (t *Tracker) SetActive(active bool) {
	if t == nil {
		return
	}

	t.active.Store(active)
	t.store.SetEnabled(active)

	t.logger.Info("Hierarchy killer enforcement changed", "active", active)
}

// Shutdown stops the tracker. Later notifications are ignored.
func (t *Tracker) Shutdown(ctx context.Context) {
	if t == nil || t.closed.Swap(true) {
		return
	}

	t.store.SetEnabled(false)
	t.logger.InfoContext(ctx, "Hierarchy tracker shut down", "aborts", t.engine.Aborts())
}
