package hierarchy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/dukex/hierarchy-killer/pkg/models"
	"github.com/dukex/hierarchy-killer/pkg/otelhelper"
	"github.com/dukex/hierarchy-killer/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestTracker(t *testing.T, opts ...Option) (*Tracker, *testutil.FakeHost) {
	t.Helper()

	host := testutil.NewFakeHost()
	tracker := NewTracker(host, append([]Option{WithLogger(quietLogger())}, opts...)...)

	t.Cleanup(func() {
		tracker.Shutdown(context.Background())
	})

	return tracker, host
}

type recordingObserver struct {
	mu        sync.Mutex
	aborted   map[models.RunID]string
	cancelled []string
}

func (o *recordingObserver) RunAborted(_ context.Context, run models.RunID, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.aborted == nil {
		o.aborted = make(map[models.RunID]string)
	}

	o.aborted[run] = reason
}

func (o *recordingObserver) RequestCancelled(_ context.Context, request models.PendingRequest, _ string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.cancelled = append(o.cancelled, request.ID)
}

func TestTracker_DisabledRunsAreNotTracked(t *testing.T) {
	tracker, host := newTestTracker(t)
	ctx := context.Background()

	host.AddRun("parent")
	host.AddRun("other", testutil.WithConfig(models.EnableKey, "True"))
	host.AddRun("child", testutil.KillDownstream(), testutil.TriggeredBy("parent"))

	tracker.NotifyStarted(ctx, "parent", nil)
	tracker.NotifyStarted(ctx, "other", nil)
	tracker.NotifyStarted(ctx, "child", nil)

	assert.Equal(t, 1, tracker.TrackedCount())

	child, ok := tracker.store.Get("child")
	require.True(t, ok)
	assert.Empty(t, child.Upstream)

	host.Finish("parent", models.SeverityFailure)
	tracker.NotifyCompleted(ctx, "parent", nil)

	assert.Empty(t, host.Aborted())
}

func TestTracker_ScenarioA_DownstreamAbortedOnFailure(t *testing.T) {
	tracker, host := newTestTracker(t)
	ctx := context.Background()

	var parentConsole bytes.Buffer

	host.AddRun("P", testutil.KillDownstream())
	host.AddRun("C", testutil.Enabled(), testutil.TriggeredBy("P"))

	tracker.NotifyStarted(ctx, "P", slog.New(slog.NewTextHandler(&parentConsole, nil)))
	tracker.NotifyStarted(ctx, "C", nil)

	parent, ok := tracker.store.Get("P")
	require.True(t, ok)
	assert.Equal(t, []models.RunID{"C"}, parent.Downstream)
	assert.Contains(t, parentConsole.String(), "Triggered: http://ci.example.com/job/C/")

	host.Finish("P", models.SeverityFailure)
	tracker.NotifyCompleted(ctx, "P", nil)

	assert.Equal(t, []models.RunID{"C"}, host.Aborted())
	assert.Equal(t, int64(1), tracker.AbortCount())

	child, ok := tracker.store.Get("C")
	require.True(t, ok)
	assert.Contains(t, child.AbortReason, "http://ci.example.com/job/P/")

	_, ok = tracker.store.Get("P")
	assert.False(t, ok)
}

func TestTracker_ScenarioB_MultipleCausesCreateNoEdge(t *testing.T) {
	tracker, host := newTestTracker(t)
	ctx := context.Background()

	host.AddRun("P", testutil.KillDownstream())
	host.AddRun("C", testutil.Enabled(), testutil.TriggeredBy("P"), testutil.StartedByUser())

	tracker.NotifyStarted(ctx, "P", nil)
	tracker.NotifyStarted(ctx, "C", nil)

	parent, ok := tracker.store.Get("P")
	require.True(t, ok)
	assert.Empty(t, parent.Downstream)

	host.Finish("P", models.SeverityFailure)
	tracker.NotifyCompleted(ctx, "P", nil)

	assert.Empty(t, host.Aborted())
	assert.Equal(t, int64(0), tracker.AbortCount())
}

func TestTracker_SeverityThreshold(t *testing.T) {
	tests := []struct {
		name           string
		killOnUnstable bool
		outcome        models.Severity
		expectAbort    bool
	}{
		{"success never cascades", true, models.SeveritySuccess, false},
		{"unstable ignored by default", false, models.SeverityUnstable, false},
		{"unstable cascades when enabled", true, models.SeverityUnstable, true},
		{"failure always cascades", false, models.SeverityFailure, true},
		{"failure cascades with unstable flag", true, models.SeverityFailure, true},
		{"aborted cascades", false, models.SeverityAborted, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker, host := newTestTracker(t)
			ctx := context.Background()

			parentOpts := []func(*testutil.FakeRun){testutil.KillDownstream()}
			if tt.killOnUnstable {
				parentOpts = append(parentOpts, testutil.KillOnUnstable())
			}

			host.AddRun("R", parentOpts...)
			host.AddRun("C", testutil.Enabled(), testutil.TriggeredBy("R"))

			tracker.NotifyStarted(ctx, "R", nil)
			tracker.NotifyStarted(ctx, "C", nil)

			host.Finish("R", tt.outcome)
			tracker.NotifyCompleted(ctx, "R", nil)

			if tt.expectAbort {
				assert.Equal(t, []models.RunID{"C"}, host.Aborted())
			} else {
				assert.Empty(t, host.Aborted())
			}

			_, ok := tracker.store.Get("R")
			assert.False(t, ok, "completed run must be removed")
		})
	}
}

func TestTracker_ScenarioD_FinishedUpstreamIsNotAborted(t *testing.T) {
	tracker, host := newTestTracker(t)
	ctx := context.Background()

	host.AddRun("U", testutil.Enabled())
	host.AddRun("R", testutil.KillUpstream(), testutil.TriggeredBy("U"))

	tracker.NotifyStarted(ctx, "U", nil)
	tracker.NotifyStarted(ctx, "R", nil)

	record, ok := tracker.store.Get("R")
	require.True(t, ok)
	assert.Equal(t, []models.RunID{"U"}, record.UpstreamRuns())

	host.Finish("U", models.SeveritySuccess)
	tracker.NotifyCompleted(ctx, "U", nil)
	tracker.NotifyFinalized(ctx, "U")

	host.Finish("R", models.SeverityFailure)

	assert.NotPanics(t, func() {
		tracker.NotifyCompleted(ctx, "R", nil)
	})
	assert.Empty(t, host.Aborted())
	assert.Equal(t, 0, tracker.TrackedCount())
}

func TestTracker_UpstreamAbortedOnFailure(t *testing.T) {
	tracker, host := newTestTracker(t)
	ctx := context.Background()

	host.AddRun("U", testutil.Enabled())
	host.AddRun("R", testutil.KillUpstream(), testutil.TriggeredBy("U"))

	tracker.NotifyStarted(ctx, "U", nil)
	tracker.NotifyStarted(ctx, "R", nil)

	host.Finish("R", models.SeverityFailure)
	tracker.NotifyCompleted(ctx, "R", nil)

	assert.Equal(t, []models.RunID{"U"}, host.Aborted())

	upstream, ok := tracker.store.Get("U")
	require.True(t, ok)
	assert.Equal(t, ", caused by http://ci.example.com/job/R/", upstream.AbortReason)
}

func TestTracker_CascadeIsOneHopAndChainsReasons(t *testing.T) {
	tracker, host := newTestTracker(t)
	ctx := context.Background()

	host.AddRun("P", testutil.KillDownstream())
	host.AddRun("C", testutil.KillDownstream(), testutil.TriggeredBy("P"))
	host.AddRun("G", testutil.KillDownstream(), testutil.TriggeredBy("C"))

	for _, run := range []models.RunID{"P", "C", "G"} {
		tracker.NotifyStarted(ctx, run, nil)
	}

	host.Finish("P", models.SeverityFailure)
	tracker.NotifyCompleted(ctx, "P", nil)

	assert.Equal(t, []models.RunID{"C"}, host.Aborted(), "grandchildren are only reached through their parent")

	// The aborted child reports its own completion and continues the cascade.
	tracker.NotifyCompleted(ctx, "C", nil)

	assert.Equal(t, []models.RunID{"C", "G"}, host.Aborted())

	grandchild, ok := tracker.store.Get("G")
	require.True(t, ok)
	assert.Equal(t,
		", caused by http://ci.example.com/job/C/, caused by http://ci.example.com/job/P/",
		grandchild.AbortReason)
	assert.Equal(t, int64(2), tracker.AbortCount())
}

func TestTracker_PendingRequestsWithSoleCauseAreCancelled(t *testing.T) {
	observer := &recordingObserver{}
	tracker, host := newTestTracker(t, WithObserver(observer))
	ctx := context.Background()

	host.AddRun("P", testutil.KillDownstream())
	tracker.NotifyStarted(ctx, "P", nil)

	host.Enqueue(testutil.PendingFrom("q1", "P"))
	host.Enqueue(testutil.PendingFrom("q2", "other"))
	host.Enqueue(models.PendingRequest{
		ID:     "q3",
		Causes: []models.Cause{{UpstreamRun: "P"}, {Description: "Started by timer"}},
	})

	host.Finish("P", models.SeverityFailure)
	tracker.NotifyCompleted(ctx, "P", nil)

	assert.Equal(t, []string{"q1"}, host.Cancelled())
	assert.Equal(t, []string{"q1"}, observer.cancelled)
}

func TestTracker_CancellationsAreTraced(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracker, host := newTestTracker(t, WithTracer(provider.Tracer("test")))
	ctx := context.Background()

	host.AddRun("P", testutil.KillDownstream())
	tracker.NotifyStarted(ctx, "P", nil)
	host.Enqueue(testutil.PendingFrom("q1", "P"))

	host.Finish("P", models.SeverityFailure)
	tracker.NotifyCompleted(ctx, "P", nil)

	var cancelSpans []sdktrace.ReadOnlySpan

	for _, span := range recorder.Ended() {
		if span.Name() == "hierarchy.cancel" {
			cancelSpans = append(cancelSpans, span)
		}
	}

	require.Len(t, cancelSpans, 1)
	assert.Contains(t, cancelSpans[0].Attributes(), attribute.String(otelhelper.RequestIDKey, "q1"))
}

func TestTracker_PendingRequestsIgnoredWithoutDownstreamKill(t *testing.T) {
	tracker, host := newTestTracker(t)
	ctx := context.Background()

	host.AddRun("P", testutil.KillUpstream())
	tracker.NotifyStarted(ctx, "P", nil)
	host.Enqueue(testutil.PendingFrom("q1", "P"))

	host.Finish("P", models.SeverityFailure)
	tracker.NotifyCompleted(ctx, "P", nil)

	assert.Empty(t, host.Cancelled())
}

func TestTracker_UnknownOutcomeRemovesWithoutCascade(t *testing.T) {
	tracker, host := newTestTracker(t)
	ctx := context.Background()

	host.AddRun("P", testutil.KillDownstream())
	host.AddRun("C", testutil.Enabled(), testutil.TriggeredBy("P"))

	tracker.NotifyStarted(ctx, "P", nil)
	tracker.NotifyStarted(ctx, "C", nil)

	tracker.NotifyCompleted(ctx, "P", nil)

	assert.Empty(t, host.Aborted())

	_, ok := tracker.store.Get("P")
	assert.False(t, ok)
}

func TestTracker_FinalizedAlwaysRemoves(t *testing.T) {
	tracker, host := newTestTracker(t)
	ctx := context.Background()

	host.AddRun("R", testutil.KillDownstream())
	tracker.NotifyStarted(ctx, "R", nil)
	require.Equal(t, 1, tracker.TrackedCount())

	tracker.NotifyFinalized(ctx, "R")
	tracker.NotifyFinalized(ctx, "R")
	tracker.NotifyFinalized(ctx, "never-started")

	assert.Equal(t, 0, tracker.TrackedCount())

	_, ok := tracker.store.Get("R")
	assert.False(t, ok)
}

func TestTracker_AbortIsIdempotent(t *testing.T) {
	observer := &recordingObserver{}
	tracker, host := newTestTracker(t, WithObserver(observer))
	ctx := context.Background()

	host.AddRun("R", testutil.Enabled())
	tracker.NotifyStarted(ctx, "R", nil)

	tracker.engine.Abort(ctx, "R", ", caused by first")
	tracker.engine.Abort(ctx, "R", ", caused by second")

	assert.Equal(t, []models.RunID{"R"}, host.Aborted())
	assert.Equal(t, int64(1), tracker.AbortCount())
	assert.Equal(t, map[models.RunID]string{"R": ", caused by first"}, observer.aborted)

	record, ok := tracker.store.Get("R")
	require.True(t, ok)
	assert.Equal(t, ", caused by first", record.AbortReason)
}

func TestTracker_AbortFailureIsSwallowed(t *testing.T) {
	tracker, host := newTestTracker(t)
	ctx := context.Background()

	host.AbortErr = errors.New("executor already gone")
	host.AddRun("P", testutil.KillDownstream())
	host.AddRun("C", testutil.Enabled(), testutil.TriggeredBy("P"))

	tracker.NotifyStarted(ctx, "P", nil)
	tracker.NotifyStarted(ctx, "C", nil)

	host.Finish("P", models.SeverityFailure)

	assert.NotPanics(t, func() {
		tracker.NotifyCompleted(ctx, "P", nil)
	})
	assert.Equal(t, int64(0), tracker.AbortCount())
}

func TestTracker_FailedAbortCanBeRetried(t *testing.T) {
	observer := &recordingObserver{}
	tracker, host := newTestTracker(t, WithObserver(observer))
	ctx := context.Background()

	var childConsole bytes.Buffer

	host.AddRun("R", testutil.Enabled())
	host.AddRun("C", testutil.Enabled())
	tracker.NotifyStarted(ctx, "R", nil)
	tracker.NotifyStarted(ctx, "C", nil)

	host.FailAborts = 1
	tracker.engine.Abort(ctx, "R", ", caused by first")

	assert.True(t, host.IsExecuting(ctx, "R"))
	assert.Empty(t, host.Aborted())
	assert.Equal(t, int64(0), tracker.AbortCount())

	record, ok := tracker.store.Get("R")
	require.True(t, ok)
	assert.False(t, record.Aborted())

	tracker.engine.Abort(ctx, "R", ", caused by second")

	assert.Equal(t, []models.RunID{"R"}, host.Aborted())
	assert.Equal(t, int64(1), tracker.AbortCount())
	assert.Equal(t, map[models.RunID]string{"R": ", caused by second"}, observer.aborted)

	record, ok = tracker.store.Get("R")
	require.True(t, ok)
	assert.Equal(t, ", caused by second", record.AbortReason)

	// A run whose abort was refused finishes without the abort banner.
	host.FailAborts = 1
	tracker.engine.Abort(ctx, "C", ", caused by first")
	host.Finish("C", models.SeveritySuccess)
	tracker.NotifyCompleted(ctx, "C", slog.New(slog.NewTextHandler(&childConsole, nil)))

	assert.NotContains(t, childConsole.String(), "Aborted by hierarchy killer")
}

func TestTracker_ConsoleReportsAbortsAndCancellations(t *testing.T) {
	tracker, host := newTestTracker(t)
	ctx := context.Background()

	var parentConsole, childConsole bytes.Buffer

	host.AddRun("P", testutil.KillDownstream())
	host.AddRun("C", testutil.Enabled(), testutil.TriggeredBy("P"))
	host.Enqueue(testutil.PendingFrom("q1", "P"))

	tracker.NotifyStarted(ctx, "P", nil)
	tracker.NotifyStarted(ctx, "C", nil)

	host.Finish("P", models.SeverityFailure)
	tracker.NotifyCompleted(ctx, "P", slog.New(slog.NewTextHandler(&parentConsole, nil)))

	assert.Contains(t, parentConsole.String(),
		"Waiting item q1 cancelled, caused by http://ci.example.com/job/P/")

	tracker.NotifyCompleted(ctx, "C", slog.New(slog.NewTextHandler(&childConsole, nil)))

	assert.Contains(t, childConsole.String(),
		"Aborted by hierarchy killer, caused by http://ci.example.com/job/P/")
}

func TestTracker_MissingDownstreamRecordIsSkipped(t *testing.T) {
	tracker, host := newTestTracker(t)
	ctx := context.Background()

	host.AddRun("P", testutil.KillDownstream())
	host.AddRun("C1", testutil.Enabled(), testutil.TriggeredBy("P"))
	host.AddRun("C2", testutil.Enabled(), testutil.TriggeredBy("P"))

	for _, run := range []models.RunID{"P", "C1", "C2"} {
		tracker.NotifyStarted(ctx, run, nil)
	}

	tracker.store.Remove("C1")

	host.Finish("P", models.SeverityFailure)
	tracker.NotifyCompleted(ctx, "P", nil)

	assert.Equal(t, []models.RunID{"C2"}, host.Aborted())
}

func TestTracker_NilTrackerIsSafe(t *testing.T) {
	var tracker *Tracker

	ctx := context.Background()

	assert.NotPanics(t, func() {
		tracker.NotifyStarted(ctx, "R", nil)
		tracker.NotifyCompleted(ctx, "R", nil)
		tracker.NotifyFinalized(ctx, "R")
		tracker.SetActive(false)
		tracker.Shutdown(ctx)
	})
	assert.Equal(t, 0, tracker.TrackedCount())
	assert.Equal(t, int64(0), tracker.AbortCount())
	assert.False(t, tracker.Active())
}

func TestTracker_ShutdownIgnoresNotifications(t *testing.T) {
	tracker, host := newTestTracker(t)
	ctx := context.Background()

	host.AddRun("R", testutil.KillDownstream())
	tracker.NotifyStarted(ctx, "R", nil)

	tracker.Shutdown(ctx)
	tracker.NotifyStarted(ctx, "R", nil)

	assert.Equal(t, 0, tracker.TrackedCount())
	assert.False(t, tracker.Active())
}

func TestTracker_KillSwitchDropsState(t *testing.T) {
	tracker, host := newTestTracker(t)
	ctx := context.Background()

	host.AddRun("P", testutil.KillDownstream())
	host.AddRun("C", testutil.Enabled(), testutil.TriggeredBy("P"))

	tracker.NotifyStarted(ctx, "P", nil)
	tracker.NotifyStarted(ctx, "C", nil)
	require.Equal(t, 2, tracker.TrackedCount())

	tracker.SetActive(false)
	assert.Equal(t, 0, tracker.TrackedCount())
	assert.False(t, tracker.Active())

	host.Finish("P", models.SeverityFailure)
	tracker.NotifyCompleted(ctx, "P", nil)
	assert.Empty(t, host.Aborted())

	tracker.SetActive(true)
	host.AddRun("N", testutil.Enabled())
	tracker.NotifyStarted(ctx, "N", nil)
	assert.Equal(t, 1, tracker.TrackedCount())
}

// switchingHost turns the kill switch off while a run's configuration is read.
type switchingHost struct {
	*testutil.FakeHost
	tracker *Tracker
	once    sync.Once
}

func (h *switchingHost) ConfigValue(ctx context.Context, run models.RunID, key string) (string, bool, error) {
	h.once.Do(func() {
		h.tracker.SetActive(false)
	})

	return h.FakeHost.ConfigValue(ctx, run, key)
}

func TestTracker_KillSwitchDuringStartLeavesNoRecord(t *testing.T) {
	host := &switchingHost{FakeHost: testutil.NewFakeHost()}
	host.AddRun("R", testutil.KillDownstream())

	tracker := NewTracker(host, WithLogger(quietLogger()))
	host.tracker = tracker

	ctx := context.Background()

	tracker.NotifyStarted(ctx, "R", nil)
	tracker.NotifyFinalized(ctx, "R")
	tracker.SetActive(true)

	assert.Equal(t, 0, tracker.TrackedCount())

	_, ok := tracker.store.Get("R")
	assert.False(t, ok)
}

type panickingHost struct {
	*testutil.FakeHost
}

func (panickingHost) Causes(context.Context, models.RunID) ([]models.Cause, error) {
	panic("causes unavailable")
}

func TestTracker_RecoversFromHostPanics(t *testing.T) {
	host := panickingHost{FakeHost: testutil.NewFakeHost()}
	host.AddRun("R", testutil.Enabled())

	tracker := NewTracker(host, WithLogger(quietLogger()))

	assert.NotPanics(t, func() {
		tracker.NotifyStarted(context.Background(), "R", nil)
	})
}

func TestTracker_ConcurrentHierarchies(t *testing.T) {
	tracker, host := newTestTracker(t)
	ctx := context.Background()

	const hierarchies = 50

	for i := range hierarchies {
		parent := models.RunID(fmt.Sprintf("P%d", i))
		child := models.RunID(fmt.Sprintf("C%d", i))

		host.AddRun(parent, testutil.KillDownstream())
		host.AddRun(child, testutil.Enabled(), testutil.TriggeredBy(parent))
	}

	var wg sync.WaitGroup

	for i := range hierarchies {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			parent := models.RunID(fmt.Sprintf("P%d", i))
			child := models.RunID(fmt.Sprintf("C%d", i))

			tracker.NotifyStarted(ctx, parent, nil)
			tracker.NotifyStarted(ctx, child, nil)

			host.Finish(parent, models.SeverityFailure)
			tracker.NotifyCompleted(ctx, parent, nil)
			tracker.NotifyFinalized(ctx, parent)

			tracker.NotifyCompleted(ctx, child, nil)
			tracker.NotifyFinalized(ctx, child)
		}(i)
	}

	wg.Wait()

	assert.Equal(t, int64(hierarchies), tracker.AbortCount())
	assert.Len(t, host.Aborted(), hierarchies)
	assert.Equal(t, 0, tracker.TrackedCount())
}
