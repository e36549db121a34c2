// Package testutil provides an in-memory build host and builders for tests.
package testutil

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/dukex/hierarchy-killer/pkg/models"
)

var ErrRunFinished = errors.New("run already finished")

// FakeRun is the host-side state of one run.
type FakeRun struct {
	ID        models.RunID
	URL       string
	Causes    []models.Cause
	Config    map[string]string
	Executing bool
	Outcome   *models.Severity
	// ConfigErr is returned by every configuration lookup when set.
	ConfigErr error
}

// FakeHost implements protocol.Host in memory. Aborting a run stops it and
// records the call; it does not emit a completion notification.
type FakeHost struct {
	mu        sync.Mutex
	runs      map[models.RunID]*FakeRun
	pending   []models.PendingRequest
	aborted   []models.RunID
	cancelled []string
	// AbortErr, when set, is returned by Abort after marking the run stopped.
	AbortErr error
	// FailAborts makes that many upcoming Abort calls fail and leave the run executing.
	FailAborts int
}

// ErrAbortRejected is returned by Abort while FailAborts is positive.
var ErrAbortRejected = errors.New("abort request rejected")

func NewFakeHost() *FakeHost {
	return &FakeHost{
		runs: make(map[models.RunID]*FakeRun),
	}
}

// AddRun registers an executing run built from the overrides.
func (h *FakeHost) AddRun(id models.RunID, overrides ...func(*FakeRun)) *FakeRun {
	run := &FakeRun{
		ID:        id,
		URL:       "http://ci.example.com/job/" + string(id) + "/",
		Config:    map[string]string{},
		Executing: true,
	}

	for _, override := range overrides {
		override(run)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.runs[id] = run

	return run
}

// Finish stops run with outcome.
func (h *FakeHost) Finish(id models.RunID, outcome models.Severity) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if run, ok := h.runs[id]; ok {
		run.Executing = false
		run.Outcome = &outcome
	}
}

func (h *FakeHost) Enqueue(request models.PendingRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.pending = append(h.pending, request)
}

func (h *FakeHost) Aborted() []models.RunID {
	h.mu.Lock()
	defer h.mu.Unlock()

	return slices.Clone(h.aborted)
}

func (h *FakeHost) Cancelled() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return slices.Clone(h.cancelled)
}

func (h *FakeHost) Causes(_ context.Context, id models.RunID) ([]models.Cause, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	run, ok := h.runs[id]
	if !ok {
		return nil, errors.New("unknown run")
	}

	return slices.Clone(run.Causes), nil
}

func (h *FakeHost) IsExecuting(_ context.Context, id models.RunID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	run, ok := h.runs[id]

	return ok && run.Executing
}

func (h *FakeHost) Abort(_ context.Context, id models.RunID) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	run, ok := h.runs[id]
	if !ok || !run.Executing {
		return ErrRunFinished
	}

	if h.FailAborts > 0 {
		h.FailAborts--

		return ErrAbortRejected
	}

	run.Executing = false
	aborted := models.SeverityAborted
	run.Outcome = &aborted
	h.aborted = append(h.aborted, id)

	return h.AbortErr
}

func (h *FakeHost) Outcome(_ context.Context, id models.RunID) (models.Severity, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	run, ok := h.runs[id]
	if !ok || run.Outcome == nil {
		return 0, false
	}

	return *run.Outcome, true
}

func (h *FakeHost) ConfigValue(_ context.Context, id models.RunID, key string) (string, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	run, ok := h.runs[id]
	if !ok {
		return "", false, nil
	}

	if run.ConfigErr != nil {
		return "", false, run.ConfigErr
	}

	value, ok := run.Config[key]

	return value, ok, nil
}

func (h *FakeHost) URL(_ context.Context, id models.RunID) string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if run, ok := h.runs[id]; ok {
		return run.URL
	}

	return ""
}

func (h *FakeHost) PendingRequests(_ context.Context) ([]models.PendingRequest, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	return slices.Clone(h.pending), nil
}

func (h *FakeHost) Cancel(_ context.Context, request models.PendingRequest) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.pending = slices.DeleteFunc(h.pending, func(p models.PendingRequest) bool {
		return p.ID == request.ID
	})
	h.cancelled = append(h.cancelled, request.ID)

	return nil
}
