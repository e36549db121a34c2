package models

import (
	"log/slog"
	"slices"
)

// RunRecord is the tracking state of one run. Records are owned by the
// hierarchy store and must only be mutated while holding its lock.
type RunRecord struct {
	Policy Policy

	// Upstream holds at most one run in practice.
	Upstream map[RunID]struct{}
	// Downstream lists children in the order they registered.
	Downstream []RunID
	// AbortReason is set once, when the run is aborted by a cascade.
	AbortReason string

	// Console writes to the run's own output.
	Console *slog.Logger
}

func NewRunRecord(policy Policy, console *slog.Logger) *RunRecord {
	return &RunRecord{
		Policy:   policy,
		Upstream: make(map[RunID]struct{}),
		Console:  console,
	}
}

// Aborted reports whether a cascade has already claimed this run.
func (r *RunRecord) Aborted() bool {
	return r.AbortReason != ""
}

// UpstreamRuns returns the upstream set in a stable order.
func (r *RunRecord) UpstreamRuns() []RunID {
	runs := make([]RunID, 0, len(r.Upstream))
	for id := range r.Upstream {
		runs = append(runs, id)
	}

	slices.Sort(runs)

	return runs
}

// Clone returns a copy that shares no mutable state with r.
func (r *RunRecord) Clone() *RunRecord {
	upstream := make(map[RunID]struct{}, len(r.Upstream))
	for id := range r.Upstream {
		upstream[id] = struct{}{}
	}

	return &RunRecord{
		Policy:      r.Policy,
		Upstream:    upstream,
		Downstream:  slices.Clone(r.Downstream),
		AbortReason: r.AbortReason,
		Console:     r.Console,
	}
}
