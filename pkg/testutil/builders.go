package testutil

import (
	"github.com/dukex/hierarchy-killer/pkg/models"
)

// Enabled turns the hierarchy killer on for the run.
func Enabled() func(*FakeRun) {
	return func(r *FakeRun) {
		r.Config[models.EnableKey] = "true"
	}
}

// KillDownstream enables the hierarchy killer and downstream kills.
func KillDownstream() func(*FakeRun) {
	return func(r *FakeRun) {
		r.Config[models.EnableKey] = "true"
		r.Config[models.KillDownstreamKey] = "true"
	}
}

// KillUpstream enables the hierarchy killer and upstream kills.
func KillUpstream() func(*FakeRun) {
	return func(r *FakeRun) {
		r.Config[models.EnableKey] = "true"
		r.Config[models.KillUpstreamKey] = "true"
	}
}

func KillOnUnstable() func(*FakeRun) {
	return func(r *FakeRun) {
		r.Config[models.KillUnstableKey] = "true"
	}
}

// WithConfig sets a raw configuration value.
func WithConfig(key, value string) func(*FakeRun) {
	return func(r *FakeRun) {
		r.Config[key] = value
	}
}

// TriggeredBy adds an upstream cause pointing at parent.
func TriggeredBy(parent models.RunID) func(*FakeRun) {
	return func(r *FakeRun) {
		r.Causes = append(r.Causes, models.Cause{UpstreamRun: parent, Description: "Started by upstream " + parent.String()})
	}
}

// StartedByUser adds a cause that names no upstream run.
func StartedByUser() func(*FakeRun) {
	return func(r *FakeRun) {
		r.Causes = append(r.Causes, models.Cause{Description: "Started by user"})
	}
}

// PendingFrom builds a queued request whose only cause is parent.
func PendingFrom(id string, parent models.RunID) models.PendingRequest {
	return models.PendingRequest{
		ID:     id,
		Causes: []models.Cause{{UpstreamRun: parent}},
	}
}
