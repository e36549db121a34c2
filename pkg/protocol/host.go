// Package protocol defines the capabilities the hierarchy tracker consumes from the build host.
package protocol

import (
	"context"

	"github.com/dukex/hierarchy-killer/pkg/models"
)

// CauseSource enumerates why a run was started.
type CauseSource interface {
	Causes(ctx context.Context, run models.RunID) ([]models.Cause, error)
}

// Executor controls the execution of a run. Every trackable run representation
// is reachable through it, so the tracker never needs to inspect run types.
type Executor interface {
	// IsExecuting reports whether the run is still running.
	IsExecuting(ctx context.Context, run models.RunID) bool

	// Abort asks the host to stop the run. It does not wait for the run to stop;
	// the host must later deliver a completion notification for it.
	Abort(ctx context.Context, run models.RunID) error
}

// OutcomeSource reports the result of a run. The boolean is false while the
// result is not known.
type OutcomeSource interface {
	Outcome(ctx context.Context, run models.RunID) (models.Severity, bool)
}

// ConfigSource reads a named configuration value of a run.
type ConfigSource interface {
	ConfigValue(ctx context.Context, run models.RunID, key string) (string, bool, error)
}

// RunDescriber renders a human readable location of a run, used in reasons and logs.
type RunDescriber interface {
	URL(ctx context.Context, run models.RunID) string
}

// Queue exposes requests that are waiting to start.
type Queue interface {
	PendingRequests(ctx context.Context) ([]models.PendingRequest, error)
	Cancel(ctx context.Context, request models.PendingRequest) error
}

// Host is everything the tracker needs from the build host.
type Host interface {
	CauseSource
	Executor
	OutcomeSource
	ConfigSource
	RunDescriber
	Queue
}
