package hostbridge

import "errors"

var (
	// ErrRunUnknown indicates the bridge has not seen a run.started event for a run.
	ErrRunUnknown = errors.New("run unknown to the host bridge")

	// ErrInvalidEvent indicates a lifecycle event failed validation.
	ErrInvalidEvent = errors.New("invalid lifecycle event")
)
