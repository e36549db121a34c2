// Package models defines the data structures shared by the hierarchy tracker and its adapters.
package models

import (
	"encoding/json"
	"fmt"
)

// RunID identifies one execution of a job. It is only ever compared and used as a key.
type RunID string

func (r RunID) String() string {
	return string(r)
}

// Cause explains why a run (or a pending request) was started.
type Cause struct {
	// UpstreamRun is set when the cause is another run triggering this one.
	UpstreamRun RunID  `json:"upstream_run,omitempty"`
	Description string `json:"description,omitempty"`
}

// Upstream returns the triggering run, if the cause names one.
func (c Cause) Upstream() (RunID, bool) {
	if c.UpstreamRun == "" {
		return "", false
	}

	return c.UpstreamRun, true
}

// SoleUpstream returns the upstream run when causes hold exactly one upstream cause.
// Fan-in (several causes) is deliberately not modelled and reports false.
func SoleUpstream(causes []Cause) (RunID, bool) {
	if len(causes) != 1 {
		return "", false
	}

	return causes[0].Upstream()
}

// PendingRequest is a queued request for a run that has not started yet.
type PendingRequest struct {
	ID     string  `json:"id"`
	Causes []Cause `json:"causes"`
}

// Severity classifies the outcome of a run. Higher values are worse.
type Severity int

const (
	SeveritySuccess Severity = iota
	SeverityUnstable
	SeverityFailure
	SeverityNotBuilt
	SeverityAborted
)

var severityNames = map[Severity]string{
	SeveritySuccess:  "SUCCESS",
	SeverityUnstable: "UNSTABLE",
	SeverityFailure:  "FAILURE",
	SeverityNotBuilt: "NOT_BUILT",
	SeverityAborted:  "ABORTED",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}

	return fmt.Sprintf("Severity(%d)", int(s))
}

// IsWorseThan reports whether s is strictly worse than other.
func (s Severity) IsWorseThan(other Severity) bool {
	return s > other
}

// ParseSeverity maps a result name (e.g. "FAILURE") to its severity.
func ParseSeverity(name string) (Severity, error) {
	for severity, n := range severityNames {
		if n == name {
			return severity, nil
		}
	}

	return 0, fmt.Errorf("unknown severity %q", name)
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string

	err := json.Unmarshal(data, &name)
	if err != nil {
		return err
	}

	parsed, err := ParseSeverity(name)
	if err != nil {
		return err
	}

	*s = parsed

	return nil
}
