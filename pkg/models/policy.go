package models

// Configuration keys read from a run's environment when it starts.
const (
	EnableKey         = "ENABLE_HIERARCHY_KILLER"
	KillUpstreamKey   = "HIERARCHY_KILLER_KILL_UPSTREAM"
	KillDownstreamKey = "HIERARCHY_KILLER_KILL_DOWNSTREAM"
	KillUnstableKey   = "HIERARCHY_KILLER_KILL_UNSTABLE"
)

// Policy is the kill policy captured for a run at start time.
type Policy struct {
	Enabled        bool `json:"enabled"`
	KillUpstream   bool `json:"kill_upstream"`
	KillDownstream bool `json:"kill_downstream"`
	KillOnUnstable bool `json:"kill_on_unstable"`
}

// Triggers reports whether an outcome is bad enough to start a cascade.
func (p Policy) Triggers(outcome Severity) bool {
	if p.KillOnUnstable {
		return outcome.IsWorseThan(SeveritySuccess)
	}

	return outcome.IsWorseThan(SeverityUnstable)
}
