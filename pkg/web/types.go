// Package web provides the admin and ingestion HTTP API of the hierarchy killer.
package web

import (
	"time"

	"github.com/dukex/hierarchy-killer/pkg/persistence"
)

type StatsResponse struct {
	Active   bool   `json:"active"`
	Aborted  int64  `json:"aborted"`
	Tracked  int    `json:"tracked"`
	LogLevel string `json:"log_level"`
}

// SetActiveRequest toggles the kill switch. Deactivating drops all tracking.
type SetActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

type SetLogLevelRequest struct {
	Level string `json:"level" validate:"required,oneof=debug info warn error"`
}

type EntriesResponse struct {
	Entries []*persistence.Entry `json:"entries"`
	Count   int                  `json:"count"`
	Limit   int                  `json:"limit"`
}

type AcceptedEventResponse struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
}
