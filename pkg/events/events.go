// Package events defines the run lifecycle, command and audit events exchanged with the build host.
package events

import (
	"time"

	"github.com/dukex/hierarchy-killer/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topics.
const (
	LifecycleTopic = "hierarchy.lifecycle" // host -> killer
	CommandTopic   = "hierarchy.commands"  // killer -> host
	AuditTopic     = "hierarchy.audit"     // killer -> observers
)

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Lifecycle notifications published by the host.
	RunStartedEvent   EventType = "run.started"
	RunCompletedEvent EventType = "run.completed"
	RunFinalizedEvent EventType = "run.finalized"

	// Commands the host must carry out.
	AbortRequestedEvent  EventType = "run.abort.requested"
	CancelRequestedEvent EventType = "request.cancel.requested"

	// Audit trail of cascades.
	RunAbortedEvent       EventType = "run.aborted"
	RequestCancelledEvent EventType = "request.cancelled"
)

var topics = map[EventType]string{
	RunStartedEvent:       LifecycleTopic,
	RunCompletedEvent:     LifecycleTopic,
	RunFinalizedEvent:     LifecycleTopic,
	AbortRequestedEvent:   CommandTopic,
	CancelRequestedEvent:  CommandTopic,
	RunAbortedEvent:       AuditTopic,
	RequestCancelledEvent: AuditTopic,
}

// TopicFor returns the topic events of eventType are published on.
func TopicFor(eventType EventType) string {
	if topic, ok := topics[eventType]; ok {
		return topic
	}

	return AuditTopic
}

type BaseEvent struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	RunID     models.RunID      `json:"run_id"             validate:"required"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, run models.RunID) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		RunID:     run,
		Metadata:  make(map[string]string),
	}
}

// RunStarted carries everything the host knows about a run when it starts.
type RunStarted struct {
	BaseEvent

	URL    string            `json:"url"`
	Causes []models.Cause    `json:"causes"`
	Config map[string]string `json:"config"`
}

func (e RunStarted) GetType() EventType {
	return RunStartedEvent
}

type RunCompleted struct {
	BaseEvent

	// Outcome is nil when the host does not know the result.
	Outcome *models.Severity `json:"outcome,omitempty"`
}

func (e RunCompleted) GetType() EventType {
	return RunCompletedEvent
}

type RunFinalized struct {
	BaseEvent
}

func (e RunFinalized) GetType() EventType {
	return RunFinalizedEvent
}

// AbortRequested asks the host to stop RunID. The host answers with a
// run.completed event once the run has stopped.
type AbortRequested struct {
	BaseEvent
}

func (e AbortRequested) GetType() EventType {
	return AbortRequestedEvent
}

// CancelRequested asks the host to drop a queued request. RunID is the run
// whose failure cancelled it.
type CancelRequested struct {
	BaseEvent

	RequestID string `json:"request_id" validate:"required"`
}

func (e CancelRequested) GetType() EventType {
	return CancelRequestedEvent
}

type RunAborted struct {
	BaseEvent

	Reason string `json:"reason"`
}

func (e RunAborted) GetType() EventType {
	return RunAbortedEvent
}

// RequestCancelled is emitted for a queued request; RunID is the run whose
// failure cancelled it.
type RequestCancelled struct {
	BaseEvent

	RequestID string `json:"request_id"`
	Reason    string `json:"reason"`
}

func (e RequestCancelled) GetType() EventType {
	return RequestCancelledEvent
}

// New returns an empty event value for eventType, ready to be unmarshalled into.
func New(eventType EventType) (any, bool) {
	switch eventType {
	case RunStartedEvent:
		return &RunStarted{}, true
	case RunCompletedEvent:
		return &RunCompleted{}, true
	case RunFinalizedEvent:
		return &RunFinalized{}, true
	case AbortRequestedEvent:
		return &AbortRequested{}, true
	case CancelRequestedEvent:
		return &CancelRequested{}, true
	case RunAbortedEvent:
		return &RunAborted{}, true
	case RequestCancelledEvent:
		return &RequestCancelled{}, true
	default:
		return nil, false
	}
}
