// Package events defines the notifications exchanged between the inbox
// API and the dispatcher through the event bus.
package events

import (
	"errors"
	"time"

	"github.com/dukex/inbox/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic carries every inbox event.
const Topic = "inbox.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	ActivityReceivedEvent EventType = "activity.received"

	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"

	TriggerCreatedEvent EventType = "trigger.created"
	TriggerUpdatedEvent EventType = "trigger.updated"
	TriggerDeletedEvent EventType = "trigger.deleted"
)

var (
	ErrMissingActivity    = errors.New("activity is required")
	ErrMissingExecutionID = errors.New("execution_id is required")
	ErrMissingTriggerID   = errors.New("trigger_id is required")
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Metadata:  make(map[string]any),
	}
}

// ActivityReceived is published by the API when a new activity was stored
// and dispatch runs out of process.
type ActivityReceived struct {
	BaseEvent

	Activity *models.Activity `json:"activity"`
}

func NewActivityReceived(activity *models.Activity) *ActivityReceived {
	return &ActivityReceived{
		BaseEvent: NewBaseEvent(ActivityReceivedEvent),
		Activity:  activity,
	}
}

func (a ActivityReceived) GetType() EventType {
	return ActivityReceivedEvent
}

func (a ActivityReceived) Validate() error {
	if a.Activity == nil || a.Activity.ID == "" {
		return ErrMissingActivity
	}

	return nil
}

type ExecutionCompleted struct {
	BaseEvent

	ExecutionID     string `json:"execution_id"`
	TriggerID       string `json:"trigger_id"`
	ActivityID      string `json:"activity_id"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
}

func NewExecutionCompleted(exec *models.WorkflowExecution) *ExecutionCompleted {
	return &ExecutionCompleted{
		BaseEvent:       NewBaseEvent(ExecutionCompletedEvent),
		ExecutionID:     exec.ID,
		TriggerID:       exec.TriggerID,
		ActivityID:      exec.ActivityID,
		ExecutionTimeMs: executionTime(exec),
	}
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

func (e ExecutionCompleted) Validate() error {
	if e.ExecutionID == "" {
		return ErrMissingExecutionID
	}

	return nil
}

type ExecutionFailed struct {
	BaseEvent

	ExecutionID     string `json:"execution_id"`
	TriggerID       string `json:"trigger_id"`
	ActivityID      string `json:"activity_id"`
	Error           string `json:"error"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
}

func NewExecutionFailed(exec *models.WorkflowExecution) *ExecutionFailed {
	return &ExecutionFailed{
		BaseEvent:       NewBaseEvent(ExecutionFailedEvent),
		ExecutionID:     exec.ID,
		TriggerID:       exec.TriggerID,
		ActivityID:      exec.ActivityID,
		Error:           exec.ErrorMessage,
		ExecutionTimeMs: executionTime(exec),
	}
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

func (e ExecutionFailed) Validate() error {
	if e.ExecutionID == "" {
		return ErrMissingExecutionID
	}

	return nil
}

func executionTime(exec *models.WorkflowExecution) int64 {
	if exec.ExecutionTimeMs == nil {
		return 0
	}

	return *exec.ExecutionTimeMs
}
