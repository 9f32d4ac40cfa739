package models

import (
	"errors"
	"fmt"
	"time"
)

// ExecutionStatus is the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// ErrInvalidTransition is returned when an execution would move backwards
// or leave a terminal state.
var ErrInvalidTransition = errors.New("invalid execution status transition")

// ParseExecutionStatus validates a status name.
func ParseExecutionStatus(s string) (ExecutionStatus, error) {
	status := ExecutionStatus(s)
	switch status {
	case ExecutionStatusPending, ExecutionStatusRunning, ExecutionStatusCompleted, ExecutionStatusFailed:
		return status, nil
	default:
		return "", fmt.Errorf("unknown execution status %q", s)
	}
}

// Terminal reports whether no further transition is possible.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed
}

// CanTransition reports whether from -> to is a forward move.
// pending -> failed is permitted so that executions which never started
// (unresolvable action, abandoned work) can still be closed.
func CanTransition(from, to ExecutionStatus) bool {
	switch from {
	case ExecutionStatusPending:
		return to == ExecutionStatusRunning || to == ExecutionStatusFailed
	case ExecutionStatusRunning:
		return to == ExecutionStatusCompleted || to == ExecutionStatusFailed
	default:
		return false
	}
}

// WorkflowExecution records one dispatched agent action.
type WorkflowExecution struct {
	ID              string          `json:"id"`
	TriggerID       string          `json:"trigger_id"`
	ActivityID      string          `json:"activity_id"`
	Status          ExecutionStatus `json:"status"`
	ExecutionTimeMs *int64          `json:"execution_time_ms,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// ExecutionStats counts executions per status.
type ExecutionStats struct {
	Total                  int64   `json:"total"`
	Pending                int64   `json:"pending"`
	Running                int64   `json:"running"`
	Completed              int64   `json:"completed"`
	Failed                 int64   `json:"failed"`
	AverageExecutionTimeMs float64 `json:"average_execution_time_ms"`
}
