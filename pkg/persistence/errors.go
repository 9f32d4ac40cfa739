package persistence

import (
	"errors"
	"fmt"

	"github.com/dukex/inbox/pkg/models"
)

var (
	// ErrActivityNotFound indicates an activity was not found by the given identifier.
	ErrActivityNotFound = errors.New("activity not found")

	// ErrTriggerNotFound indicates a workflow trigger was not found by the given identifier.
	ErrTriggerNotFound = errors.New("trigger not found")

	// ErrTriggerAlreadyExists indicates a trigger with the same identifier already exists.
	ErrTriggerAlreadyExists = errors.New("trigger already exists")

	// ErrExecutionNotFound indicates an execution was not found by the given identifier.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrInvalidTransition indicates an execution status update that is not
	// a forward move from the stored status.
	ErrInvalidTransition = models.ErrInvalidTransition
)

// RecordError wraps a repository error with the operation and record involved.
type RecordError struct {
	Op     string // Operation being performed (e.g. "ByID", "Insert", "Transition")
	Entity string // "activity", "trigger" or "execution"
	ID     string
	Err    error
}

func (e *RecordError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s operation failed for %s: %v", e.Op, e.Entity, e.Err)
	}

	return fmt.Sprintf("%s operation failed for %s %s: %v", e.Op, e.Entity, e.ID, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

func (e *RecordError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewActivityError(op, id string, err error) *RecordError {
	return &RecordError{Op: op, Entity: "activity", ID: id, Err: err}
}

func NewTriggerError(op, id string, err error) *RecordError {
	return &RecordError{Op: op, Entity: "trigger", ID: id, Err: err}
}

func NewExecutionError(op, id string, err error) *RecordError {
	return &RecordError{Op: op, Entity: "execution", ID: id, Err: err}
}

// IsNotFound checks if an error indicates any record was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrActivityNotFound) ||
		errors.Is(err, ErrTriggerNotFound) ||
		errors.Is(err, ErrExecutionNotFound)
}

func IsTriggerNotFound(err error) bool {
	return errors.Is(err, ErrTriggerNotFound)
}

func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}
