// Package services provides the application operations behind the HTTP API
// and the dispatcher worker.
package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/inbox/pkg/models"
	"github.com/dukex/inbox/pkg/normalizer"
	"github.com/dukex/inbox/pkg/persistence"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	ErrInvalidRequest     = errors.New("invalid request")
	ErrInvalidTimeframe   = errors.New("invalid timeframe")
	ErrInvalidConditions  = errors.New("invalid conditions")
	ErrInvalidAgentConfig = errors.New("invalid agent config")
	ErrInvalidStatus      = errors.New("invalid execution status")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string   // Operation name
	Code    string   // Error code for API responses
	Message string   // Human-readable message
	Details []string // Individual problems, when there are several
	Err     error    // Underlying error
}

func (e *ServiceError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}

	if len(e.Details) > 0 {
		msg += ": " + strings.Join(e.Details, "; ")
	}

	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidTimeframe) ||
		errors.Is(err, ErrInvalidConditions) ||
		errors.Is(err, ErrInvalidAgentConfig) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, models.ErrUnknownPlatform) ||
		errors.Is(err, normalizer.ErrNormalization)
}

// IsNotFound checks if an error should return HTTP 404.
func IsNotFound(err error) bool {
	return persistence.IsNotFound(err)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error, details ...string) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Details: details,
		Err:     err,
	}
}
