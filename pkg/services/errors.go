// Package services provides standardized error types for service layer operations.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/cadence/pkg/models"
	"github.com/dukex/cadence/pkg/persistence"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest            = errors.New("invalid request")
	ErrInvalidScheduleDefinition = errors.New("invalid schedule definition")
	ErrInvalidRunInputs          = errors.New("invalid run inputs")

	// Not Found Errors (404 Not Found).
	ErrScheduleNotFound = persistence.ErrScheduleNotFound
	ErrRunNotFound      = persistence.ErrRunNotFound
	ErrWorkflowNotFound = persistence.ErrWorkflowNotFound

	// State Transition Errors (409 Conflict).
	ErrInvalidRunState    = errors.New("invalid run state transition")
	ErrScheduleNotEnabled = errors.New("schedule is not enabled")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
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
		errors.Is(err, ErrInvalidScheduleDefinition) ||
		errors.Is(err, ErrInvalidRunInputs)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return persistence.IsNotFound(err)
}

// IsStateError checks if an error is an illegal state transition that should return HTTP 409.
func IsStateError(err error) bool {
	return errors.Is(err, ErrInvalidRunState) ||
		errors.Is(err, ErrScheduleNotEnabled)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func newScheduleDefinitionError(op, message string) *ServiceError {
	return NewValidationError(op, "INVALID_SCHEDULE_DEFINITION", message, ErrInvalidScheduleDefinition)
}

func newRunStateError(op, runID string, from string, to string) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    "INVALID_RUN_STATE",
		Message: fmt.Sprintf("run %s cannot move from %s to %s", runID, from, to),
		Err:     ErrInvalidRunState,
	}
}

// NewScheduleNotEnabledError reports an attempt to dispatch a schedule that is not enabled.
func NewScheduleNotEnabledError(op, scheduleID string, status models.ScheduleStatus) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    "SCHEDULE_NOT_ENABLED",
		Message: fmt.Sprintf("schedule %s is %s", scheduleID, status),
		Err:     ErrScheduleNotEnabled,
	}
}
