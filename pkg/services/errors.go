// Package services provides standardized error types for service layer operations.
package services

import (
	"errors"
	"fmt"
)

// Business logic errors. Validation errors map to 400, conflicts to 409.
var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrInvalidStatus   = errors.New("invalid journey status")
	ErrInvalidDocument = errors.New("invalid journey document")
	ErrJourneyNil      = errors.New("journey cannot be nil")

	// Lifecycle conflicts.
	ErrJourneyNotDraft      = errors.New("journey is not a draft")
	ErrJourneyNotActive     = errors.New("journey is not active")
	ErrAlreadyEnrolled      = errors.New("customer already enrolled")
	ErrEnrollmentOnCooldown = errors.New("customer re-entry cooldown has not elapsed")
	ErrTestModeExcluded     = errors.New("customer is not on the test allowlist")
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
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrInvalidDocument) ||
		errors.Is(err, ErrJourneyNil)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrJourneyNotDraft) ||
		errors.Is(err, ErrJourneyNotActive) ||
		errors.Is(err, ErrAlreadyEnrolled) ||
		errors.Is(err, ErrEnrollmentOnCooldown) ||
		errors.Is(err, ErrTestModeExcluded)
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
