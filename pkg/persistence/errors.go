// Package persistence provides standardized error types for store operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations must use.
var (
	// ErrJourneyNotFound indicates a journey was not found by the given identifier.
	ErrJourneyNotFound = errors.New("journey not found")

	// ErrEnrollmentNotFound indicates an enrollment was not found.
	ErrEnrollmentNotFound = errors.New("enrollment not found")

	// ErrEnrollmentConflict indicates a conditional update lost a version race.
	ErrEnrollmentConflict = errors.New("enrollment modified concurrently")

	// ErrCustomerNotFound indicates a customer was not found.
	ErrCustomerNotFound = errors.New("customer not found")

	// ErrSegmentNotFound indicates a segment was not found.
	ErrSegmentNotFound = errors.New("segment not found")

	// ErrCheckoutNotFound indicates a checkout was not found.
	ErrCheckoutNotFound = errors.New("checkout not found")
)

// JourneyError wraps journey store errors with operation context.
type JourneyError struct {
	Op        string // Operation being performed (e.g., "ByID", "Save", "Delete")
	JourneyID string
	Err       error
}

func (e *JourneyError) Error() string {
	return fmt.Sprintf("%s operation failed for journey %s: %v", e.Op, e.JourneyID, e.Err)
}

func (e *JourneyError) Unwrap() error {
	return e.Err
}

func (e *JourneyError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewJourneyError creates a journey store error with context.
func NewJourneyError(op, journeyID string, err error) *JourneyError {
	return &JourneyError{
		Op:        op,
		JourneyID: journeyID,
		Err:       err,
	}
}

// EnrollmentError wraps enrollment store errors with operation context.
type EnrollmentError struct {
	Op           string
	EnrollmentID string
	Err          error
}

func (e *EnrollmentError) Error() string {
	return fmt.Sprintf("%s operation failed for enrollment %s: %v", e.Op, e.EnrollmentID, e.Err)
}

func (e *EnrollmentError) Unwrap() error {
	return e.Err
}

func (e *EnrollmentError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewEnrollmentError creates an enrollment store error with context.
func NewEnrollmentError(op, enrollmentID string, err error) *EnrollmentError {
	return &EnrollmentError{
		Op:           op,
		EnrollmentID: enrollmentID,
		Err:          err,
	}
}

// IsJourneyNotFound checks if an error indicates a missing journey.
func IsJourneyNotFound(err error) bool {
	return errors.Is(err, ErrJourneyNotFound)
}

// IsEnrollmentNotFound checks if an error indicates a missing enrollment.
func IsEnrollmentNotFound(err error) bool {
	return errors.Is(err, ErrEnrollmentNotFound)
}

// IsEnrollmentConflict checks if an error indicates a lost version race.
func IsEnrollmentConflict(err error) bool {
	return errors.Is(err, ErrEnrollmentConflict)
}

// IsCustomerNotFound checks if an error indicates a missing customer.
func IsCustomerNotFound(err error) bool {
	return errors.Is(err, ErrCustomerNotFound)
}

// IsSegmentNotFound checks if an error indicates a missing segment.
func IsSegmentNotFound(err error) bool {
	return errors.Is(err, ErrSegmentNotFound)
}
