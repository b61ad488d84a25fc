package services

import (
	"context"
	"fmt"

	"github.com/dukex/itinera/pkg/journey"
	"github.com/dukex/itinera/pkg/models"
	"github.com/dukex/itinera/pkg/persistence"
)

// ErrEnrollmentNotFound is returned when an enrollment is not found.
var ErrEnrollmentNotFound = persistence.ErrEnrollmentNotFound

// Enrollment exposes manual journey entry and the enrollment read surface.
type Enrollment struct {
	persistence persistence.Persistence
	enroller    *journey.Enroller
	walker      *journey.Walker
}

// NewEnrollment creates a new enrollment service.
func NewEnrollment(persistence persistence.Persistence, enroller *journey.Enroller, walker *journey.Walker) *Enrollment {
	return &Enrollment{
		persistence: persistence,
		enroller:    enroller,
		walker:      walker,
	}
}

// ManualEnroll enters one customer into a journey outside the sweep cycle.
// The journey must be active and the customer known; the usual duplicate,
// cooldown and test-mode gates apply.
func (s *Enrollment) ManualEnroll(ctx context.Context, journeyID, customerID string) (*models.Enrollment, error) {
	definition, err := s.persistence.Journeys().ByID(ctx, journeyID)
	if err != nil {
		return nil, err
	}

	if definition.Status != models.JourneyStatusActive {
		return nil, ErrJourneyNotActive
	}

	if _, err := s.persistence.Customers().ByID(ctx, customerID); err != nil {
		return nil, err
	}

	enrollment, skip, err := s.enroller.TryEnroll(ctx, definition, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to enroll customer %s: %w", customerID, err)
	}

	switch skip {
	case journey.SkipNone:
	case journey.SkipDuplicate:
		return nil, ErrAlreadyEnrolled
	case journey.SkipCooldown:
		return nil, ErrEnrollmentOnCooldown
	case journey.SkipTestMode:
		return nil, ErrTestModeExcluded
	}

	// The first advance happens inline so the caller sees where the
	// enrollment landed. Walk failures are recorded on the enrollment
	// itself, not surfaced as request errors.
	if _, err := s.walker.Advance(ctx, definition, enrollment); err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}

	return enrollment, nil
}

// FetchByID retrieves an enrollment by its ID.
func (s *Enrollment) FetchByID(ctx context.Context, id string) (*models.Enrollment, error) {
	return s.persistence.Enrollments().ByID(ctx, id)
}

// ListByJourney retrieves every enrollment of a journey.
func (s *Enrollment) ListByJourney(ctx context.Context, journeyID string) ([]*models.Enrollment, error) {
	if _, err := s.persistence.Journeys().ByID(ctx, journeyID); err != nil {
		return nil, err
	}

	return s.persistence.Enrollments().ByJourney(ctx, journeyID)
}

// Activity retrieves the audit trail of one enrollment in append order.
func (s *Enrollment) Activity(ctx context.Context, enrollmentID string) ([]*models.ActivityEntry, error) {
	if _, err := s.persistence.Enrollments().ByID(ctx, enrollmentID); err != nil {
		return nil, err
	}

	return s.persistence.Activities().ByEnrollment(ctx, enrollmentID)
}
