// Package persistence provides the data storage abstraction for journeys,
// enrollments, activity records and the customer/segment catalog.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/itinera/pkg/models"
)

// Persistence bundles the repositories one store implementation provides.
type Persistence interface {
	Journeys() JourneyRepository
	Enrollments() EnrollmentRepository
	Activities() ActivityRepository
	Customers() CustomerRepository
	Checkouts() CheckoutRepository
	Segments() SegmentRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// JourneyRepository stores journey definitions. Save is an upsert.
type JourneyRepository interface {
	All(ctx context.Context) ([]*models.Journey, error)
	ByStatus(ctx context.Context, status models.JourneyStatus) ([]*models.Journey, error)
	ByID(ctx context.Context, id string) (*models.Journey, error)
	Save(ctx context.Context, journey *models.Journey) error
	Delete(ctx context.Context, id string) error
}

// EnrollmentRepository stores enrollments. Update is conditional on the
// enrollment's version: a concurrent writer that got there first causes
// ErrEnrollmentConflict and the caller treats the record as lost to the
// other path. Successful updates bump Version on the passed value.
type EnrollmentRepository interface {
	ByID(ctx context.Context, id string) (*models.Enrollment, error)
	ByJourney(ctx context.Context, journeyID string) ([]*models.Enrollment, error)
	ByJourneyAndCustomer(ctx context.Context, journeyID, customerID string) ([]*models.Enrollment, error)
	ActiveByJourney(ctx context.Context, journeyID string) ([]*models.Enrollment, error)
	WaitingElapsed(ctx context.Context, before time.Time) ([]*models.Enrollment, error)
	ByMessageID(ctx context.Context, messageID string) (*models.Enrollment, error)
	Create(ctx context.Context, enrollment *models.Enrollment) error
	Update(ctx context.Context, enrollment *models.Enrollment) error
}

// ActivityRepository is the append-only audit log.
type ActivityRepository interface {
	Append(ctx context.Context, entry *models.ActivityEntry) error
	ByEnrollment(ctx context.Context, enrollmentID string) ([]*models.ActivityEntry, error)
}

// CustomerRepository stores customer profiles. Save is an upsert.
type CustomerRepository interface {
	All(ctx context.Context) ([]*models.Customer, error)
	ByID(ctx context.Context, id string) (*models.Customer, error)
	Save(ctx context.Context, customer *models.Customer) error
}

// CheckoutRepository reads the checkout snapshots abandoned-cart triggers
// consume. Save exists for seeding and synchronization jobs.
type CheckoutRepository interface {
	ListOpen(ctx context.Context) ([]*models.Checkout, error)
	Save(ctx context.Context, checkout *models.Checkout) error
}

// SegmentRepository stores reusable segment definitions.
type SegmentRepository interface {
	All(ctx context.Context) ([]*models.Segment, error)
	ByID(ctx context.Context, id string) (*models.Segment, error)
	Save(ctx context.Context, segment *models.Segment) error
}
