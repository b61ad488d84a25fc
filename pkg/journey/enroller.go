package journey

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dukex/itinera/pkg/eventbus"
	"github.com/dukex/itinera/pkg/events"
	"github.com/dukex/itinera/pkg/models"
	"github.com/dukex/itinera/pkg/persistence"
)

// Enroller owns enrollment creation. It is the only code path that writes
// new enrollments, so the one-live-enrollment invariant and the re-entry
// policy are enforced in a single place.
type Enroller struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	testPhones  []string
}

// NewEnroller creates an enrollment manager. testPhones is the
// deployment-wide allowlist test-mode journeys accept on top of their own
// TestPhoneNumbers.
func NewEnroller(logger *slog.Logger, persist persistence.Persistence, publisher eventbus.EventPublisher, testPhones []string) *Enroller {
	return &Enroller{
		logger:      logger.With("module", "enroller"),
		persistence: persist,
		publisher:   publisher,
		testPhones:  testPhones,
	}
}

// TryEnroll enrolls a customer into a journey when no prior enrollment
// blocks it. Duplicate, cooldown and test-mode outcomes are skips, not
// errors; the returned enrollment is positioned at the trigger node and
// still needs its first advance.
func (m *Enroller) TryEnroll(ctx context.Context, journey *models.Journey, customerID string) (*models.Enrollment, SkipReason, error) {
	trigger, err := journey.TriggerNode()
	if err != nil {
		return nil, SkipNone, err
	}

	skip, err := m.checkPrior(ctx, journey, customerID)
	if err != nil {
		return nil, SkipNone, err
	}

	if skip != SkipNone {
		return nil, skip, nil
	}

	if journey.Settings.TestMode {
		allowed, err := m.testModeAllows(ctx, journey, customerID)
		if err != nil {
			return nil, SkipNone, err
		}

		if !allowed {
			return nil, SkipTestMode, nil
		}
	}

	enrollment := models.NewEnrollment(journey.ID, customerID, trigger.ID)

	if err := m.persistence.Enrollments().Create(ctx, enrollment); err != nil {
		return nil, SkipNone, fmt.Errorf("failed to create enrollment: %w", err)
	}

	entry := models.NewActivity(enrollment, trigger.ID, models.ActivityEnrolled, map[string]any{
		"trigger_kind": string(trigger.Trigger.Kind),
	})
	if err := m.persistence.Activities().Append(ctx, entry); err != nil {
		return nil, SkipNone, fmt.Errorf("failed to append enrolled activity: %w", err)
	}

	event := events.EnrollmentCreated{
		BaseEvent:    events.NewBaseEvent(events.EnrollmentCreatedEvent, journey.ID),
		EnrollmentID: enrollment.ID,
		CustomerID:   customerID,
		TriggerKind:  string(trigger.Trigger.Kind),
	}
	if err := m.publisher.Publish(ctx, enrollment.ID, event); err != nil {
		m.logger.WarnContext(ctx, "Failed to publish enrollment created event",
			"enrollment_id", enrollment.ID,
			"error", err)
	}

	m.logger.InfoContext(ctx, "Enrolled customer",
		"journey_id", journey.ID,
		"customer_id", customerID,
		"enrollment_id", enrollment.ID)

	return enrollment, SkipNone, nil
}

// checkPrior applies the dedup and re-entry rules against the customer's
// enrollment history in this journey. Live enrollments always block.
// Completed and exited enrollments block unless re-entry is allowed and
// the cooldown has elapsed; failed enrollments never block.
func (m *Enroller) checkPrior(ctx context.Context, journey *models.Journey, customerID string) (SkipReason, error) {
	prior, err := m.persistence.Enrollments().ByJourneyAndCustomer(ctx, journey.ID, customerID)
	if err != nil {
		return SkipNone, fmt.Errorf("failed to load prior enrollments: %w", err)
	}

	var lastCompletion time.Time

	blocked := false

	for _, enrollment := range prior {
		if enrollment.Blocks() {
			return SkipDuplicate, nil
		}

		switch enrollment.Status {
		case models.EnrollmentStatusCompleted, models.EnrollmentStatusExited:
			blocked = true

			if completion := enrollment.CompletionTime(); completion.After(lastCompletion) {
				lastCompletion = completion
			}
		case models.EnrollmentStatusFailed:
		case models.EnrollmentStatusActive, models.EnrollmentStatusWaiting:
		}
	}

	if !blocked {
		return SkipNone, nil
	}

	if !journey.Settings.AllowReentry {
		return SkipDuplicate, nil
	}

	if time.Now().UTC().Sub(lastCompletion) < journey.Settings.ReentryCooldown() {
		return SkipCooldown, nil
	}

	return SkipNone, nil
}

// testModeAllows reports whether the customer may enter a test-mode
// journey: either the id is listed or the phone matches a journey-level or
// deployment-level test number.
func (m *Enroller) testModeAllows(ctx context.Context, journey *models.Journey, customerID string) (bool, error) {
	if slices.Contains(journey.Settings.TestCustomerIDs, customerID) {
		return true, nil
	}

	if len(journey.Settings.TestPhoneNumbers) == 0 && len(m.testPhones) == 0 {
		return false, nil
	}

	customer, err := m.persistence.Customers().ByID(ctx, customerID)
	if err != nil {
		if persistence.IsCustomerNotFound(err) {
			return false, nil
		}

		return false, fmt.Errorf("failed to load customer %s: %w", customerID, err)
	}

	return slices.Contains(journey.Settings.TestPhoneNumbers, customer.Phone) ||
		slices.Contains(m.testPhones, customer.Phone), nil
}
