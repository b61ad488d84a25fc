package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/itinera/pkg/eventbus"
	"github.com/dukex/itinera/pkg/gateway"
	"github.com/dukex/itinera/pkg/journey"
	"github.com/dukex/itinera/pkg/log"
	"github.com/dukex/itinera/pkg/models"
	"github.com/dukex/itinera/pkg/persistence"
	"github.com/dukex/itinera/pkg/persistence/file"
)

type noopPublisher struct{}

func (noopPublisher) Publish(_ context.Context, _ string, _ eventbus.Event) error {
	return nil
}

type okGateway struct{}

func (okGateway) SendMessage(_ context.Context, _ gateway.OutboundMessage) (*gateway.SendResult, error) {
	return &gateway.SendResult{MessageID: "wamid-test"}, nil
}

func newEnrollmentService(t *testing.T) (*Enrollment, persistence.Persistence) {
	t.Helper()

	persist := file.NewPersistence(t.TempDir())
	logger := log.Discard()
	enroller := journey.NewEnroller(logger, persist, noopPublisher{}, nil)
	walker := journey.NewWalker(logger, persist, okGateway{}, noopPublisher{})

	return NewEnrollment(persist, enroller, walker), persist
}

func TestEnrollment_ManualEnrollWalksImmediately(t *testing.T) {
	service, persist := newEnrollmentService(t)

	require.NoError(t, persist.Journeys().Save(t.Context(), manualJourney("journey-manual", models.JourneyStatusActive)))
	require.NoError(t, persist.Customers().Save(t.Context(), &models.Customer{ID: "customer-1", Phone: "+5511999990001"}))

	enrollment, err := service.ManualEnroll(t.Context(), "journey-manual", "customer-1")
	require.NoError(t, err)

	assert.Equal(t, models.EnrollmentStatusCompleted, enrollment.Status)
	assert.Equal(t, "node_goal", enrollment.CurrentNodeID)

	trail, err := service.Activity(t.Context(), enrollment.ID)
	require.NoError(t, err)
	require.NotEmpty(t, trail)
	assert.Equal(t, models.ActivityEnrolled, trail[0].Kind)
}

func TestEnrollment_ManualEnrollRequiresActiveJourney(t *testing.T) {
	service, persist := newEnrollmentService(t)

	require.NoError(t, persist.Journeys().Save(t.Context(), manualJourney("journey-draft", models.JourneyStatusDraft)))
	require.NoError(t, persist.Customers().Save(t.Context(), &models.Customer{ID: "customer-1", Phone: "+5511999990001"}))

	_, err := service.ManualEnroll(t.Context(), "journey-draft", "customer-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrJourneyNotActive)
	assert.True(t, IsConflictError(err))
}

func TestEnrollment_ManualEnrollDuplicateConflicts(t *testing.T) {
	service, persist := newEnrollmentService(t)

	// Completed enrollments block re-entry while AllowReentry is off.
	require.NoError(t, persist.Journeys().Save(t.Context(), manualJourney("journey-manual", models.JourneyStatusActive)))
	require.NoError(t, persist.Customers().Save(t.Context(), &models.Customer{ID: "customer-1", Phone: "+5511999990001"}))

	_, err := service.ManualEnroll(t.Context(), "journey-manual", "customer-1")
	require.NoError(t, err)

	_, err = service.ManualEnroll(t.Context(), "journey-manual", "customer-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyEnrolled)
}

func TestEnrollment_ManualEnrollUnknownCustomer(t *testing.T) {
	service, persist := newEnrollmentService(t)

	require.NoError(t, persist.Journeys().Save(t.Context(), manualJourney("journey-manual", models.JourneyStatusActive)))

	_, err := service.ManualEnroll(t.Context(), "journey-manual", "customer-ghost")
	require.Error(t, err)
	assert.True(t, persistence.IsCustomerNotFound(err))
}

func TestEnrollment_ManualEnrollUnknownJourney(t *testing.T) {
	service, _ := newEnrollmentService(t)

	_, err := service.ManualEnroll(t.Context(), "journey-ghost", "customer-1")
	require.Error(t, err)
	assert.True(t, persistence.IsJourneyNotFound(err))
}

func TestEnrollment_ListByJourney(t *testing.T) {
	service, persist := newEnrollmentService(t)

	require.NoError(t, persist.Journeys().Save(t.Context(), manualJourney("journey-manual", models.JourneyStatusActive)))
	require.NoError(t, persist.Customers().Save(t.Context(), &models.Customer{ID: "customer-1", Phone: "+5511999990001"}))
	require.NoError(t, persist.Customers().Save(t.Context(), &models.Customer{ID: "customer-2", Phone: "+5511999990002"}))

	_, err := service.ManualEnroll(t.Context(), "journey-manual", "customer-1")
	require.NoError(t, err)
	_, err = service.ManualEnroll(t.Context(), "journey-manual", "customer-2")
	require.NoError(t, err)

	enrollments, err := service.ListByJourney(t.Context(), "journey-manual")
	require.NoError(t, err)
	assert.Len(t, enrollments, 2)

	_, err = service.ListByJourney(t.Context(), "journey-ghost")
	require.Error(t, err)
	assert.True(t, persistence.IsJourneyNotFound(err))
}

func TestEnrollment_ActivityUnknownEnrollment(t *testing.T) {
	service, _ := newEnrollmentService(t)

	_, err := service.Activity(t.Context(), "enrollment-ghost")
	require.Error(t, err)
	assert.True(t, persistence.IsEnrollmentNotFound(err))
}
