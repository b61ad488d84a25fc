package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dukex/itinera/pkg/journey"
	"github.com/dukex/itinera/pkg/models"
	"github.com/dukex/itinera/pkg/persistence"
)

// ErrJourneyNotFound is returned when a journey is not found.
var ErrJourneyNotFound = persistence.ErrJourneyNotFound

// Journey manages journey definitions: import, lifecycle transitions,
// reads and dry runs. Definitions are editable only while drafted;
// activation refuses a graph that does not validate.
type Journey struct {
	persistence persistence.Persistence
	simulator   *journey.Simulator
}

// NewJourney creates a new journey service.
func NewJourney(persistence persistence.Persistence, simulator *journey.Simulator) *Journey {
	return &Journey{
		persistence: persistence,
		simulator:   simulator,
	}
}

// HealthCheck checks the health of the persistence layer.
func (s *Journey) HealthCheck(ctx context.Context) (string, bool) {
	if s.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := s.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// List retrieves journeys, optionally filtered by status.
func (s *Journey) List(ctx context.Context, status string) ([]*models.Journey, error) {
	if status == "" {
		return s.persistence.Journeys().All(ctx)
	}

	parsed, err := parseStatus(status)
	if err != nil {
		return nil, err
	}

	return s.persistence.Journeys().ByStatus(ctx, parsed)
}

// FetchByID retrieves a journey by its ID.
func (s *Journey) FetchByID(ctx context.Context, id string) (*models.Journey, error) {
	return s.persistence.Journeys().ByID(ctx, id)
}

// Import decodes and stores a journey document. The raw document is checked
// against the JSON Schema before decoding; graph validation runs only when
// the document asks for a non-draft status, so incomplete drafts can be
// saved and finished later.
func (s *Journey) Import(ctx context.Context, raw []byte) (*models.Journey, error) {
	if err := models.ValidateJourneyDocument(raw); err != nil {
		return nil, NewValidationError("Import", "INVALID_DOCUMENT", err.Error(), ErrInvalidDocument)
	}

	var imported models.Journey
	if err := json.Unmarshal(raw, &imported); err != nil {
		return nil, NewValidationError("Import", "INVALID_DOCUMENT", err.Error(), ErrInvalidDocument)
	}

	now := time.Now().UTC()
	imported.ID = uuid.New().String()
	imported.CreatedAt = now
	imported.UpdatedAt = now

	if imported.Status == "" {
		imported.Status = models.JourneyStatusDraft
	}

	imported.NormalizeWeights()

	if imported.Status != models.JourneyStatusDraft {
		if err := imported.Validate(); err != nil {
			return nil, NewValidationError("Import", "INVALID_GRAPH", err.Error(), ErrInvalidDocument)
		}
	}

	if err := s.persistence.Journeys().Save(ctx, &imported); err != nil {
		return nil, fmt.Errorf("failed to save journey: %w", err)
	}

	return &imported, nil
}

// Update replaces a draft's definition with a new document. Non-draft
// journeys are immutable; pause does not reopen them for editing because
// enrollments may be parked mid-graph.
func (s *Journey) Update(ctx context.Context, id string, raw []byte) (*models.Journey, error) {
	existing, err := s.persistence.Journeys().ByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if existing.Status != models.JourneyStatusDraft {
		return nil, ErrJourneyNotDraft
	}

	if err := models.ValidateJourneyDocument(raw); err != nil {
		return nil, NewValidationError("Update", "INVALID_DOCUMENT", err.Error(), ErrInvalidDocument)
	}

	var updated models.Journey
	if err := json.Unmarshal(raw, &updated); err != nil {
		return nil, NewValidationError("Update", "INVALID_DOCUMENT", err.Error(), ErrInvalidDocument)
	}

	updated.ID = existing.ID
	updated.Status = models.JourneyStatusDraft
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = time.Now().UTC()
	updated.NormalizeWeights()

	if err := s.persistence.Journeys().Save(ctx, &updated); err != nil {
		return nil, fmt.Errorf("failed to update journey: %w", err)
	}

	return &updated, nil
}

// Delete removes a draft. Active and paused journeys are retained because
// enrollments and the activity log reference them.
func (s *Journey) Delete(ctx context.Context, id string) error {
	existing, err := s.persistence.Journeys().ByID(ctx, id)
	if err != nil {
		return err
	}

	if existing.Status != models.JourneyStatusDraft {
		return ErrJourneyNotDraft
	}

	if err := s.persistence.Journeys().Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete journey: %w", err)
	}

	return nil
}

// ChangeStatus transitions a journey between draft/paused and active.
// Activation validates the graph; an invalid graph never goes live.
func (s *Journey) ChangeStatus(ctx context.Context, id, status string) (*models.Journey, error) {
	target, err := parseStatus(status)
	if err != nil {
		return nil, err
	}

	existing, err := s.persistence.Journeys().ByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if existing.Status == target {
		return existing, nil
	}

	switch target {
	case models.JourneyStatusActive:
		if err := existing.Validate(); err != nil {
			return nil, NewValidationError("ChangeStatus", "INVALID_GRAPH", err.Error(), ErrInvalidDocument)
		}
	case models.JourneyStatusPaused:
		if existing.Status != models.JourneyStatusActive {
			return nil, ErrJourneyNotActive
		}
	case models.JourneyStatusDraft:
		// Once activated a journey never returns to draft; enrollments may
		// already be walking the graph.
		return nil, ErrJourneyNotDraft
	}

	existing.Status = target
	existing.UpdatedAt = time.Now().UTC()

	if err := s.persistence.Journeys().Save(ctx, existing); err != nil {
		return nil, fmt.Errorf("failed to save journey: %w", err)
	}

	return existing, nil
}

// Simulate dry-runs the journey for a customer without touching stored
// state. Graph problems surface as validation errors so callers can fix
// the document and retry.
func (s *Journey) Simulate(ctx context.Context, id, customerID string) (*journey.Simulation, error) {
	definition, err := s.persistence.Journeys().ByID(ctx, id)
	if err != nil {
		return nil, err
	}

	sim, err := s.simulator.Simulate(ctx, definition, customerID)
	if err != nil {
		if persistence.IsCustomerNotFound(err) || ctx.Err() != nil {
			return nil, err
		}

		return nil, NewValidationError("Simulate", "INVALID_SIMULATION", err.Error(), ErrInvalidRequest)
	}

	return sim, nil
}

func parseStatus(status string) (models.JourneyStatus, error) {
	switch models.JourneyStatus(status) {
	case models.JourneyStatusDraft, models.JourneyStatusActive, models.JourneyStatusPaused:
		return models.JourneyStatus(status), nil
	default:
		return "", NewValidationError("parseStatus", "INVALID_STATUS",
			fmt.Sprintf("invalid status %q, allowed: draft, active, paused", status), ErrInvalidStatus)
	}
}
