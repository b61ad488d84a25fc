package journey

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/itinera/pkg/models"
	"github.com/dukex/itinera/pkg/persistence"
	"github.com/dukex/itinera/pkg/segment"
)

// Candidate is one customer the trigger resolver proposes for enrollment.
type Candidate struct {
	CustomerID string
}

// Resolver turns a journey's trigger node into a candidate customer list.
// Only polling trigger kinds produce candidates here; event and date_time
// journeys are fed by the Listener and the Calendar, manual journeys by an
// explicit API call.
type Resolver struct {
	logger      *slog.Logger
	persistence persistence.Persistence
}

// NewResolver creates a trigger resolver.
func NewResolver(logger *slog.Logger, persist persistence.Persistence) *Resolver {
	return &Resolver{
		logger:      logger.With("module", "trigger_resolver"),
		persistence: persist,
	}
}

// Resolve returns the customers the journey's trigger currently selects.
// A missing trigger node or an unknown trigger kind is a precondition
// failure for this journey only.
func (r *Resolver) Resolve(ctx context.Context, journey *models.Journey) ([]Candidate, error) {
	trigger, err := journey.TriggerNode()
	if err != nil {
		return nil, err
	}

	if trigger.Trigger == nil {
		return nil, fmt.Errorf("journey %s: node %s: %w", journey.ID, trigger.ID, models.ErrInvalidNode)
	}

	switch trigger.Trigger.Kind {
	case models.TriggerKindSegmentJoined:
		return r.resolveSegment(ctx, journey, trigger.Trigger.SegmentID)
	case models.TriggerKindAbandonedCart:
		return r.resolveAbandonedCarts(ctx, trigger.Trigger.AbandonedAfterHours)
	case models.TriggerKindEvent, models.TriggerKindDateTime, models.TriggerKindManual:
		return nil, nil
	default:
		return nil, fmt.Errorf("journey %s: trigger kind %q: %w", journey.ID, trigger.Trigger.Kind, models.ErrInvalidNode)
	}
}

// resolveSegment evaluates every known customer against the referenced
// segment. A missing segment is non-fatal: the journey simply enrolls
// nobody this sweep.
func (r *Resolver) resolveSegment(ctx context.Context, journey *models.Journey, segmentID string) ([]Candidate, error) {
	seg, err := r.persistence.Segments().ByID(ctx, segmentID)
	if err != nil {
		if persistence.IsSegmentNotFound(err) {
			r.logger.WarnContext(ctx, "Segment trigger references a missing segment",
				"journey_id", journey.ID,
				"segment_id", segmentID)

			return nil, nil
		}

		return nil, fmt.Errorf("failed to load segment %s: %w", segmentID, err)
	}

	customers, err := r.persistence.Customers().All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}

	var candidates []Candidate

	for _, customer := range customers {
		if segment.MatchesSegment(customer, seg) {
			candidates = append(candidates, Candidate{CustomerID: customer.ID})
		}
	}

	return candidates, nil
}

// resolveAbandonedCarts selects owners of open checkouts that have not
// been touched for the configured number of hours. Checkouts without a
// resolvable customer are dropped.
func (r *Resolver) resolveAbandonedCarts(ctx context.Context, afterHours int) ([]Candidate, error) {
	checkouts, err := r.persistence.Checkouts().ListOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list open checkouts: %w", err)
	}

	threshold := time.Duration(afterHours) * time.Hour
	now := time.Now().UTC()

	var candidates []Candidate

	seen := make(map[string]bool)

	for _, checkout := range checkouts {
		if checkout.CustomerID == "" || seen[checkout.CustomerID] {
			continue
		}

		if now.Sub(checkout.UpdatedAt) < threshold {
			continue
		}

		if _, err := r.persistence.Customers().ByID(ctx, checkout.CustomerID); err != nil {
			if persistence.IsCustomerNotFound(err) {
				continue
			}

			return nil, fmt.Errorf("failed to load customer %s: %w", checkout.CustomerID, err)
		}

		seen[checkout.CustomerID] = true

		candidates = append(candidates, Candidate{CustomerID: checkout.CustomerID})
	}

	return candidates, nil
}
