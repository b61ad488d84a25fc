package journey

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/itinera/pkg/events"
	"github.com/dukex/itinera/pkg/models"
	"github.com/dukex/itinera/pkg/persistence"
)

// Listener enrolls customers into event-kind journeys as their domain
// events arrive. Its HandleCustomerEvent matches
// eventbus.CustomerEventHandler so it plugs straight into the bus.
type Listener struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	enroller    *Enroller
	walker      *Walker
}

func NewListener(logger *slog.Logger, persist persistence.Persistence, enroller *Enroller, walker *Walker) *Listener {
	return &Listener{
		logger:      logger.With("module", "event_listener"),
		persistence: persist,
		enroller:    enroller,
		walker:      walker,
	}
}

// HandleCustomerEvent enrolls the event's customer into every active
// journey triggered by this event name. Per-journey failures are logged
// and do not stop the fan-out; only malformed events or a failed journey
// listing bounce the delivery back to the bus.
func (l *Listener) HandleCustomerEvent(ctx context.Context, event *events.CustomerEvent) error {
	if err := event.Validate(); err != nil {
		l.logger.WarnContext(ctx, "Dropping malformed customer event",
			"event_id", event.ID,
			"error", err)

		return nil
	}

	logger := l.logger.With(
		"event_name", event.Name,
		"customer_id", event.CustomerID)

	journeys, err := l.persistence.Journeys().ByStatus(ctx, models.JourneyStatusActive)
	if err != nil {
		return fmt.Errorf("failed to list active journeys: %w", err)
	}

	matched := 0

	for _, journey := range journeys {
		if ctx.Err() != nil {
			break
		}

		trigger, err := journey.TriggerNode()
		if err != nil || trigger.Trigger == nil {
			continue
		}

		if trigger.Trigger.Kind != models.TriggerKindEvent || trigger.Trigger.EventName != event.Name {
			continue
		}

		matched++

		enrollment, skip, err := l.enroller.TryEnroll(ctx, journey, event.CustomerID)
		if err != nil {
			logger.WarnContext(ctx, "Failed to enroll from event",
				"journey_id", journey.ID,
				"error", err)

			continue
		}

		if skip != SkipNone {
			logger.DebugContext(ctx, "Event enrollment skipped",
				"journey_id", journey.ID,
				"reason", string(skip))

			continue
		}

		if _, err := l.walker.Advance(ctx, journey, enrollment); err != nil {
			logger.WarnContext(ctx, "Failed to advance event enrollment",
				"journey_id", journey.ID,
				"enrollment_id", enrollment.ID,
				"error", err)
		}
	}

	if matched > 0 {
		logger.InfoContext(ctx, "Routed customer event", "journeys", matched)
	}

	return ctx.Err()
}
