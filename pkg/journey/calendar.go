package journey

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dukex/itinera/pkg/models"
	"github.com/dukex/itinera/pkg/persistence"
)

// Calendar fires date_time triggers. It is ticked on an interval by the
// sweeper binary and enrolls the entry segment of every journey whose
// schedule came due since the last tick.
type Calendar struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	resolver    *Resolver
	enroller    *Enroller
	walker      *Walker

	mu       sync.Mutex
	lastFire map[string]time.Time
}

func NewCalendar(logger *slog.Logger, persist persistence.Persistence, resolver *Resolver, enroller *Enroller, walker *Walker) *Calendar {
	return &Calendar{
		logger:      logger.With("module", "calendar"),
		persistence: persist,
		resolver:    resolver,
		enroller:    enroller,
		walker:      walker,
		lastFire:    make(map[string]time.Time),
	}
}

// Tick checks every active date_time journey against now and enrolls the
// due ones. It returns how many enrollments it created. Firing is
// idempotent at the enrollment layer, so an extra fire after a restart
// only produces duplicate skips.
func (c *Calendar) Tick(ctx context.Context, now time.Time) (int, error) {
	journeys, err := c.persistence.Journeys().ByStatus(ctx, models.JourneyStatusActive)
	if err != nil {
		return 0, err
	}

	enrolled := 0

	for _, journey := range journeys {
		if ctx.Err() != nil {
			break
		}

		trigger, err := journey.TriggerNode()
		if err != nil || trigger.Trigger == nil || trigger.Trigger.Kind != models.TriggerKindDateTime {
			continue
		}

		if !c.due(journey.ID, trigger.Trigger, now) {
			continue
		}

		enrolled += c.fire(ctx, journey, now)
	}

	if err := ctx.Err(); err != nil {
		return enrolled, err
	}

	return enrolled, nil
}

// due decides whether the journey's schedule elapsed since its last fire.
// One-shot schedules fire on the first tick at or past fire_at; cron
// schedules arm on the first tick they are seen and fire on each
// activation after that, never back-filling missed ones.
func (c *Calendar) due(journeyID string, trigger *models.TriggerConfig, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	last := c.lastFire[journeyID]

	if trigger.FireAt != nil {
		if now.Before(*trigger.FireAt) || !last.Before(*trigger.FireAt) {
			return false
		}

		c.lastFire[journeyID] = now

		return true
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

	schedule, err := parser.Parse(trigger.Cron)
	if err != nil {
		c.logger.Warn("Invalid cron schedule",
			"journey_id", journeyID,
			"cron", trigger.Cron,
			"error", err)

		return false
	}

	if last.IsZero() {
		c.lastFire[journeyID] = now

		return false
	}

	if schedule.Next(last).After(now) {
		return false
	}

	c.lastFire[journeyID] = now

	return true
}

// fire enrolls the journey's entry segment and advances each new
// enrollment. Per-customer failures are logged and skipped.
func (c *Calendar) fire(ctx context.Context, journey *models.Journey, now time.Time) int {
	logger := c.logger.With("journey_id", journey.ID)

	segmentID := journey.Settings.Entry.SegmentID
	if segmentID == "" {
		logger.WarnContext(ctx, "Scheduled journey without entry segment")

		return 0
	}

	candidates, err := c.resolver.resolveSegment(ctx, journey, segmentID)
	if err != nil {
		logger.WarnContext(ctx, "Failed to resolve entry segment",
			"segment_id", segmentID,
			"error", err)

		return 0
	}

	logger.InfoContext(ctx, "Firing scheduled journey",
		"fire_time", now,
		"candidates", len(candidates))

	enrolled := 0

	for _, candidate := range candidates {
		if ctx.Err() != nil {
			break
		}

		enrollment, skip, err := c.enroller.TryEnroll(ctx, journey, candidate.CustomerID)
		if err != nil {
			logger.WarnContext(ctx, "Failed to enroll scheduled customer",
				"customer_id", candidate.CustomerID,
				"error", err)

			continue
		}

		if skip != SkipNone {
			continue
		}

		enrolled++

		if _, err := c.walker.Advance(ctx, journey, enrollment); err != nil {
			logger.WarnContext(ctx, "Failed to advance scheduled enrollment",
				"enrollment_id", enrollment.ID,
				"error", err)
		}
	}

	return enrolled
}
