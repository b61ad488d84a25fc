package journey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukex/itinera/pkg/eventbus"
	"github.com/dukex/itinera/pkg/events"
	"github.com/dukex/itinera/pkg/lock"
	"github.com/dukex/itinera/pkg/models"
	"github.com/dukex/itinera/pkg/otelhelper"
	"github.com/dukex/itinera/pkg/persistence"
)

const (
	sweepLockKey        = "sweep"
	sweepLockTTL        = 5 * time.Minute
	defaultSweepWorkers = 4
)

// SweepError is one non-fatal failure recorded during a sweep.
type SweepError struct {
	JourneyID  string `json:"journey_id,omitempty"`
	CustomerID string `json:"customer_id,omitempty"`
	NodeID     string `json:"node_id,omitempty"`
	Message    string `json:"message"`
}

// SweepSummary is the structured result of one sweep. Failures never
// escape the sweep boundary; they land here instead.
type SweepSummary struct {
	JourneysProcessed   int           `json:"journeys_processed"`
	EnrollmentsCreated  int           `json:"enrollments_created"`
	EnrollmentsAdvanced int           `json:"enrollments_advanced"`
	EnrollmentsResumed  int           `json:"enrollments_resumed"`
	Skipped             int           `json:"skipped"`
	Errors              []SweepError  `json:"errors,omitempty"`
	StartedAt           time.Time     `json:"started_at"`
	Duration            time.Duration `json:"duration"`
}

// Driver runs the sweep cycle: enroll new candidates, advance active
// enrollments, resume elapsed waits. Only one sweep runs at a time per
// deployment; an in-process flag guards this instance and a distributed
// lock guards the fleet.
type Driver struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	resolver    *Resolver
	enroller    *Enroller
	walker      *Walker
	locker      lock.Locker
	publisher   eventbus.EventPublisher
	tracer      trace.Tracer
	workers     int
	running     atomic.Bool
}

// NewDriver creates a sweep driver. Workers bounds how many enrollments
// advance concurrently within a phase.
func NewDriver(logger *slog.Logger, persist persistence.Persistence, resolver *Resolver, enroller *Enroller, walker *Walker, locker lock.Locker, publisher eventbus.EventPublisher, tracer trace.Tracer, workers int) *Driver {
	if workers <= 0 {
		workers = defaultSweepWorkers
	}

	return &Driver{
		logger:      logger.With("module", "sweep_driver"),
		persistence: persist,
		resolver:    resolver,
		enroller:    enroller,
		walker:      walker,
		locker:      locker,
		publisher:   publisher,
		tracer:      tracer,
		workers:     workers,
	}
}

// RunSweep executes one sweep across all active journeys and returns its
// summary. A sweep already in progress anywhere in the deployment yields
// ErrSweepInProgress.
func (d *Driver) RunSweep(ctx context.Context) (*SweepSummary, error) {
	if !d.running.CompareAndSwap(false, true) {
		return nil, ErrSweepInProgress
	}
	defer d.running.Store(false)

	unlock, acquired, err := d.locker.TryAcquire(ctx, sweepLockKey, sweepLockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire sweep lock: %w", err)
	}

	if !acquired {
		return nil, ErrSweepInProgress
	}

	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			d.logger.Warn("Failed to release sweep lock", "error", err)
		}
	}()

	ctx, span := otelhelper.StartSpan(ctx, d.tracer, "journey.driver sweep")
	defer span.End()

	started := time.Now().UTC()
	sweep := newSweepState()

	d.logger.InfoContext(ctx, "Starting sweep")

	journeys, err := d.persistence.Journeys().ByStatus(ctx, models.JourneyStatusActive)
	if err != nil {
		err = fmt.Errorf("failed to list active journeys: %w", err)
		otelhelper.SetError(span, err)

		return nil, err
	}

	for _, journey := range journeys {
		if ctx.Err() != nil {
			break
		}

		sweep.summary.JourneysProcessed++

		d.enrollPhase(ctx, journey, sweep)
		d.advancePhase(ctx, journey, sweep)
	}

	if ctx.Err() == nil {
		d.resumePhase(ctx, sweep, started)
	}

	summary := sweep.summary
	summary.StartedAt = started
	summary.Duration = time.Since(started)

	span.SetAttributes(
		attribute.Int("itinera.sweep.journeys", summary.JourneysProcessed),
		attribute.Int("itinera.sweep.enrollments_created", summary.EnrollmentsCreated),
		attribute.Int("itinera.sweep.enrollments_advanced", summary.EnrollmentsAdvanced),
		attribute.Int("itinera.sweep.enrollments_resumed", summary.EnrollmentsResumed),
		attribute.Int("itinera.sweep.errors", len(summary.Errors)),
	)

	if ctx.Err() == nil {
		d.publishEvent(ctx, "sweep", events.SweepCompleted{
			BaseEvent: events.NewBaseEvent(events.SweepCompletedEvent, ""),
			Enrolled:  summary.EnrollmentsCreated,
			Advanced:  summary.EnrollmentsAdvanced,
			Resumed:   summary.EnrollmentsResumed,
			Errors:    len(summary.Errors),
			Duration:  summary.Duration,
			SweepTime: started,
		})
	}

	d.logger.InfoContext(ctx, "Sweep completed",
		"journeys", summary.JourneysProcessed,
		"enrolled", summary.EnrollmentsCreated,
		"advanced", summary.EnrollmentsAdvanced,
		"resumed", summary.EnrollmentsResumed,
		"skipped", summary.Skipped,
		"errors", len(summary.Errors),
		"duration", summary.Duration)

	if err := ctx.Err(); err != nil {
		return summary, err
	}

	return summary, nil
}

// enrollPhase resolves the journey's trigger and enrolls every candidate
// that passes the gates, giving each new enrollment its first advance.
func (d *Driver) enrollPhase(ctx context.Context, journey *models.Journey, sweep *sweepState) {
	candidates, err := d.resolver.Resolve(ctx, journey)
	if err != nil {
		sweep.fail(journey.ID, "", "", err)

		return
	}

	for _, candidate := range candidates {
		if ctx.Err() != nil {
			return
		}

		enrollment, skip, err := d.enroller.TryEnroll(ctx, journey, candidate.CustomerID)
		if err != nil {
			sweep.fail(journey.ID, candidate.CustomerID, "", err)

			continue
		}

		if skip != SkipNone {
			sweep.skip()

			continue
		}

		sweep.summary.EnrollmentsCreated++
		sweep.touch(enrollment.ID)

		result, err := d.walker.Advance(ctx, journey, enrollment)
		if result.Steps > 0 {
			sweep.summary.EnrollmentsAdvanced++
		}

		d.recordWalkError(journey.ID, enrollment, err, sweep)
	}
}

// advancePhase walks every enrollment still active in the journey, except
// the ones the enroll phase already advanced this sweep.
func (d *Driver) advancePhase(ctx context.Context, journey *models.Journey, sweep *sweepState) {
	enrollments, err := d.persistence.Enrollments().ActiveByJourney(ctx, journey.ID)
	if err != nil {
		sweep.fail(journey.ID, "", "", err)

		return
	}

	d.forEach(ctx, enrollments, func(ctx context.Context, enrollment *models.Enrollment) {
		if !sweep.touch(enrollment.ID) {
			return
		}

		result, err := d.walker.Advance(ctx, journey, enrollment)
		if result.Steps > 0 {
			sweep.advanced()
		}

		d.recordWalkError(journey.ID, enrollment, err, sweep)
	})
}

// resumePhase finds waiting enrollments whose deadline elapsed and resumes
// their walks. Enrollments of paused journeys keep waiting; enrollments of
// deleted journeys fail closed.
func (d *Driver) resumePhase(ctx context.Context, sweep *sweepState, now time.Time) {
	waiting, err := d.persistence.Enrollments().WaitingElapsed(ctx, now)
	if err != nil {
		sweep.fail("", "", "", fmt.Errorf("failed to list elapsed waits: %w", err))

		return
	}

	journeys := make(map[string]*models.Journey, len(waiting))
	missing := make(map[string]bool)

	for _, enrollment := range waiting {
		if ctx.Err() != nil {
			return
		}

		if _, cached := journeys[enrollment.JourneyID]; cached || missing[enrollment.JourneyID] {
			continue
		}

		journey, err := d.persistence.Journeys().ByID(ctx, enrollment.JourneyID)
		if err != nil {
			if persistence.IsJourneyNotFound(err) {
				missing[enrollment.JourneyID] = true
			} else {
				sweep.fail(enrollment.JourneyID, "", "", err)
			}

			continue
		}

		journeys[enrollment.JourneyID] = journey
	}

	d.forEach(ctx, waiting, func(ctx context.Context, enrollment *models.Enrollment) {
		if !sweep.touch(enrollment.ID) {
			return
		}

		journey, loaded := journeys[enrollment.JourneyID]
		if !loaded {
			if missing[enrollment.JourneyID] {
				if err := d.walker.fail(ctx, enrollment.JourneyID, enrollment, enrollment.CurrentNodeID, models.ActivityFailed, "journey not found"); err != nil {
					sweep.fail(enrollment.JourneyID, enrollment.CustomerID, enrollment.CurrentNodeID, err)

					return
				}

				sweep.fail(enrollment.JourneyID, enrollment.CustomerID, enrollment.CurrentNodeID, persistence.ErrJourneyNotFound)
			}

			// Lookup failed this sweep; the wait stays for the next one.
			return
		}

		if journey.Status != models.JourneyStatusActive {
			sweep.skip()

			return
		}

		_, resumed, err := d.walker.Resume(ctx, journey, enrollment)
		if resumed {
			sweep.resumed()
		}

		if err != nil {
			d.recordWalkError(journey.ID, enrollment, err, sweep)

			return
		}

		if !resumed {
			sweep.skip()
		}
	})
}

// recordWalkError folds a walk error into the summary. Version conflicts
// and cancellation are not sweep errors.
func (d *Driver) recordWalkError(journeyID string, enrollment *models.Enrollment, err error, sweep *sweepState) {
	if err == nil {
		return
	}

	if persistence.IsEnrollmentConflict(err) {
		sweep.skip()

		return
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}

	sweep.fail(journeyID, enrollment.CustomerID, enrollment.CurrentNodeID, err)
}

// forEach fans enrollments out to the worker pool. Each enrollment is
// handled by exactly one worker, and scheduling stops once the context is
// canceled, so shutdown never interrupts a mutation mid-flight.
func (d *Driver) forEach(ctx context.Context, enrollments []*models.Enrollment, handle func(context.Context, *models.Enrollment)) {
	if len(enrollments) == 0 {
		return
	}

	workers := d.workers
	if workers > len(enrollments) {
		workers = len(enrollments)
	}

	if workers <= 1 {
		for _, enrollment := range enrollments {
			if ctx.Err() != nil {
				return
			}

			handle(ctx, enrollment)
		}

		return
	}

	jobs := make(chan *models.Enrollment)

	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for enrollment := range jobs {
				if ctx.Err() != nil {
					continue
				}

				handle(ctx, enrollment)
			}
		}()
	}

	for _, enrollment := range enrollments {
		jobs <- enrollment
	}

	close(jobs)
	wg.Wait()
}

func (d *Driver) publishEvent(ctx context.Context, key string, event eventbus.Event) {
	if err := d.publisher.Publish(ctx, key, event); err != nil {
		d.logger.WarnContext(ctx, "Failed to publish event",
			"event_type", event.GetType(),
			"error", err)
	}
}

// sweepState accumulates the summary under a mutex so pool workers can
// report concurrently. touched tracks which enrollments this sweep already
// handled, so no enrollment is walked twice across phases.
type sweepState struct {
	mu      sync.Mutex
	summary *SweepSummary
	touched map[string]struct{}
}

func newSweepState() *sweepState {
	return &sweepState{
		summary: &SweepSummary{},
		touched: make(map[string]struct{}),
	}
}

// touch marks the enrollment as handled and reports whether this was the
// first time.
func (s *sweepState) touch(enrollmentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.touched[enrollmentID]; seen {
		return false
	}

	s.touched[enrollmentID] = struct{}{}

	return true
}

func (s *sweepState) skip() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.summary.Skipped++
}

func (s *sweepState) advanced() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.summary.EnrollmentsAdvanced++
}

func (s *sweepState) resumed() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.summary.EnrollmentsResumed++
}

func (s *sweepState) fail(journeyID, customerID, nodeID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.summary.Errors = append(s.summary.Errors, SweepError{
		JourneyID:  journeyID,
		CustomerID: customerID,
		NodeID:     nodeID,
		Message:    err.Error(),
	})
}
