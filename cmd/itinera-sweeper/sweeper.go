package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukex/itinera/pkg/eventbus"
	"github.com/dukex/itinera/pkg/events"
	"github.com/dukex/itinera/pkg/journey"
	"github.com/dukex/itinera/pkg/otelhelper"
)

// Sweeper periodically runs the sweep cycle, fires scheduled journeys and
// feeds inbound customer events to event-triggered journeys.
type Sweeper struct {
	id           string
	driver       *journey.Driver
	calendar     *journey.Calendar
	listener     *journey.Listener
	customerBus  eventbus.CustomerEventBus
	tracer       trace.Tracer
	logger       *slog.Logger
	interval     time.Duration
	schedule     cron.Schedule
	restartCount int
}

// NewSweeper creates a new Sweeper instance. A non-nil schedule replaces
// the fixed interval with a cron cadence.
func NewSweeper(
	id string,
	driver *journey.Driver,
	calendar *journey.Calendar,
	listener *journey.Listener,
	customerBus eventbus.CustomerEventBus,
	tracer trace.Tracer,
	logger *slog.Logger,
	interval time.Duration,
	schedule cron.Schedule,
) *Sweeper {
	return &Sweeper{
		id:          id,
		driver:      driver,
		calendar:    calendar,
		listener:    listener,
		customerBus: customerBus,
		tracer:      tracer,
		logger:      logger.With("module", "sweeper"),
		interval:    interval,
		schedule:    schedule,
	}
}

// Start begins the sweeper service.
func (s *Sweeper) Start(ctx context.Context) {
	sCtx, cancel := context.WithCancel(ctx)

	if s.schedule != nil {
		s.logger.Info("Starting sweeper", "cadence", "cron")
	} else {
		s.logger.Info("Starting sweeper", "interval", s.interval)
	}

	s.handleSignals(sCtx, cancel)
	s.run(sCtx)
}

// handleSignals sets up signal handling for graceful shutdown and restart.
func (s *Sweeper) handleSignals(ctx context.Context, cancel context.CancelFunc) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-signals
		s.logger.Info("Received signal", "signal", sig)

		switch sig {
		case syscall.SIGHUP:
			s.logger.Info("Reloading configuration...")
			s.restart(ctx, cancel)
		case syscall.SIGINT, syscall.SIGTERM:
			s.logger.Info("Shutting down gracefully...")
			s.stop(cancel)
			os.Exit(0)
		default:
			s.logger.Warn("Unhandled signal received", "signal", sig)
		}
	}()
}

// restart handles service restart with exponential backoff.
func (s *Sweeper) restart(ctx context.Context, cancel context.CancelFunc) {
	s.restartCount++
	newCtx := context.WithoutCancel(ctx)

	s.stop(cancel)

	if s.restartCount > 5 {
		s.logger.Error("Restart limit reached, exiting...")
		os.Exit(1)
	}

	backoff := time.Duration(s.restartCount) * time.Second
	s.logger.Info("Restarting sweeper...", "backoff", backoff)
	time.Sleep(backoff)

	s.Start(newCtx)
}

// run subscribes to customer events and drives the sweep loop until the
// context is cancelled.
func (s *Sweeper) run(ctx context.Context) {
	s.subscribeCustomerEvents(ctx)

	// One cycle right away so a fresh deploy does not wait a full interval.
	s.cycle(ctx)

	if s.schedule != nil {
		s.runCron(ctx)

		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Sweeper context cancelled, stopping...")

			return
		case <-ticker.C:
			s.cycle(ctx)
		}
	}
}

// runCron sleeps until each cron fire instead of ticking at a fixed
// interval.
func (s *Sweeper) runCron(ctx context.Context) {
	for {
		timer := time.NewTimer(time.Until(s.schedule.Next(time.Now())))

		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("Sweeper context cancelled, stopping...")

			return
		case <-timer.C:
			s.cycle(ctx)
		}
	}
}

// cycle runs one sweep plus one calendar tick.
func (s *Sweeper) cycle(ctx context.Context) {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "sweep_cycle",
		attribute.String(otelhelper.ServiceIDKey, s.id),
	)
	defer span.End()

	_, err := s.driver.RunSweep(ctx)

	switch {
	case errors.Is(err, journey.ErrSweepInProgress):
		s.logger.DebugContext(ctx, "Sweep already running elsewhere, skipping cycle")
	case err != nil:
		otelhelper.SetError(span, err)
		s.logger.ErrorContext(ctx, "Sweep failed", "error", err)
	}

	enrolled, err := s.calendar.Tick(ctx, time.Now().UTC())
	if err != nil {
		otelhelper.SetError(span, err)
		s.logger.ErrorContext(ctx, "Calendar tick failed", "error", err)

		return
	}

	if enrolled > 0 {
		s.logger.InfoContext(ctx, "Scheduled journeys fired", "enrolled", enrolled)
	}
}

// subscribeCustomerEvents wires inbound customer events to the listener.
func (s *Sweeper) subscribeCustomerEvents(ctx context.Context) {
	s.logger.Info("Setting up customer event subscription")

	err := s.customerBus.HandleCustomerEvents(func(ctx context.Context, event *events.CustomerEvent) error {
		ctx, span := otelhelper.StartSpan(ctx, s.tracer, "customer_event",
			attribute.String(otelhelper.EventIDKey, event.ID),
			attribute.String(otelhelper.CustomerIDKey, event.CustomerID),
		)
		defer span.End()

		if err := s.listener.HandleCustomerEvent(ctx, event); err != nil {
			otelhelper.SetError(span, err)

			return err
		}

		return nil
	})
	if err != nil {
		s.logger.Error("Failed to register customer event handler", "error", err)

		return
	}

	err = s.customerBus.SubscribeToCustomerEvents(ctx)
	if err != nil {
		s.logger.Error("Failed to start customer event subscription", "error", err)

		return
	}

	s.logger.Info("Successfully subscribed to customer events")
}

// stop gracefully shuts down the sweeper.
func (s *Sweeper) stop(cancel context.CancelFunc) {
	s.logger.Info("Stopping sweeper")

	if cancel != nil {
		cancel()
	}
}
