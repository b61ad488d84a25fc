// Package main provides the Itinera API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukex/itinera/pkg/dedup"
	"github.com/dukex/itinera/pkg/eventbus"
	"github.com/dukex/itinera/pkg/gateway"
	"github.com/dukex/itinera/pkg/journey"
	"github.com/dukex/itinera/pkg/lock"
	"github.com/dukex/itinera/pkg/persistence"
	"github.com/dukex/itinera/pkg/services"
	"github.com/dukex/itinera/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	gateway     gateway.Gateway
	locker      lock.Locker
	deduper     dedup.Deduper
	tracer      trace.Tracer
	workers     int
	testPhones  []string
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	gateway gateway.Gateway,
	locker lock.Locker,
	deduper dedup.Deduper,
	tracer trace.Tracer,
	workers int,
	testPhones []string,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		eventBus:    eventBus,
		gateway:     gateway,
		locker:      locker,
		deduper:     deduper,
		tracer:      tracer,
		workers:     workers,
		testPhones:  testPhones,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	resolver := journey.NewResolver(a.logger, a.persistence)
	enroller := journey.NewEnroller(a.logger, a.persistence, a.eventBus, a.testPhones)
	walker := journey.NewWalker(a.logger, a.persistence, a.gateway, a.eventBus)
	router := journey.NewRouter(a.logger, a.persistence, a.deduper, a.eventBus, a.tracer)
	driver := journey.NewDriver(a.logger, a.persistence, resolver, enroller, walker, a.locker, a.eventBus, a.tracer, a.workers)
	simulator := journey.NewSimulator(a.logger, a.persistence)

	handlers := web.NewAPIHandlers(
		services.NewJourney(a.persistence, simulator),
		services.NewEnrollment(a.persistence, enroller, walker),
		services.NewCallback(router),
		services.NewSweep(driver),
		a.validate,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Itinera API")
	})

	j := app.Group("/journeys")
	j.Get("/", handlers.GetJourneys)
	j.Post("/", handlers.ImportJourney)
	j.Get("/:id", handlers.GetJourney)
	j.Put("/:id", handlers.UpdateJourney)
	j.Delete("/:id", handlers.DeleteJourney)
	j.Patch("/:id/status", handlers.ChangeJourneyStatus)
	j.Post("/:id/simulate", handlers.SimulateJourney)

	// Enrollment endpoints:
	j.Get("/:id/enrollments", handlers.GetJourneyEnrollments)
	j.Post("/:id/enrollments", handlers.EnrollCustomer)

	e := app.Group("/enrollments")
	e.Get("/:id", handlers.GetEnrollment)
	e.Get("/:id/activity", handlers.GetEnrollmentActivity)

	cb := app.Group("/callbacks")
	cb.Post("/statuses", handlers.IngestStatusCallbacks)
	cb.Post("/replies", handlers.IngestReplyCallbacks)

	app.Post("/sweeps", handlers.RunSweep)
	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
