// Package web provides the HTTP handlers for the journey automation API.
package web

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/dukex/itinera/pkg/services"
)

type APIHandlers struct {
	journeyService    *services.Journey
	enrollmentService *services.Enrollment
	callbackService   *services.Callback
	sweepService      *services.Sweep
	validator         *validator.Validate
}

func NewAPIHandlers(
	journeyService *services.Journey,
	enrollmentService *services.Enrollment,
	callbackService *services.Callback,
	sweepService *services.Sweep,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		journeyService:    journeyService,
		enrollmentService: enrollmentService,
		callbackService:   callbackService,
		sweepService:      sweepService,
		validator:         validator,
	}
}

func (h *APIHandlers) GetJourneys(c fiber.Ctx) error {
	journeys, err := h.journeyService.List(c.Context(), c.Query("status"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"journeys": journeys,
		"count":    len(journeys),
	})
}

func (h *APIHandlers) GetJourney(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Journey ID is required")
	}

	journey, err := h.journeyService.FetchByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(journey)
}

// ImportJourney accepts a raw journey document. Schema validation and
// decoding happen in the service so CLI import paths share them.
func (h *APIHandlers) ImportJourney(c fiber.Ctx) error {
	imported, err := h.journeyService.Import(c.Context(), c.Body())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(imported)
}

func (h *APIHandlers) UpdateJourney(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Journey ID is required")
	}

	updated, err := h.journeyService.Update(c.Context(), id, c.Body())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteJourney(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Journey ID is required")
	}

	if err := h.journeyService.Delete(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ChangeJourneyStatus(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Journey ID is required")
	}

	var req ChangeStatusRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	journey, err := h.journeyService.ChangeStatus(c.Context(), id, req.Status)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(journey)
}

func (h *APIHandlers) SimulateJourney(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Journey ID is required")
	}

	var req SimulateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	simulation, err := h.journeyService.Simulate(c.Context(), id, req.CustomerID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(simulation)
}

func (h *APIHandlers) GetJourneyEnrollments(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Journey ID is required")
	}

	enrollments, err := h.enrollmentService.ListByJourney(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"enrollments": enrollments,
		"count":       len(enrollments),
	})
}

func (h *APIHandlers) EnrollCustomer(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Journey ID is required")
	}

	var req EnrollRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	enrollment, err := h.enrollmentService.ManualEnroll(c.Context(), id, req.CustomerID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(enrollment)
}

func (h *APIHandlers) GetEnrollment(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Enrollment ID is required")
	}

	enrollment, err := h.enrollmentService.FetchByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(enrollment)
}

func (h *APIHandlers) GetEnrollmentActivity(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Enrollment ID is required")
	}

	activity, err := h.enrollmentService.Activity(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"activity": activity,
		"count":    len(activity),
	})
}

// IngestStatusCallbacks routes a delivery-status batch. Per-record problems
// land in the summary's errors, not in the HTTP status: the gateway retries
// whole batches, so a 200 with partial errors is what stops the retry loop.
func (h *APIHandlers) IngestStatusCallbacks(c fiber.Ctx) error {
	var req StatusCallbackBatch
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	summary := h.callbackService.IngestStatuses(c.Context(), req.Statuses)

	return c.JSON(summary)
}

func (h *APIHandlers) IngestReplyCallbacks(c fiber.Ctx) error {
	var req ReplyCallbackBatch
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	summary := h.callbackService.IngestReplies(c.Context(), req.Replies)

	return c.JSON(summary)
}

func (h *APIHandlers) RunSweep(c fiber.Ctx) error {
	summary, err := h.sweepService.Run(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(summary)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.journeyService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Itinera API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "Itinera API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
