package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/dukex/inbox/pkg/models"
	"github.com/dukex/inbox/pkg/services"
)

type APIHandlers struct {
	ingestion  *services.Ingestion
	triggers   *services.Triggers
	activities *services.Activities
	executions *services.Executions
	health     *services.Health
	tokens     map[models.Platform]string
	logger     *slog.Logger
}

// Services groups the application services served over HTTP.
type Services struct {
	Ingestion  *services.Ingestion
	Triggers   *services.Triggers
	Activities *services.Activities
	Executions *services.Executions
	Health     *services.Health
}

// NewAPIHandlers creates the handlers. tokens maps a platform to the shared
// secret its webhooks must present; platforms without one are open.
func NewAPIHandlers(svc Services, tokens map[models.Platform]string, logger *slog.Logger) *APIHandlers {
	if tokens == nil {
		tokens = map[models.Platform]string{}
	}

	return &APIHandlers{
		ingestion:  svc.Ingestion,
		triggers:   svc.Triggers,
		activities: svc.Activities,
		executions: svc.Executions,
		health:     svc.Health,
		tokens:     tokens,
		logger:     logger.With("module", "web"),
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, ok := h.health.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Inbox API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if ok {
		status = "healthy"
		message = "Inbox API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"dispatch_mode": h.ingestion.Mode(),
		"timestamp":     time.Now().UTC(),
	})
}

func (h *APIHandlers) GetActivities(c fiber.Ctx) error {
	limit, err := queryInt(c.Query("limit"))
	if err != nil {
		return badRequest(c, "limit must be a number")
	}

	offset, err := queryInt(c.Query("offset"))
	if err != nil {
		return badRequest(c, "offset must be a number")
	}

	activities, err := h.activities.List(c.Context(), services.ActivityQuery{
		Platform:  c.Query("platform"),
		EventType: c.Query("event_type"),
		ChannelID: c.Query("channel_id"),
		Timeframe: c.Query("timeframe"),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"activities": activities,
		"pagination": fiber.Map{"limit": limit, "offset": offset},
	})
}

func (h *APIHandlers) GetActivityStats(c fiber.Ctx) error {
	stats, err := h.activities.Stats(c.Context(), c.Query("timeframe"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(stats)
}

func (h *APIHandlers) GetActivity(c fiber.Ctx) error {
	activity, err := h.activities.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(activity)
}

func (h *APIHandlers) GetTriggers(c fiber.Ctx) error {
	triggers, err := h.triggers.List(c.Context(), services.TriggerQuery{
		Platform:    c.Query("platform"),
		EventType:   c.Query("event_type"),
		EnabledOnly: c.Query("enabled") == "true",
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"triggers": triggers})
}

func (h *APIHandlers) GetTrigger(c fiber.Ctx) error {
	trigger, err := h.triggers.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(trigger)
}

func (h *APIHandlers) CreateTrigger(c fiber.Ctx) error {
	var req services.TriggerRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	trigger, err := h.triggers.Create(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(trigger)
}

func (h *APIHandlers) UpdateTrigger(c fiber.Ctx) error {
	var patch services.TriggerPatch
	if err := c.Bind().JSON(&patch); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	trigger, err := h.triggers.Update(c.Context(), c.Params("id"), patch)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(trigger)
}

func (h *APIHandlers) DeleteTrigger(c fiber.Ctx) error {
	if err := h.triggers.Delete(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ToggleTrigger(c fiber.Ctx) error {
	var req ToggleRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	trigger, err := h.triggers.Toggle(c.Context(), c.Params("id"), req.Enabled)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(trigger)
}

// TestTrigger evaluates a trigger against the activity in the body without
// running its action.
func (h *APIHandlers) TestTrigger(c fiber.Ctx) error {
	var activity models.Activity
	if err := c.Bind().JSON(&activity); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if activity.Timestamp.IsZero() {
		activity.Timestamp = time.Now().UTC()
	}

	result, err := h.triggers.Test(c.Context(), c.Params("id"), &activity)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) GetExecutions(c fiber.Ctx) error {
	limit, err := queryInt(c.Query("limit"))
	if err != nil {
		return badRequest(c, "limit must be a number")
	}

	offset, err := queryInt(c.Query("offset"))
	if err != nil {
		return badRequest(c, "offset must be a number")
	}

	executions, err := h.executions.List(c.Context(), services.ExecutionQuery{
		TriggerID:  c.Query("trigger_id"),
		ActivityID: c.Query("activity_id"),
		Status:     c.Query("status"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"executions": executions,
		"pagination": fiber.Map{"limit": limit, "offset": offset},
	})
}

func (h *APIHandlers) GetExecutionStats(c fiber.Ctx) error {
	stats, err := h.executions.Stats(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(stats)
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, err := h.executions.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}
