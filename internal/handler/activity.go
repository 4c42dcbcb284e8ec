// Package handler exposes the HTTP API. Handlers translate transport
// concerns into service calls and map service errors onto status codes.
package handler

import (
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"activity-tracker/internal/service"
)

// ErrorResponse is the API's uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// CompleteRequest is the body of POST /api/v1/activities/:id/complete.
type CompleteRequest struct {
	ActorID int64                 `json:"actor_id" validate:"required,gt=0"`
	Results []service.ResultInput `json:"results" validate:"required,min=1,dive"`
}

// ActivityHandler handles activity completion and processing status
// requests.
type ActivityHandler struct {
	completion *service.CompletionService
	validator  *validator.Validate
}

// NewActivityHandler creates a new activity handler.
func NewActivityHandler(completion *service.CompletionService) *ActivityHandler {
	return &ActivityHandler{
		completion: completion,
		validator:  validator.New(),
	}
}

// Complete handles POST /api/v1/activities/:id/complete.
func (h *ActivityHandler) Complete(c *fiber.Ctx) error {
	activityID, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, "Invalid activity id", err)
	}

	var req CompleteRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body", err)
	}
	if err := h.validator.Struct(&req); err != nil {
		return badRequest(c, "Validation failed", err)
	}

	outcome, err := h.completion.CompleteActivity(c.Context(), activityID, req.Results, req.ActorID)
	if err != nil {
		return completionError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(outcome)
}

// Retry handles POST /api/v1/activities/:id/retry. Only activities in the
// terminal error state can be retried.
func (h *ActivityHandler) Retry(c *fiber.Ctx) error {
	activityID, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, "Invalid activity id", err)
	}

	outcome, err := h.completion.RetryActivity(c.Context(), activityID)
	if err != nil {
		return completionError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(outcome)
}

// Status handles GET /api/v1/activities/:id/status.
func (h *ActivityHandler) Status(c *fiber.Ctx) error {
	activityID, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, "Invalid activity id", err)
	}

	ps, err := h.completion.GetStatus(c.Context(), activityID)
	if err != nil {
		return completionError(c, err)
	}

	resp := fiber.Map{
		"activity_id": ps.ActivityID,
		"status":      ps.Status,
		"retry_count": ps.RetryCount,
	}
	if ps.ErrorMessage != nil {
		resp["error_message"] = *ps.ErrorMessage
	}
	if ps.CompletedAt != nil {
		resp["completed_at"] = ps.CompletedAt
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

// completionError maps coordinator errors to HTTP statuses. Unknown
// errors become 500s without leaking internals.
func completionError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrActivityNotFound):
		return respondError(c, fiber.StatusNotFound, "Activity not found", err)
	case errors.Is(err, service.ErrAlreadyCompleted):
		return respondError(c, fiber.StatusConflict, "Activity already completed", err)
	case errors.Is(err, service.ErrAlreadyProcessing):
		return respondError(c, fiber.StatusConflict, "Completion already in progress", err)
	case errors.Is(err, service.ErrNotAuthorized):
		return respondError(c, fiber.StatusForbidden, "Not authorized", err)
	case errors.Is(err, service.ErrResultMismatch),
		errors.Is(err, service.ErrDuplicateResult),
		errors.Is(err, service.ErrInvalidResult),
		errors.Is(err, service.ErrDrawsNotAllowed),
		errors.Is(err, service.ErrMixedDraws),
		errors.Is(err, service.ErrNoWinner),
		errors.Is(err, service.ErrDecisiveNotAllowed):
		return respondError(c, fiber.StatusUnprocessableEntity, "Invalid results", err)
	case errors.Is(err, service.ErrNotRetriable):
		return respondError(c, fiber.StatusConflict, "Activity is not retriable", err)
	default:
		return respondError(c, fiber.StatusInternalServerError, "Completion failed", err)
	}
}

func pathID(c *fiber.Ctx, name string) (int64, error) {
	return strconv.ParseInt(c.Params(name), 10, 64)
}

func badRequest(c *fiber.Ctx, label string, err error) error {
	return respondError(c, fiber.StatusBadRequest, label, err)
}

func respondError(c *fiber.Ctx, status int, label string, err error) error {
	return c.Status(status).JSON(ErrorResponse{Error: label, Message: err.Error()})
}
