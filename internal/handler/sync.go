package handler

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"activity-tracker/internal/service"
)

// AckRequest is the body of POST /api/v1/users/:id/changes/ack. Cursor is
// a microsecond-precision RFC 3339 timestamp taken from a previous
// batch's new_cursor.
type AckRequest struct {
	Cursor     time.Time `json:"cursor" validate:"required"`
	ClientType string    `json:"client_type" validate:"omitempty,oneof=mobile web"`
}

// SyncHandler serves delta sync polls and cursor acknowledgements.
type SyncHandler struct {
	sync      *service.SyncService
	validator *validator.Validate
}

// NewSyncHandler creates a new sync handler.
func NewSyncHandler(sync *service.SyncService) *SyncHandler {
	return &SyncHandler{
		sync:      sync,
		validator: validator.New(),
	}
}

// Changes handles GET /api/v1/users/:id/changes. Query parameters:
// since (RFC 3339, defaults to the stored cursor), types (comma
// separated entity types), limit.
func (h *SyncHandler) Changes(c *fiber.Ctx) error {
	userID, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, "Invalid user id", err)
	}

	cursor, err := h.resolveCursor(c, userID)
	if err != nil {
		return badRequest(c, "Invalid since parameter", err)
	}

	var entityTypes []string
	if raw := c.Query("types"); raw != "" {
		entityTypes = strings.Split(raw, ",")
	}

	limit, err := strconv.Atoi(c.Query("limit", "0"))
	if err != nil {
		return badRequest(c, "Invalid limit parameter", err)
	}

	batch, err := h.sync.GetChangesSince(c.Context(), userID, cursor, entityTypes, limit)
	if err != nil {
		if errors.Is(err, service.ErrInvalidLimit) {
			return badRequest(c, "Invalid limit parameter", err)
		}
		return respondError(c, fiber.StatusInternalServerError, "Failed to read changes", err)
	}

	return c.Status(fiber.StatusOK).JSON(batch)
}

// Acknowledge handles POST /api/v1/users/:id/changes/ack.
func (h *SyncHandler) Acknowledge(c *fiber.Ctx) error {
	userID, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, "Invalid user id", err)
	}

	var req AckRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body", err)
	}
	if err := h.validator.Struct(&req); err != nil {
		return badRequest(c, "Validation failed", err)
	}

	clientType := req.ClientType
	if clientType == "" {
		clientType = "web"
	}

	cursor, err := h.sync.AcknowledgeCursor(c.Context(), userID, req.Cursor, clientType)
	if err != nil {
		return respondError(c, fiber.StatusInternalServerError, "Failed to acknowledge cursor", err)
	}

	return c.Status(fiber.StatusOK).JSON(cursor)
}

// Summaries handles GET /api/v1/users/:id/summaries.
func (h *SyncHandler) Summaries(c *fiber.Ctx) error {
	userID, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, "Invalid user id", err)
	}

	limit, err := strconv.Atoi(c.Query("limit", "0"))
	if err != nil {
		return badRequest(c, "Invalid limit parameter", err)
	}

	summaries, err := h.sync.GetDailySummaries(c.Context(), userID, limit)
	if err != nil {
		return respondError(c, fiber.StatusInternalServerError, "Failed to read summaries", err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"summaries": summaries})
}

// resolveCursor prefers an explicit since parameter and falls back to the
// user's stored cursor, so a fresh client starts from its committed
// position without tracking state locally.
func (h *SyncHandler) resolveCursor(c *fiber.Ctx, userID int64) (time.Time, error) {
	if raw := c.Query("since"); raw != "" {
		return time.Parse(time.RFC3339Nano, raw)
	}
	stored, err := h.sync.GetCursor(c.Context(), userID)
	if err != nil {
		return time.Time{}, err
	}
	return stored.LastSyncedAt, nil
}
