package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Register wires all API routes onto the app.
func Register(app *fiber.App, activities *ActivityHandler, sync *SyncHandler, db Pinger) {
	app.Get("/health", func(c *fiber.Ctx) error {
		if err := db.Ping(c.Context()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{
				Error:   "Database unreachable",
				Message: err.Error(),
			})
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")

	api.Post("/activities/:id/complete", activities.Complete)
	api.Post("/activities/:id/retry", activities.Retry)
	api.Get("/activities/:id/status", activities.Status)

	api.Get("/users/:id/changes", sync.Changes)
	api.Post("/users/:id/changes/ack", sync.Acknowledge)
	api.Get("/users/:id/summaries", sync.Summaries)
}
