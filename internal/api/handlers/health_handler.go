package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

// ReadinessChecker reports per-component health; *app.App implements it.
type ReadinessChecker interface {
	Ready(ctx context.Context) map[string]error
}

type HealthHandler struct {
	checker ReadinessChecker
	timeout time.Duration
}

func NewHealthHandler(checker ReadinessChecker) *HealthHandler {
	return &HealthHandler{checker: checker, timeout: 3 * time.Second}
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	components := fiber.Map{}
	ready := true
	for name, err := range h.checker.Ready(ctx) {
		if err != nil {
			ready = false
			components[name] = err.Error()
			continue
		}
		components[name] = "ok"
	}

	if !ready {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status":     "not_ready",
			"components": components,
		})
	}
	return c.JSON(fiber.Map{
		"status":     "ready",
		"components": components,
	})
}
