package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/brand-assistant/backend/internal/models"
	storagemodels "github.com/brand-assistant/backend/internal/storage/models"
	"github.com/brand-assistant/backend/pkg/logger"
)

const maxHistoryLimit = 100

type SessionDeleter interface {
	Delete(ctx context.Context, key models.SessionKey) error
}

type HistoryReader interface {
	GetInteractionHistory(ctx context.Context, userID, brandID string, limit int) ([]storagemodels.Interaction, error)
}

type SessionHandler struct {
	sessions SessionDeleter
	history  HistoryReader
}

// NewSessionHandler accepts a nil history when the audit log is disabled.
func NewSessionHandler(sessions SessionDeleter, history HistoryReader) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		history:  history,
	}
}

// ResetSession forgets the conversation of one user with one brand.
func (h *SessionHandler) ResetSession(c *fiber.Ctx) error {
	key := models.SessionKey{UserID: c.Params("user"), BrandID: c.Params("brand")}
	if key.UserID == "" || key.BrandID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "brand and user are required",
		})
	}

	if err := h.sessions.Delete(c.UserContext(), key); err != nil {
		logger.Error("Failed to reset session", zap.String("session", key.String()), zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Failed to reset session",
		})
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *SessionHandler) GetHistory(c *fiber.Ctx) error {
	if h.history == nil {
		return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{
			"error": "Interaction history is disabled",
		})
	}

	limit := c.QueryInt("limit", 20)
	if limit <= 0 || limit > maxHistoryLimit {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "limit must be between 1 and 100",
		})
	}

	records, err := h.history.GetInteractionHistory(c.UserContext(), c.Params("user"), c.Params("brand"), limit)
	if err != nil {
		logger.Error("Failed to load interaction history", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load history",
		})
	}
	if records == nil {
		records = []storagemodels.Interaction{}
	}

	return c.JSON(fiber.Map{
		"history": records,
	})
}
