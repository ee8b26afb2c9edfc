package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/brand-assistant/backend/internal/ingestion"
	"github.com/brand-assistant/backend/internal/middleware/validation"
	"github.com/brand-assistant/backend/internal/models"
	"github.com/brand-assistant/backend/internal/vector"
	"github.com/brand-assistant/backend/pkg/logger"
)

// Ingester indexes one document. *ingestion.Processor implements it.
type Ingester interface {
	Ingest(ctx context.Context, doc models.Document) (*ingestion.Result, error)
}

type DocumentHandler struct {
	processor Ingester
	brands    func(id string) bool
}

// NewDocumentHandler rejects brands for which known returns false. A nil known
// accepts every brand.
func NewDocumentHandler(processor Ingester, known func(id string) bool) *DocumentHandler {
	return &DocumentHandler{
		processor: processor,
		brands:    known,
	}
}

func (h *DocumentHandler) UploadDocument(c *fiber.Ctx) error {
	req, ok := validation.DocumentFrom(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if h.brands != nil && !h.brands(req.BrandID) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Unknown brand",
		})
	}

	result, err := h.processor.Ingest(c.UserContext(), models.Document{
		BrandID:     req.BrandID,
		SourceURI:   req.SourceURI,
		RawText:     req.Content,
		ContentType: req.ContentType,
		Metadata:    req.Metadata,
	})
	if err != nil {
		switch {
		case errors.Is(err, ingestion.ErrEmptyDocument), errors.Is(err, vector.ErrInvalidBrand):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		case errors.Is(err, vector.ErrIndexUnavailable):
			logger.Error("Vector index unavailable during ingestion", zap.Error(err))
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "Vector index unavailable",
			})
		}
		logger.Error("Failed to process document", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process document",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":     "Document processed successfully",
		"document_id": result.DocumentID,
		"source_uri":  result.SourceURI,
		"title":       result.Title,
		"chunks":      result.Chunks,
	})
}
