package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/brand-assistant/backend/internal/middleware/validation"
	"github.com/brand-assistant/backend/internal/orchestrator"
	"github.com/brand-assistant/backend/pkg/logger"
)

// Conversation runs one turn. *orchestrator.Engine implements it.
type Conversation interface {
	Handle(ctx context.Context, msg orchestrator.Message) (*orchestrator.Reply, error)
}

type MessageHandler struct {
	conversation Conversation
}

func NewMessageHandler(conversation Conversation) *MessageHandler {
	return &MessageHandler{
		conversation: conversation,
	}
}

// HandleMessage expects validation.Message to have run. A FAILED turn still
// answers 200: the apology is the reply.
func (h *MessageHandler) HandleMessage(c *fiber.Ctx) error {
	req, ok := validation.MessageFrom(c)
	if !ok {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
	}

	reply, err := h.conversation.Handle(c.UserContext(), orchestrator.Message{
		UserID:  req.UserID,
		BrandID: req.BrandID,
		Text:    req.Text,
	})
	if err != nil {
		return turnError(c, err)
	}

	return c.JSON(toResponse(reply))
}

func turnError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidMessage):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, orchestrator.ErrUnknownBrand):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	logger.Error("Failed to process message", zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Failed to process message",
	})
}

type source struct {
	ChunkID   string  `json:"chunk_id,omitempty"`
	SourceURI string  `json:"source_uri"`
	Score     float64 `json:"similarity_score"`
	Web       bool    `json:"web,omitempty"`
}

type messageResponse struct {
	ID            string   `json:"id"`
	Response      string   `json:"response"`
	State         string   `json:"state"`
	Intent        string   `json:"intent"`
	Trace         []string `json:"trace"`
	Sources       []source `json:"sources"`
	UsedWebSearch bool     `json:"used_web_search"`
	Provider      string   `json:"provider,omitempty"`
	LatencyMS     int64    `json:"latency_ms"`
	Muted         bool     `json:"muted,omitempty"`
}

func toResponse(r *orchestrator.Reply) messageResponse {
	resp := messageResponse{
		ID:            r.ID,
		Response:      r.Text,
		State:         string(r.State),
		Intent:        string(r.Intent),
		UsedWebSearch: r.UsedWebSearch,
		Provider:      r.Provider,
		LatencyMS:     r.LatencyMS,
		Muted:         r.Muted,
		Sources:       make([]source, 0, len(r.Passages)),
	}
	for _, s := range r.Trace {
		resp.Trace = append(resp.Trace, string(s))
	}
	for _, p := range r.Passages {
		src := source{SourceURI: p.Chunk.SourceURI, Score: p.Score, Web: p.Synthetic}
		if !p.Synthetic {
			src.ChunkID = p.Chunk.ID
		}
		resp.Sources = append(resp.Sources, src)
	}
	return resp
}
