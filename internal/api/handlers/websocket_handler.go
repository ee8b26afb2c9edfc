package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/brand-assistant/backend/internal/orchestrator"
	"github.com/brand-assistant/backend/pkg/logger"
)

type WebSocketHandler struct {
	conversation Conversation
}

func NewWebSocketHandler(conversation Conversation) *WebSocketHandler {
	return &WebSocketHandler{
		conversation: conversation,
	}
}

type wsMessage struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	UserID  string `json:"user_id"`
	BrandID string `json:"brand_id"`
}

// HandleConnection serves one chat socket. user_id and brand_id may be fixed by
// query parameters at connect time or sent with each message.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	userID := c.Query("user_id")
	brandID := c.Query("brand_id")
	log := logger.Named("websocket").With(zap.String("brand_id", brandID), zap.String("user_id", userID))
	log.Info("WebSocket connection established")

	defer func() {
		c.Close()
		log.Info("WebSocket connection closed")
	}()

	for {
		var msg wsMessage
		if err := c.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("Failed to read WebSocket message", zap.Error(err))
			}
			return
		}

		if msg.Type != "message" {
			continue
		}
		if msg.UserID == "" {
			msg.UserID = userID
		}
		if msg.BrandID == "" {
			msg.BrandID = brandID
		}

		if err := h.streamReply(ctx, c, msg); err != nil {
			log.Error("Failed to stream reply", zap.Error(err))
			return
		}
	}
}

func (h *WebSocketHandler) streamReply(ctx context.Context, c *websocket.Conn, msg wsMessage) error {
	if err := h.sendChunk(c, "status", "Processing message..."); err != nil {
		return err
	}

	reply, err := h.conversation.Handle(ctx, orchestrator.Message{
		UserID:  msg.UserID,
		BrandID: msg.BrandID,
		Text:    msg.Text,
	})
	if err != nil {
		return h.sendError(c, err.Error())
	}

	for _, piece := range splitForStreaming(reply.Text) {
		if err := h.sendChunk(c, "chunk", piece); err != nil {
			return err
		}
	}

	resp := toResponse(reply)
	return c.WriteJSON(map[string]interface{}{
		"type":            "complete",
		"message_id":      resp.ID,
		"state":           resp.State,
		"intent":          resp.Intent,
		"sources":         resp.Sources,
		"used_web_search": resp.UsedWebSearch,
		"latency_ms":      resp.LatencyMS,
		"muted":           resp.Muted,
	})
}

func (h *WebSocketHandler) sendChunk(c *websocket.Conn, msgType, content string) error {
	return c.WriteJSON(map[string]interface{}{
		"type":    msgType,
		"content": content,
	})
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) error {
	return c.WriteJSON(map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	})
}

// splitForStreaming cuts text into words that concatenate back to the original
// modulo repeated spaces. Line breaks are their own pieces.
func splitForStreaming(text string) []string {
	var pieces []string
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			pieces = append(pieces, "\n")
		}
		words := strings.Fields(line)
		for j, w := range words {
			if j < len(words)-1 {
				w += " "
			}
			pieces = append(pieces, w)
		}
	}
	return pieces
}
