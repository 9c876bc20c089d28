package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docuchat/backend/internal/chat"
	"github.com/docuchat/backend/internal/domain"
	"github.com/docuchat/backend/pkg/logger"
)

type WebSocketHandler struct {
	orchestrator *chat.Orchestrator
}

func NewWebSocketHandler(orchestrator *chat.Orchestrator) *WebSocketHandler {
	return &WebSocketHandler{
		orchestrator: orchestrator,
	}
}

// HandleConnection serves one chat session over a websocket. The session id
// is pinned on the first message so every turn shares one history.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	sessionID := ""

	for {
		var msg struct {
			Type      string `json:"type"`
			SessionID string `json:"session_id"`
			Query     string `json:"query"`
		}

		if err := c.ReadJSON(&msg); err != nil {
			logger.Debug("WebSocket read ended", zap.Error(err))
			break
		}

		if msg.Type != "chat" {
			continue
		}

		if sessionID == "" {
			sessionID = msg.SessionID
			if sessionID == "" {
				sessionID = uuid.New().String()
			}
		}

		if err := h.answer(c, sessionID, msg.Query); err != nil {
			logger.Error("Failed to answer over websocket",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
			h.sendError(c, err)
		}
	}
}

func (h *WebSocketHandler) answer(c *websocket.Conn, sessionID, query string) error {
	res, err := h.orchestrator.Answer(context.Background(), sessionID, query)
	if err != nil {
		return err
	}

	// Stream the answer word by word, then close the turn with the full
	// result so the client can render provenance.
	words := strings.Fields(res.Answer)
	for i, word := range words {
		chunk := word
		if i < len(words)-1 {
			chunk += " "
		}
		if err := c.WriteJSON(map[string]interface{}{
			"type":    "chunk",
			"content": chunk,
		}); err != nil {
			return err
		}
	}

	return c.WriteJSON(map[string]interface{}{
		"type":       "complete",
		"session_id": res.SessionID,
		"turn_id":    res.TurnID,
		"answer":     res.Answer,
		"sources":    res.Sources,
		"booking":    res.Booking,
		"latency_ms": res.LatencyMS,
	})
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, err error) {
	msg := "Failed to process query"
	if domain.Upstream(err) {
		msg = "Service temporarily unavailable, please retry"
	}

	c.WriteJSON(map[string]interface{}{
		"type":  "error",
		"error": msg,
	})
}
