package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docuchat/backend/internal/chat"
	"github.com/docuchat/backend/internal/domain"
	"github.com/docuchat/backend/pkg/logger"
)

type ChatHandler struct {
	orchestrator *chat.Orchestrator
}

func NewChatHandler(orchestrator *chat.Orchestrator) *ChatHandler {
	return &ChatHandler{
		orchestrator: orchestrator,
	}
}

// HandleChat runs one turn. A missing session id starts a fresh session.
func (h *ChatHandler) HandleChat(c *fiber.Ctx) error {
	var req struct {
		SessionID string `json:"session_id"`
		Query     string `json:"query"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Query is required",
		})
	}

	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}

	res, err := h.orchestrator.Answer(c.Context(), req.SessionID, req.Query)
	if err != nil {
		logger.Error("Failed to process chat turn",
			zap.String("session_id", req.SessionID),
			zap.Error(err),
		)
		if domain.Upstream(err) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "Service temporarily unavailable, please retry",
			})
		}
		if errors.Is(err, domain.ErrLLMMalformed) {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error": "Upstream model returned an unusable response",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process query",
		})
	}

	return c.JSON(res)
}
