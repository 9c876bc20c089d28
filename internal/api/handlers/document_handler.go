package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/docuchat/backend/internal/domain"
	"github.com/docuchat/backend/internal/ingestion"
	"github.com/docuchat/backend/pkg/logger"
)

type DocumentHandler struct {
	processor *ingestion.Processor
}

func NewDocumentHandler(processor *ingestion.Processor) *DocumentHandler {
	return &DocumentHandler{
		processor: processor,
	}
}

func (h *DocumentHandler) UploadDocument(c *fiber.Ctx) error {
	var req struct {
		Filename    string `json:"filename"`
		Title       string `json:"title"`
		Content     string `json:"content"`
		ContentType string `json:"content_type"`
		Strategy    string `json:"strategy"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Filename == "" || req.Content == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Filename and content are required",
		})
	}

	res, err := h.processor.Process(c.Context(), ingestion.Upload{
		Filename:    req.Filename,
		Title:       req.Title,
		Content:     req.Content,
		ContentType: req.ContentType,
		Strategy:    req.Strategy,
	})
	if err != nil {
		logger.Error("Failed to ingest document",
			zap.String("filename", req.Filename),
			zap.Error(err),
		)
		if domain.Upstream(err) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "Service temporarily unavailable, please retry",
			})
		}
		if errors.Is(err, domain.ErrInvalidConfig) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid chunking configuration",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process document",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(res)
}
