package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/docuchat/backend/internal/storage/sqlite"
	"github.com/docuchat/backend/pkg/logger"
)

type BookingHandler struct {
	db *sqlite.Client
}

func NewBookingHandler(db *sqlite.Client) *BookingHandler {
	return &BookingHandler{
		db: db,
	}
}

func (h *BookingHandler) ListBookings(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)

	bookings, err := h.db.ListBookings(c.Context(), limit)
	if err != nil {
		logger.Error("Failed to list bookings", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Service temporarily unavailable, please retry",
		})
	}

	out := make([]fiber.Map, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, fiber.Map{
			"id":         b.ID,
			"name":       b.Name,
			"email":      b.Email,
			"date":       b.Date,
			"time":       b.Time,
			"source":     b.Source,
			"created_at": b.CreatedAt.Unix(),
		})
	}

	return c.JSON(fiber.Map{
		"bookings": out,
		"count":    len(out),
	})
}
