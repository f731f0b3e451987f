package handlers

import (
	"github.com/gofiber/fiber/v2"
)

// HistoryHandler exposes enrichment records and before/after history.
type HistoryHandler struct {
	ledger Ledger
}

// NewHistoryHandler creates a new history handler.
func NewHistoryHandler(ledger Ledger) *HistoryHandler {
	return &HistoryHandler{ledger: ledger}
}

// List returns past enrichments, newest first.
// GET /api/history?document_id=&limit=
func (h *HistoryHandler) List(c *fiber.Ctx) error {
	documentID := c.QueryInt("document_id", 0)
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	entries, err := h.ledger.ListHistory(c.Context(), documentID, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not read history: " + err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"history": entries,
		"count":   len(entries),
	})
}

// GetRecord returns the processing record for one document.
// GET /api/records/:id
func (h *HistoryHandler) GetRecord(c *fiber.Ctx) error {
	documentID, err := c.ParamsInt("id")
	if err != nil || documentID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid document id",
		})
	}

	record, err := h.ledger.Get(c.Context(), documentID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not read record: " + err.Error(),
		})
	}
	if record == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "No processing record for this document",
		})
	}

	return c.JSON(record)
}
