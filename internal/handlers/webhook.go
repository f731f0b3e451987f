package handlers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"shelfmark/internal/models"
	"shelfmark/internal/pipeline"
)

// Enqueuer is the slice of the queue the webhook surface needs.
type Enqueuer interface {
	Enqueue(documentID int, prompt string) (string, error)
	Depth() int
}

// WebhookHandler accepts document notifications from the store.
type WebhookHandler struct {
	queue Enqueuer
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(queue Enqueuer) *WebhookHandler {
	return &WebhookHandler{queue: queue}
}

// Handle accepts one webhook delivery and queues the document.
// POST /api/webhook
// The store fires this on document added/updated; duplicate deliveries are
// fine because the pipeline gate makes reprocessing a no-op.
func (h *WebhookHandler) Handle(c *fiber.Ctx) error {
	var payload models.WebhookPayload
	if err := c.BodyParser(&payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid payload: " + err.Error(),
		})
	}
	if payload.DocumentID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Missing document_id",
		})
	}

	receipt, err := h.queue.Enqueue(payload.DocumentID, payload.Prompt)
	if err != nil {
		log.Printf("⚠️ [WEBHOOK] Could not queue document %d: %v", payload.DocumentID, err)
		if errors.Is(err, pipeline.ErrQueueFull) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "Queue is full, retry later",
			})
		}
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Service is shutting down",
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"accepted":    true,
		"receipt_id":  receipt,
		"document_id": payload.DocumentID,
		"queue_depth": h.queue.Depth(),
	})
}
