package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"shelfmark/internal/models"
)

// StorePinger reports whether the document store answers.
type StorePinger interface {
	Ping(ctx context.Context) error
}

// Ledger is the slice of the processing ledger the HTTP surface reads.
type Ledger interface {
	Get(ctx context.Context, documentID int) (*models.ProcessingRecord, error)
	CountByStatus(ctx context.Context) (map[models.ProcessingStatus]int, error)
	ListHistory(ctx context.Context, documentID, limit int) ([]models.HistoryEntry, error)
}

// HealthHandler reports service liveness and pipeline counters.
type HealthHandler struct {
	store   StorePinger
	queue   Enqueuer
	scanner ScanRunner
	ledger  Ledger
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(store StorePinger, queue Enqueuer, scanner ScanRunner, ledger Ledger) *HealthHandler {
	return &HealthHandler{store: store, queue: queue, scanner: scanner, ledger: ledger}
}

// Check returns the service status.
// GET /api/health
// Always 200 so that container orchestrators keep the process alive while
// the store is briefly unreachable; "status" flips to degraded instead.
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	status := "healthy"
	storeStatus := "connected"

	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		status = "degraded"
		storeStatus = "unreachable: " + err.Error()
	}

	counts, err := h.ledger.CountByStatus(ctx)
	if err != nil {
		status = "degraded"
		counts = map[models.ProcessingStatus]int{}
	}

	return c.JSON(fiber.Map{
		"status":       status,
		"store":        storeStatus,
		"queue_depth":  h.queue.Depth(),
		"scan_running": h.scanner.Busy(),
		"documents":    counts,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}
