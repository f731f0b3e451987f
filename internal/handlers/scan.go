package handlers

import (
	"context"
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"shelfmark/internal/pipeline"
)

// ScanRunner is the slice of the scanner the scan endpoint needs.
type ScanRunner interface {
	RunNow(ctx context.Context) (*pipeline.ScanReport, error)
	Busy() bool
}

// ScanHandler triggers catalog sweeps on demand.
type ScanHandler struct {
	scanner ScanRunner
}

// NewScanHandler creates a new scan handler.
func NewScanHandler(scanner ScanRunner) *ScanHandler {
	return &ScanHandler{scanner: scanner}
}

// Trigger starts a sweep in the background.
// POST /api/scan
// The sweep can take minutes on a large catalog, so the handler returns
// immediately and the caller watches progress via /api/health.
func (h *ScanHandler) Trigger(c *fiber.Ctx) error {
	if h.scanner.Busy() {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "A scan is already running",
		})
	}

	go func() {
		report, err := h.scanner.RunNow(context.Background())
		if err != nil {
			if errors.Is(err, pipeline.ErrScanBusy) {
				return
			}
			log.Printf("⚠️ [SCAN] Manual sweep failed: %v", err)
			return
		}
		log.Printf("📊 [SCAN] Manual sweep done: %d seen, %d processed", report.Seen, report.Processed)
	}()

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"started": true,
	})
}
