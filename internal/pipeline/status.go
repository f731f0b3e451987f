package pipeline

import (
	"log"

	"shelfmark/internal/models"
)

// validTransitions defines the allowed lifecycle moves for a document's
// processing record. Any transition not listed here is invalid and will be
// rejected.
var validTransitions = map[models.ProcessingStatus]map[models.ProcessingStatus]bool{
	models.StatusUnseen: {
		models.StatusProcessing: true,
		models.StatusSkipped:    true,
	},
	models.StatusProcessing: {
		models.StatusProcessing: true, // dangling row from a crashed run, re-entered
		models.StatusComplete:   true,
		models.StatusUnseen:     true, // aborted runs drop the record
	},
	// Complete is final; skipped is never persisted, so nothing leaves it
	// either.
	models.StatusComplete: {},
	models.StatusSkipped:  {},
}

// Transition validates and performs a status change. Returns the new status
// if valid, or the current status if the transition is invalid.
func Transition(current, desired models.ProcessingStatus) models.ProcessingStatus {
	allowed, exists := validTransitions[current]
	if !exists || !allowed[desired] {
		log.Printf("⚠️ [STATE] Invalid transition: %s → %s (rejected)", current, desired)
		return current
	}
	return desired
}

// IsTerminal returns true if the status is a final state.
func IsTerminal(status models.ProcessingStatus) bool {
	return status == models.StatusComplete || status == models.StatusSkipped
}
