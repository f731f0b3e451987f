package models

import "time"

// ProcessingStatus tracks where a document sits in the enrichment lifecycle.
type ProcessingStatus string

const (
	StatusUnseen     ProcessingStatus = "unseen" // no ledger row exists
	StatusProcessing ProcessingStatus = "processing"
	StatusComplete   ProcessingStatus = "complete"
	StatusSkipped    ProcessingStatus = "skipped" // reported per run, never persisted
)

// ProcessingRecord is the per-document ledger row. It is created when the
// pipeline starts on a document and flipped to complete only after a
// successful write-back; no row means the document was never processed (or
// crashed mid-flight) and is safe to pick up again.
type ProcessingRecord struct {
	DocumentID int              `json:"document_id"`
	Title      string           `json:"title"`
	Status     ProcessingStatus `json:"status"`
	Usage      TokenUsage       `json:"usage"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// TokenUsage mirrors the usage block of an OpenAI-compatible completion
// response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates usage across retries of one document.
func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// HistoryEntry snapshots a document's headline metadata immediately before
// and after one write-back, enough to restore the previous state by hand.
type HistoryEntry struct {
	ID                    string    `json:"id"`
	DocumentID            int       `json:"document_id"`
	PreviousTitle         string    `json:"previous_title"`
	PreviousTags          []int     `json:"previous_tags"`
	PreviousCorrespondent *int      `json:"previous_correspondent"`
	NewTitle              string    `json:"new_title"`
	NewTags               []int     `json:"new_tags"`
	NewCorrespondent      *int      `json:"new_correspondent"`
	CreatedAt             time.Time `json:"created_at"`
}
