package models

// WebhookPayload is the body the store posts when a document is added or
// changed. Only the document id is required; other store fields are ignored.
type WebhookPayload struct {
	DocumentID int    `json:"document_id"`
	EventType  string `json:"event_type,omitempty"`
	Prompt     string `json:"prompt,omitempty"` // per-document system prompt override
}
