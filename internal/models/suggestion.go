package models

// Capabilities selects which metadata fields the pipeline asks the model for.
// Disabled fields are left out of the response schema and never written back.
type Capabilities struct {
	Title         bool `json:"title"`
	Tags          bool `json:"tags"`
	Correspondent bool `json:"correspondent"`
	DocumentType  bool `json:"document_type"`
	CreatedDate   bool `json:"created_date"`
	Language      bool `json:"language"`
	CustomFields  bool `json:"custom_fields"`
	Content       bool `json:"content"` // rewrite OCR text, off by default
}

// RestrictionPolicy pins suggested entities to the store's existing catalogs.
// A restricted kind is never created on demand; unknown names are dropped.
type RestrictionPolicy struct {
	Tags           bool `json:"tags"`
	Correspondents bool `json:"correspondents"`
	DocumentTypes  bool `json:"document_types"`
	CustomFields   bool `json:"custom_fields"`
}

// For reports whether the given kind is restricted to existing entries.
func (p RestrictionPolicy) For(kind EntityKind) bool {
	switch kind {
	case KindTag:
		return p.Tags
	case KindCorrespondent:
		return p.Correspondents
	case KindDocumentType:
		return p.DocumentTypes
	case KindCustomField:
		return p.CustomFields
	}
	return false
}

// Suggestion is the normalized metadata proposal extracted from one model
// response. Empty strings mean "no suggestion" for scalar fields; custom
// fields the model answered with null are absent from the map.
type Suggestion struct {
	Title         string         `json:"title,omitempty"`
	Tags          []string       `json:"tags,omitempty"`
	Correspondent string         `json:"correspondent,omitempty"`
	DocumentType  string         `json:"document_type,omitempty"`
	CreatedDate   string         `json:"created_date,omitempty"` // YYYY-MM-DD, validated
	Language      string         `json:"language,omitempty"`
	Content       string         `json:"content,omitempty"`
	CustomFields  map[string]any `json:"custom_fields,omitempty"` // keyed by field name
}
