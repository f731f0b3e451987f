package models

// Document is the store's representation of a single document, reduced to the
// fields the enrichment pipeline reads or writes.
type Document struct {
	ID                  int                `json:"id"`
	Title               string             `json:"title"`
	Content             string             `json:"content"`
	Tags                []int              `json:"tags"`
	Correspondent       *int               `json:"correspondent"`
	DocumentType        *int               `json:"document_type"`
	CreatedDate         string             `json:"created_date,omitempty"` // YYYY-MM-DD
	ArchiveSerialNumber *int               `json:"archive_serial_number,omitempty"`
	OriginalFileName    string             `json:"original_file_name,omitempty"`
	CustomFields        []CustomFieldValue `json:"custom_fields,omitempty"`
	UserCanChange       *bool              `json:"user_can_change,omitempty"`
}

// CustomFieldValue is a field instance attached to a document.
type CustomFieldValue struct {
	Field int `json:"field"`
	Value any `json:"value"`
}

// Editable reports whether the requesting credentials may modify the
// document. Stores that predate the permission flag omit it entirely; absence
// means editable.
func (d *Document) Editable() bool {
	return d.UserCanChange == nil || *d.UserCanChange
}

// HasTag reports whether the document carries the given tag id.
func (d *Document) HasTag(id int) bool {
	for _, t := range d.Tags {
		if t == id {
			return true
		}
	}
	return false
}
