package models

// EntityKind identifies one of the store's metadata catalogs.
type EntityKind string

const (
	KindTag           EntityKind = "tag"
	KindCorrespondent EntityKind = "correspondent"
	KindDocumentType  EntityKind = "document_type"
	KindCustomField   EntityKind = "custom_field"
)

// Endpoint returns the store's REST collection segment for the kind.
func (k EntityKind) Endpoint() string {
	switch k {
	case KindTag:
		return "tags"
	case KindCorrespondent:
		return "correspondents"
	case KindDocumentType:
		return "document_types"
	case KindCustomField:
		return "custom_fields"
	}
	return string(k)
}

// CatalogEntity is one entry of a store catalog (a tag, a correspondent or a
// document type). Matching is done on Name, case-insensitively; ID is what
// gets written back to documents.
type CatalogEntity struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// CustomFieldDefinition describes a custom field configured in the store.
type CustomFieldDefinition struct {
	ID        int               `json:"id"`
	Name      string            `json:"name"`
	DataType  string            `json:"data_type"` // string, url, date, boolean, integer, monetary, float, select
	ExtraData *CustomFieldExtra `json:"extra_data,omitempty"`
}

// CustomFieldExtra carries per-type configuration from the store, currently
// only the option list of select fields.
type CustomFieldExtra struct {
	SelectOptions []SelectOption `json:"select_options,omitempty"`
}

// SelectOption is one choice of a select custom field.
type SelectOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Options returns the select labels, or nil for non-select fields.
func (d *CustomFieldDefinition) Options() []string {
	if d.ExtraData == nil || len(d.ExtraData.SelectOptions) == 0 {
		return nil
	}
	labels := make([]string, 0, len(d.ExtraData.SelectOptions))
	for _, o := range d.ExtraData.SelectOptions {
		labels = append(labels, o.Label)
	}
	return labels
}

// OptionID maps a select label back to the option id the store expects as the
// stored value. Returns "" when the label is not one of the options.
func (d *CustomFieldDefinition) OptionID(label string) string {
	if d.ExtraData == nil {
		return ""
	}
	for _, o := range d.ExtraData.SelectOptions {
		if o.Label == label {
			return o.ID
		}
	}
	return ""
}
