package schema

import (
	"shelfmark/internal/models"
)

// Name identifies the schema in the response_format block of LLM requests.
const Name = "document_metadata"

// Catalogs carries the store state the schema is derived from. Name lists are
// only consulted for restricted kinds.
type Catalogs struct {
	Tags           []string
	Correspondents []string
	DocumentTypes  []string
	CustomFields   []models.CustomFieldDefinition
}

// Builder derives the per-document response schema from the configured
// capabilities and restriction policy.
type Builder struct {
	caps   models.Capabilities
	policy models.RestrictionPolicy
}

// NewBuilder creates a schema builder for the given capability set.
func NewBuilder(caps models.Capabilities, policy models.RestrictionPolicy) *Builder {
	return &Builder{caps: caps, policy: policy}
}

// Build assembles the response schema for one document run. Restricted kinds
// get their current catalog embedded as an enum; unrestricted kinds stay
// free-form so the model can suggest new entities. Every enabled field is
// required; the model opts out with an empty string (scalars) or null
// (custom fields).
func (b *Builder) Build(cat Catalogs) *JSONSchema {
	strict := false
	root := &JSONSchema{
		Type:                 "object",
		Properties:           map[string]*JSONSchema{},
		AdditionalProperties: &strict,
	}

	if b.caps.Title {
		root.Properties["title"] = &JSONSchema{
			Type:        "string",
			Description: "A concise descriptive title for the document",
		}
		root.Required = append(root.Required, "title")
	}

	if b.caps.Tags {
		items := &JSONSchema{Type: "string"}
		if b.policy.Tags {
			items.Enum = append([]string{}, cat.Tags...)
		}
		root.Properties["tags"] = &JSONSchema{
			Type:        "array",
			Items:       items,
			Description: "Topic tags for the document, most specific first",
		}
		root.Required = append(root.Required, "tags")
	}

	if b.caps.Correspondent {
		prop := &JSONSchema{
			Type:        "string",
			Description: "The sender or institution the document is from, empty string if unknown",
		}
		if b.policy.Correspondents {
			prop.Enum = append(append([]string{}, cat.Correspondents...), "")
		}
		root.Properties["correspondent"] = prop
		root.Required = append(root.Required, "correspondent")
	}

	if b.caps.DocumentType {
		prop := &JSONSchema{
			Type:        "string",
			Description: "The kind of document, e.g. Invoice or Contract, empty string if unknown",
		}
		if b.policy.DocumentTypes {
			prop.Enum = append(append([]string{}, cat.DocumentTypes...), "")
		}
		root.Properties["document_type"] = prop
		root.Required = append(root.Required, "document_type")
	}

	if b.caps.CreatedDate {
		root.Properties["created_date"] = &JSONSchema{
			Type:        "string",
			Description: "The date printed on the document in YYYY-MM-DD format, empty string if none is visible",
		}
		root.Required = append(root.Required, "created_date")
	}

	if b.caps.Language {
		root.Properties["language"] = &JSONSchema{
			Type:        "string",
			Description: "ISO 639-1 code of the document language, e.g. en or de",
		}
		root.Required = append(root.Required, "language")
	}

	if b.caps.Content {
		root.Properties["content"] = &JSONSchema{
			Type:        "string",
			Description: "The document text with OCR mistakes corrected, preserving the original wording",
		}
		root.Required = append(root.Required, "content")
	}

	if b.caps.CustomFields && len(cat.CustomFields) > 0 {
		fields := &JSONSchema{
			Type:                 "object",
			Properties:           map[string]*JSONSchema{},
			AdditionalProperties: &strict,
		}
		for _, def := range cat.CustomFields {
			fields.Properties[def.Name] = fieldSchema(def)
			fields.Required = append(fields.Required, def.Name)
		}
		root.Properties["custom_fields"] = fields
		root.Required = append(root.Required, "custom_fields")
	}

	return root
}

func fieldSchema(def models.CustomFieldDefinition) *JSONSchema {
	switch def.DataType {
	case "boolean":
		return &JSONSchema{Type: "boolean", Description: "null if unknown"}
	case "date":
		return &JSONSchema{Type: "string", Description: "YYYY-MM-DD, null if unknown"}
	case "integer":
		return &JSONSchema{Type: "integer", Description: "null if unknown"}
	case "float":
		return &JSONSchema{Type: "number", Description: "null if unknown"}
	case "monetary":
		return &JSONSchema{Type: "string", Description: "Amount with optional ISO currency prefix, e.g. EUR123.45, null if unknown"}
	case "url":
		return &JSONSchema{Type: "string", Description: "Full URL including scheme, null if unknown"}
	case "select":
		return &JSONSchema{Type: "string", Enum: def.Options(), Description: "One of the listed options, null if unknown"}
	default:
		return &JSONSchema{Type: "string", Description: "null if unknown"}
	}
}
