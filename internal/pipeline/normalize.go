package pipeline

import (
	"log"
	"sort"
	"strings"
	"time"

	"shelfmark/internal/models"
)

// normalize maps one schema-parsed response onto a Suggestion. Schema
// validation already guaranteed shape; this layer applies the stricter
// store-side rules: dates must parse, blanks mean no suggestion, a lone tag
// string becomes a one-element list, null custom fields disappear.
func (p *Processor) normalize(parsed map[string]any) *models.Suggestion {
	s := &models.Suggestion{}
	caps := p.cfg.Capabilities()

	if caps.Title {
		s.Title = strings.TrimSpace(stringValue(parsed["title"]))
	}
	if caps.Tags {
		s.Tags = stringSlice(parsed["tags"])
	}
	if caps.Correspondent {
		s.Correspondent = strings.TrimSpace(stringValue(parsed["correspondent"]))
	}
	if caps.DocumentType {
		s.DocumentType = strings.TrimSpace(stringValue(parsed["document_type"]))
	}
	if caps.CreatedDate {
		s.CreatedDate = normalizeDate(stringValue(parsed["created_date"]))
	}
	if caps.Language {
		s.Language = strings.TrimSpace(stringValue(parsed["language"]))
	}
	if caps.Content {
		s.Content = stringValue(parsed["content"])
	}
	if caps.CustomFields {
		if fields, ok := parsed["custom_fields"].(map[string]any); ok {
			s.CustomFields = make(map[string]any, len(fields))
			for name, val := range fields {
				if val == nil {
					continue // null means the model has no answer
				}
				s.CustomFields[name] = val
			}
		}
	}
	return s
}

func stringValue(val any) string {
	s, _ := val.(string)
	return s
}

// stringSlice accepts both the array form and the lone string models
// sometimes answer where a one-element array is meant.
func stringSlice(val any) []string {
	switch v := val.(type) {
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return []string{s}
		}
		return nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s := strings.TrimSpace(stringValue(item)); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// normalizeDate keeps only well-formed YYYY-MM-DD values; anything else is
// dropped rather than risking a store-side validation error on the PATCH.
func normalizeDate(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if _, err := time.Parse("2006-01-02", value); err != nil {
		log.Printf("⚠️ [PIPELINE] Dropping malformed date suggestion %q", value)
		return ""
	}
	return value
}

// customFieldValues converts suggested values to the store's wire shapes.
// Unknown names and values that do not fit the field type are dropped with a
// log line instead of failing the whole write. Output is ordered by field id
// so PATCH bodies are deterministic.
func customFieldValues(values map[string]any, defs []models.CustomFieldDefinition, docID int) []models.CustomFieldValue {
	byName := make(map[string]models.CustomFieldDefinition, len(defs))
	for _, d := range defs {
		byName[d.Name] = d
	}

	out := make([]models.CustomFieldValue, 0, len(values))
	for name, val := range values {
		def, ok := byName[name]
		if !ok {
			log.Printf("⏭️ [PIPELINE] Document %d: custom field %q is not configured, dropped", docID, name)
			continue
		}
		converted, ok := convertFieldValue(def, val)
		if !ok {
			log.Printf("⏭️ [PIPELINE] Document %d: custom field %q value %v does not fit type %s, dropped",
				docID, name, val, def.DataType)
			continue
		}
		out = append(out, models.CustomFieldValue{Field: def.ID, Value: converted})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

// convertFieldValue maps one suggested value onto the store's representation
// for the field type. Text-like fields pass the empty string through as an
// explicit clear; typed fields drop anything that does not parse.
func convertFieldValue(def models.CustomFieldDefinition, val any) (any, bool) {
	switch def.DataType {
	case "select":
		label := strings.TrimSpace(stringValue(val))
		if label == "" {
			return nil, false
		}
		if id := def.OptionID(label); id != "" {
			return id, true
		}
		return nil, false
	case "date":
		date := normalizeDate(stringValue(val))
		if date == "" {
			return nil, false
		}
		return date, true
	case "integer":
		switch n := val.(type) {
		case float64:
			return int(n), true
		case int:
			return n, true
		}
		return nil, false
	case "float":
		if n, ok := val.(float64); ok {
			return n, true
		}
		return nil, false
	case "boolean":
		if b, ok := val.(bool); ok {
			return b, true
		}
		return nil, false
	default:
		// string, monetary and url are stored as text.
		s, ok := val.(string)
		return s, ok
	}
}
