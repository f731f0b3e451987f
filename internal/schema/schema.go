package schema

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// JSONSchema describes the structured output contract sent to the model via
// response_format and enforced again on the reply.
type JSONSchema struct {
	Type                 string                 `json:"type"`
	Properties           map[string]*JSONSchema `json:"properties,omitempty"`
	Items                *JSONSchema            `json:"items,omitempty"`
	Required             []string               `json:"required,omitempty"`
	AdditionalProperties *bool                  `json:"additionalProperties,omitempty"`
	Description          string                 `json:"description,omitempty"`
	Enum                 []string               `json:"enum,omitempty"`
}

// ExtractJSON pulls the first JSON object out of a model reply, tolerating
// markdown fences and prose around it.
func ExtractJSON(content string) string {
	content = strings.TrimSpace(content)

	jsonBlockRegex := regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)```")
	if matches := jsonBlockRegex.FindStringSubmatch(content); len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}

	start := strings.Index(content, "{")
	if start == -1 {
		return content
	}

	depth := 0
	for i := start; i < len(content); i++ {
		if content[i] == '{' {
			depth++
		} else if content[i] == '}' {
			depth--
			if depth == 0 {
				return content[start : i+1]
			}
		}
	}

	return content[start:]
}

// Parse extracts, decodes and validates a model reply against the schema.
func (s *JSONSchema) Parse(content string) (map[string]any, error) {
	jsonContent := ExtractJSON(content)

	var output map[string]any
	if err := json.Unmarshal([]byte(jsonContent), &output); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	if err := s.Validate(output); err != nil {
		return nil, err
	}
	return output, nil
}

// Validate checks required fields, value types and enum membership. Null is
// accepted for any field; it means "no suggestion".
func (s *JSONSchema) Validate(output map[string]any) error {
	for _, required := range s.Required {
		if _, exists := output[required]; !exists {
			return fmt.Errorf("missing required field: %s", required)
		}
	}

	for propName, propSchema := range s.Properties {
		val, exists := output[propName]
		if !exists {
			continue
		}
		if err := propSchema.validateValue(val); err != nil {
			return fmt.Errorf("field %s: %w", propName, err)
		}
	}

	return nil
}

func (s *JSONSchema) validateValue(val any) error {
	if val == nil {
		return nil
	}

	switch s.Type {
	case "string":
		str, ok := val.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", val)
		}
		return s.checkEnum(str)
	case "number", "integer":
		switch val.(type) {
		case float64, float32, int, int32, int64:
		default:
			return fmt.Errorf("expected number, got %T", val)
		}
	case "boolean":
		if _, ok := val.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", val)
		}
	case "array":
		// Models occasionally answer a lone value where a one-element array
		// is meant; accept it here and let normalization wrap it.
		arr, ok := val.([]any)
		if !ok {
			arr = []any{val}
		}
		if s.Items != nil {
			for i, item := range arr {
				if err := s.Items.validateValue(item); err != nil {
					return fmt.Errorf("item %d: %w", i, err)
				}
			}
		}
	case "object":
		obj, ok := val.(map[string]any)
		if !ok {
			return fmt.Errorf("expected object, got %T", val)
		}
		if err := s.Validate(obj); err != nil {
			return err
		}
	}

	return nil
}

func (s *JSONSchema) checkEnum(str string) error {
	if len(s.Enum) == 0 {
		return nil
	}
	for _, allowed := range s.Enum {
		if str == allowed {
			return nil
		}
	}
	return fmt.Errorf("value %q is not one of the allowed options", str)
}
