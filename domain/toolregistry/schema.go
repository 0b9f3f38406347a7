package toolregistry

import "fmt"

// Schema is a minimal JSON-schema-shaped argument descriptor: the subset
// (object/type/required/properties) the spec's §4.D contract actually needs
// ("schema describes the argument object"). See DESIGN.md for why this is
// hand-rolled rather than built on a third-party validator.
type Schema struct {
	Type        string             `json:"type"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Description string             `json:"description,omitempty"`
}

// Object is a convenience constructor for the common case of an object
// schema with named, typed properties.
func Object(required []string, properties map[string]*Schema) *Schema {
	return &Schema{Type: "object", Required: required, Properties: properties}
}

// String, Number, and Bool build leaf property schemas.
func String(description string) *Schema { return &Schema{Type: "string", Description: description} }
func Number(description string) *Schema { return &Schema{Type: "number", Description: description} }
func Bool(description string) *Schema   { return &Schema{Type: "boolean", Description: description} }

// Validate checks args (decoded JSON, i.e. map[string]any / []any /
// string / float64 / bool / nil) against the schema.
func (s *Schema) Validate(value any) error {
	return s.validateAt("$", value)
}

func (s *Schema) validateAt(path string, value any) error {
	switch s.Type {
	case "", "object":
		obj, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("%s: expected object, got %T", path, value)
		}
		for _, req := range s.Required {
			if _, present := obj[req]; !present {
				return fmt.Errorf("%s: missing required property %q", path, req)
			}
		}
		for name, propSchema := range s.Properties {
			v, present := obj[name]
			if !present {
				continue
			}
			if err := propSchema.validateAt(path+"."+name, v); err != nil {
				return err
			}
		}
		return nil
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("%s: expected string, got %T", path, value)
		}
	case "number":
		switch value.(type) {
		case float64, float32, int, int64:
		default:
			return fmt.Errorf("%s: expected number, got %T", path, value)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("%s: expected boolean, got %T", path, value)
		}
	case "array":
		arr, ok := value.([]any)
		if !ok {
			return fmt.Errorf("%s: expected array, got %T", path, value)
		}
		if s.Items != nil {
			for i, v := range arr {
				if err := s.Items.validateAt(fmt.Sprintf("%s[%d]", path, i), v); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
