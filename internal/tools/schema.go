package tools

import (
	"fmt"
	"sort"
)

var knownTypes = map[string]bool{
	"string":  true,
	"number":  true,
	"integer": true,
	"boolean": true,
	"array":   true,
	"object":  true,
}

// ParseSchema validates a stored JSON schema. An empty or nil schema is a
// tool without arguments.
func ParseSchema(raw map[string]any) (ToolSchema, error) {
	schema := ToolSchema{Properties: map[string]Property{}}
	if len(raw) == 0 {
		return schema, nil
	}
	if t, ok := raw["type"]; ok {
		if s, _ := t.(string); s != "object" {
			return ToolSchema{}, fmt.Errorf("%w: top-level type must be object, got %v", ErrInvalidSchema, t)
		}
	}

	if props, ok := raw["properties"]; ok && props != nil {
		pm, ok := props.(map[string]any)
		if !ok {
			return ToolSchema{}, fmt.Errorf("%w: properties must be an object", ErrInvalidSchema)
		}
		for name, v := range pm {
			p, err := parseProperty(v)
			if err != nil {
				return ToolSchema{}, fmt.Errorf("%w: property %q: %v", ErrInvalidSchema, name, err)
			}
			schema.Properties[name] = p
		}
	}

	if req, ok := raw["required"]; ok && req != nil {
		list, ok := req.([]any)
		if !ok {
			if strs, isStrs := req.([]string); isStrs {
				for _, s := range strs {
					list = append(list, s)
				}
			} else {
				return ToolSchema{}, fmt.Errorf("%w: required must be a list", ErrInvalidSchema)
			}
		}
		for _, r := range list {
			name, ok := r.(string)
			if !ok {
				return ToolSchema{}, fmt.Errorf("%w: required entries must be strings", ErrInvalidSchema)
			}
			if _, declared := schema.Properties[name]; !declared {
				return ToolSchema{}, fmt.Errorf("%w: required %q is not a declared property", ErrInvalidSchema, name)
			}
			schema.Required = append(schema.Required, name)
		}
	}
	return schema, nil
}

func parseProperty(v any) (Property, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return Property{}, fmt.Errorf("must be an object")
	}
	typ, _ := m["type"].(string)
	if !knownTypes[typ] {
		return Property{}, fmt.Errorf("unknown type %v", m["type"])
	}
	p := Property{Type: typ}
	p.Description, _ = m["description"].(string)
	if enum, ok := m["enum"].([]any); ok {
		p.Enum = enum
	}
	if typ == "array" {
		items, ok := m["items"]
		if !ok {
			return Property{}, fmt.Errorf("array without items")
		}
		it, err := parseProperty(items)
		if err != nil {
			return Property{}, fmt.Errorf("items: %v", err)
		}
		p.Items = &it
	}
	return p, nil
}

// JSONSchema renders the schema as a JSON schema object for the model.
func (s ToolSchema) JSONSchema() map[string]any {
	props := make(map[string]any, len(s.Properties))
	for name, p := range s.Properties {
		props[name] = p.jsonSchema()
	}
	out := map[string]any{"type": "object", "properties": props}
	if len(s.Required) > 0 {
		req := append([]string(nil), s.Required...)
		sort.Strings(req)
		out["required"] = req
	}
	return out
}

func (p Property) jsonSchema() map[string]any {
	m := map[string]any{"type": p.Type}
	if p.Description != "" {
		m["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		m["enum"] = p.Enum
	}
	if p.Items != nil {
		m["items"] = p.Items.jsonSchema()
	}
	return m
}

// checkType reports whether v is acceptable for a property of type typ.
// Arguments arrive JSON decoded, so numbers are float64.
func checkType(typ string, v any) bool {
	switch typ {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		switch v.(type) {
		case float64, float32, int, int64:
			return true
		}
		return false
	case "integer":
		switch n := v.(type) {
		case int, int64:
			return true
		case float64:
			return n == float64(int64(n))
		}
		return false
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	}
	return true
}
