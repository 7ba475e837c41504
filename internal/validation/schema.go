package validation

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/ggoodman/mcp-coffee-shop/mcp"
)

var knownTypes = map[string]struct{}{
	"string":  {},
	"number":  {},
	"integer": {},
	"boolean": {},
	"object":  {},
	"array":   {},
	"null":    {},
}

// ToolInputSchema validates and normalizes a tool input schema in-place.
// It de-duplicates Required preserving first-occurrence order, checks that
// every node uses a known type, and finally resolves the schema with a full
// JSON Schema implementation so that arguments can be validated against it.
func ToolInputSchema(s *mcp.ToolInputSchema) error {
	if s == nil {
		return fmt.Errorf("nil schema")
	}
	if s.Type != "object" {
		return fmt.Errorf("input schema type must be object, got %q", s.Type)
	}
	req, err := normalizeRequired(s.Required, s.Properties)
	if err != nil {
		return err
	}
	s.Required = req
	for name, p := range s.Properties {
		if err := checkProperty(name, p); err != nil {
			return err
		}
	}
	if _, err := resolve(*s); err != nil {
		return err
	}
	return nil
}

func normalizeRequired(required []string, props map[string]mcp.SchemaProperty) ([]string, error) {
	seen := map[string]struct{}{}
	var req []string
	for _, name := range required {
		if _, ok := props[name]; !ok {
			return nil, fmt.Errorf("required property missing: %s", name)
		}
		if _, dup := seen[name]; !dup {
			seen[name] = struct{}{}
			req = append(req, name)
		}
	}
	return req, nil
}

func checkProperty(path string, p mcp.SchemaProperty) error {
	if p.Type != "" {
		if _, ok := knownTypes[p.Type]; !ok {
			return fmt.Errorf("property %s has unknown type %q", path, p.Type)
		}
	}
	if p.Minimum != nil && p.Maximum != nil && *p.Minimum > *p.Maximum {
		return fmt.Errorf("property %s minimum greater than maximum", path)
	}
	if len(p.Enum) > 1 {
		uniq := map[string]struct{}{}
		for _, v := range p.Enum {
			uniq[canonical(v)] = struct{}{}
		}
		if len(uniq) != len(p.Enum) {
			return fmt.Errorf("duplicate enum values for property %s", path)
		}
	}
	if p.Items != nil {
		if err := checkProperty(path+"[]", *p.Items); err != nil {
			return err
		}
	}
	if len(p.Properties) > 0 || len(p.Required) > 0 {
		if _, err := normalizeRequired(p.Required, p.Properties); err != nil {
			return fmt.Errorf("property %s: %w", path, err)
		}
		for name, child := range p.Properties {
			if err := checkProperty(joinPath(path, name), child); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolve converts the simplified schema into a resolved JSON Schema. The
// simplified form uses standard keywords, so a JSON round trip is exact.
func resolve(s mcp.ToolInputSchema) (*jsonschema.Resolved, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	var js jsonschema.Schema
	if err := json.Unmarshal(b, &js); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	rs, err := js.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve schema: %w", err)
	}
	return rs, nil
}
