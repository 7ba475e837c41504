package mcpservice

import (
	"github.com/invopop/jsonschema"

	"github.com/ggoodman/mcp-coffee-shop/mcp"
)

// reflectToMCPInputSchema reflects a Go type A into a jsonschema.Schema, and
// converts it to the simplified mcp.ToolInputSchema. The unknown field policy
// is always stated explicitly on the returned schema.
func reflectToMCPInputSchema[A any](allowAdditional bool) mcp.ToolInputSchema {
	r := &jsonschema.Reflector{
		DoNotReference:            true, // inline defs
		ExpandedStruct:            true, // put struct at root
		AllowAdditionalProperties: allowAdditional,
	}
	s := r.Reflect(new(A))

	// Only object schemas map cleanly to MCP ToolInputSchema. If not an object,
	// expose an empty object with the configured additionalProperties policy.
	if s == nil || s.Type != "object" {
		return mcp.ToolInputSchema{
			Type:                 "object",
			Properties:           map[string]mcp.SchemaProperty{},
			AdditionalProperties: &allowAdditional,
		}
	}

	return mcp.ToolInputSchema{
		Type:                 "object",
		Properties:           toMCPProperties(s, &allowAdditional),
		Required:             append([]string(nil), s.Required...),
		AdditionalProperties: &allowAdditional,
	}
}

// reflectToMCPOutputSchema reflects a Go type O into a mcp.ToolOutputSchema.
func reflectToMCPOutputSchema[O any]() mcp.ToolOutputSchema {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	s := r.Reflect(new(O))
	if s == nil || s.Type != "object" {
		return mcp.ToolOutputSchema{Type: "object", Properties: map[string]mcp.SchemaProperty{}}
	}
	return mcp.ToolOutputSchema{
		Type:       "object",
		Properties: toMCPProperties(s, nil),
		Required:   append([]string(nil), s.Required...),
	}
}

// toMCPProperties converts the properties of s. Nested struct objects get the
// additionalProperties policy passed in; nil leaves them open.
//
// The result is a map, so encoding/json writes properties sorted by name.
// Declaration order survives only in Required.
func toMCPProperties(s *jsonschema.Schema, additional *bool) map[string]mcp.SchemaProperty {
	props := make(map[string]mcp.SchemaProperty)
	if s.Properties == nil {
		return props
	}
	for el := s.Properties.Oldest(); el != nil; el = el.Next() {
		props[el.Key] = toMCPProperty(el.Value, additional)
	}
	return props
}

// toMCPProperty recursively maps a jsonschema.Schema to the simplified MCP SchemaProperty.
func toMCPProperty(s *jsonschema.Schema, additional *bool) mcp.SchemaProperty {
	if s == nil {
		return mcp.SchemaProperty{}
	}
	p := mcp.SchemaProperty{
		Type:        s.Type,
		Description: s.Description,
	}
	if len(s.Enum) > 0 {
		p.Enum = s.Enum
	}
	if s.Minimum != "" {
		if f, err := s.Minimum.Float64(); err == nil {
			p.Minimum = &f
		}
	}
	if s.Maximum != "" {
		if f, err := s.Maximum.Float64(); err == nil {
			p.Maximum = &f
		}
	}
	if s.Type == "array" && s.Items != nil {
		item := toMCPProperty(s.Items, additional)
		p.Items = &item
	}
	// struct-shaped objects only; maps reflect without properties and stay open
	if s.Type == "object" && s.Properties != nil {
		p.Properties = toMCPProperties(s, additional)
		if len(s.Required) > 0 {
			p.Required = append([]string(nil), s.Required...)
		}
		p.AdditionalProperties = additional
	}
	return p
}
