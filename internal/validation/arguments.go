package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/ggoodman/mcp-coffee-shop/mcp"
)

// FieldError describes one way in which tool arguments failed their schema.
// Path is dotted for object members and indexed for array items
// (e.g. "order.extras[1]"); the empty path denotes the arguments object.
type FieldError struct {
	Path     string `json:"path"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
	Reason   string `json:"reason"`
}

func (e FieldError) Error() string {
	path := e.Path
	if path == "" {
		path = "arguments"
	}
	if e.Expected == "" && e.Actual == "" {
		return fmt.Sprintf("%s: %s", path, e.Reason)
	}
	return fmt.Sprintf("%s: %s (expected %s, got %s)", path, e.Reason, e.Expected, e.Actual)
}

// Errors is the full set of problems found in one argument payload.
type Errors []FieldError

func (e Errors) Error() string {
	msgs := make([]string, len(e))
	for i, fe := range e {
		msgs[i] = fe.Error()
	}
	return strings.Join(msgs, "; ")
}

const (
	reasonMissing   = "required field is missing"
	reasonType      = "type mismatch"
	reasonEnum      = "value not allowed"
	reasonUnknown   = "unknown field"
	reasonMinimum   = "value below minimum"
	reasonMaximum   = "value above maximum"
	reasonMalformed = "arguments are not valid JSON"
)

// Arguments validates a raw arguments payload against a tool input schema.
// Absent or null arguments are treated as an empty object. It returns nil or
// an Errors value listing every violation found.
func Arguments(s mcp.ToolInputSchema, raw json.RawMessage) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		trimmed = []byte("{}")
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return Errors{{Reason: reasonMalformed, Actual: err.Error()}}
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return Errors{{Expected: "object", Actual: typeOf(v), Reason: reasonType}}
	}

	var errs Errors
	walkObject(&errs, "", s.Properties, s.Required, s.AllowsAdditionalProperties(), obj)
	if len(errs) > 0 {
		return errs
	}

	// Second pass with a complete JSON Schema implementation for anything
	// the walk above does not model.
	rs, err := resolve(s)
	if err != nil {
		return Errors{{Reason: err.Error()}}
	}
	var plain any
	if err := json.Unmarshal(trimmed, &plain); err != nil {
		return Errors{{Reason: reasonMalformed, Actual: err.Error()}}
	}
	if err := rs.Validate(plain); err != nil {
		return Errors{{Reason: err.Error()}}
	}
	return nil
}

func walkObject(errs *Errors, path string, props map[string]mcp.SchemaProperty, required []string, allowAdditional bool, obj map[string]any) {
	for _, name := range required {
		if _, ok := obj[name]; !ok {
			expected := props[name].Type
			if expected == "" {
				expected = "a value"
			}
			*errs = append(*errs, FieldError{Path: joinPath(path, name), Expected: expected, Actual: "missing", Reason: reasonMissing})
		}
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		p, known := props[k]
		if !known {
			if !allowAdditional {
				*errs = append(*errs, FieldError{Path: joinPath(path, k), Expected: "no additional fields", Actual: typeOf(obj[k]), Reason: reasonUnknown})
			}
			continue
		}
		walkValue(errs, joinPath(path, k), p, obj[k])
	}
}

func walkValue(errs *Errors, path string, p mcp.SchemaProperty, v any) {
	if p.Type != "" && !matchesType(p.Type, v) {
		*errs = append(*errs, FieldError{Path: path, Expected: p.Type, Actual: typeOf(v), Reason: reasonType})
		return
	}

	if len(p.Enum) > 0 {
		want := canonical(v)
		found := false
		opts := make([]string, len(p.Enum))
		for i, e := range p.Enum {
			opts[i] = canonical(e)
			if opts[i] == want {
				found = true
			}
		}
		if !found {
			*errs = append(*errs, FieldError{Path: path, Expected: "one of " + strings.Join(opts, ", "), Actual: want, Reason: reasonEnum})
		}
	}

	if n, ok := v.(json.Number); ok {
		f, err := n.Float64()
		if err == nil {
			if p.Minimum != nil && f < *p.Minimum {
				*errs = append(*errs, FieldError{Path: path, Expected: ">= " + formatFloat(*p.Minimum), Actual: n.String(), Reason: reasonMinimum})
			}
			if p.Maximum != nil && f > *p.Maximum {
				*errs = append(*errs, FieldError{Path: path, Expected: "<= " + formatFloat(*p.Maximum), Actual: n.String(), Reason: reasonMaximum})
			}
		}
	}

	switch val := v.(type) {
	case []any:
		if p.Items != nil {
			for i, item := range val {
				walkValue(errs, fmt.Sprintf("%s[%d]", path, i), *p.Items, item)
			}
		}
	case map[string]any:
		if len(p.Properties) > 0 || len(p.Required) > 0 || !p.AllowsAdditionalProperties() {
			walkObject(errs, path, p.Properties, p.Required, p.AllowsAdditionalProperties(), val)
		}
	}
}

func matchesType(want string, v any) bool {
	switch want {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		_, ok := v.(json.Number)
		return ok
	case "integer":
		n, ok := v.(json.Number)
		if !ok {
			return false
		}
		if _, err := n.Int64(); err == nil {
			return true
		}
		f, err := n.Float64()
		return err == nil && f == math.Trunc(f)
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	case "null":
		return v == nil
	default:
		return true
	}
}

func typeOf(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number:
		if _, err := val.Int64(); err == nil {
			return "integer"
		}
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// canonical renders a scalar so that values decoded from different sources
// (Go literals, json.Number, float64) compare equal when they denote the
// same JSON value.
func canonical(v any) string {
	switch n := v.(type) {
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return formatFloat(f)
		}
		return n.String()
	case float64:
		return formatFloat(n)
	case float32:
		return formatFloat(float64(n))
	case int:
		return strconv.Itoa(n)
	case int64:
		return strconv.FormatInt(n, 10)
	case int32:
		return strconv.FormatInt(int64(n), 10)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}
