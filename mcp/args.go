package mcp

import (
	"encoding/json"
	"fmt"
)

// arguments wraps the decoded "arguments" object of a tools/call request.
// JSON numbers arrive as float64.
type arguments map[string]any

func (a arguments) str(key string) string {
	s, _ := a[key].(string)
	return s
}

func (a arguments) num(key string) (float64, bool) {
	v, ok := a[key].(float64)
	return v, ok
}

func (a arguments) flag(key string) bool {
	v, _ := a[key].(bool)
	return v
}

// ints returns the integral members of an array argument.
func (a arguments) ints(key string) []int {
	arr, _ := a[key].([]any)
	out := make([]int, 0, len(arr))
	for _, v := range arr {
		if f, ok := v.(float64); ok {
			out = append(out, int(f))
		}
	}
	return out
}

// require fails on the first key that is missing or an empty string.
func (a arguments) require(keys ...string) error {
	for _, k := range keys {
		if a.str(k) == "" {
			return fmt.Errorf("missing required argument %q", k)
		}
	}
	return nil
}

// schema builds the JSON Schema of a tool's input object.
type schema struct {
	props    map[string]any
	required []string
}

func object(required ...string) *schema {
	return &schema{props: make(map[string]any), required: required}
}

func (s *schema) prop(name, typ, desc string) *schema {
	s.props[name] = map[string]any{"type": typ, "description": desc}
	return s
}

func (s *schema) str(name, desc string) *schema     { return s.prop(name, "string", desc) }
func (s *schema) num(name, desc string) *schema     { return s.prop(name, "number", desc) }
func (s *schema) boolean(name, desc string) *schema { return s.prop(name, "boolean", desc) }

func (s *schema) numbers(name, desc string) *schema {
	s.props[name] = map[string]any{
		"type":        "array",
		"items":       map[string]any{"type": "number"},
		"description": desc,
	}
	return s
}

// watermark adds the parameters every overlay-building tool accepts.
func (s *schema) watermark() *schema {
	return s.
		str("text", "Watermark text (e.g. 'CONFIDENTIAL', 'DRAFT')").
		str("fontName", "Standard PDF font (default: Helvetica)").
		str("fontPath", "Path to a TrueType font to embed instead of a standard font").
		num("fontSize", "Font size in points (default: 40)").
		num("opacity", "Opacity from 0.0 to 1.0 (default: 0.5)").
		num("angle", "Rotation angle in degrees, counter-clockwise (default: 45)").
		str("color", "Fill color as R,G,B (default: 0,0,0)")
}

func (s *schema) build() map[string]any {
	m := map[string]any{"type": "object", "properties": s.props}
	if len(s.required) > 0 {
		m["required"] = s.required
	}
	return m
}

func textResult(format string, a ...any) ToolResult {
	return ToolResult{Content: []ContentBlock{{Type: "text", Text: fmt.Sprintf(format, a...)}}}
}

func jsonResult(v any) (ToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ToolResult{}, err
	}
	return ToolResult{Content: []ContentBlock{{Type: "text", Text: string(data)}}}, nil
}
