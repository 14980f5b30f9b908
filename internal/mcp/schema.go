package mcp

import "sort"

// prop builds one JSON Schema property.
func prop(typ, desc string) map[string]any {
	return map[string]any{
		"type":        typ,
		"description": desc,
	}
}

// arrayProp builds a string-array property.
func arrayProp(desc string) map[string]any {
	return map[string]any{
		"type":        "array",
		"items":       map[string]any{"type": "string"},
		"description": desc,
	}
}

// enumProp builds a string property constrained to the given values.
func enumProp(desc string, values ...string) map[string]any {
	return map[string]any{
		"type":        "string",
		"description": desc,
		"enum":        values,
	}
}

// objectSchema assembles an object schema. Required names are sorted
// for deterministic output.
func objectSchema(props map[string]any, required ...string) map[string]any {
	sort.Strings(required)
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
