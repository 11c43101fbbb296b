package llm

// BuildCutlistJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a generic map.
// We pass it to the model as an output contract and use it locally for the strict parse.
func BuildCutlistJSONSchema() map[string]any {
	operation := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"type":   map[string]any{"type": "string", "minLength": 1},
			"code":   map[string]any{"type": "string"},
			"detail": map[string]any{"type": "string"},
		},
		"required": []string{"type"},
	}
	part := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"label":      map[string]any{"type": "string"},
			"length":     dimensionProp(),
			"width":      dimensionProp(),
			"thickness":  dimensionProp(),
			"quantity":   map[string]any{"type": "integer", "minimum": 0},
			"material":   map[string]any{"type": "string"},
			"operations": map[string]any{"type": "array", "items": operation},
			"notes":      map[string]any{"type": "string"},
			"confidence": confidenceProp(),
		},
	}
	metadata := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"project_code": map[string]any{"type": "string"},
			"page_number":  map[string]any{"type": "integer", "minimum": 0},
			"total_pages":  map[string]any{"type": "integer", "minimum": 0},
			"template_id":  map[string]any{"type": "string"},
		},
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"parts":      map[string]any{"type": "array", "items": part},
			"confidence": confidenceProp(),
			"metadata":   metadata,
		},
		"required": []string{"parts"},
	}
}

func dimensionProp() map[string]any {
	return map[string]any{"type": "number", "minimum": 0}
}

func confidenceProp() map[string]any {
	return map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0}
}
