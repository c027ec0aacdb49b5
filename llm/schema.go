package llm

// responseFormat is the OpenAI-style structured output descriptor.
type responseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *jsonSchema `json:"json_schema,omitempty"`
}

type jsonSchema struct {
	Name   string         `json:"name"`
	Strict bool           `json:"strict"`
	Schema map[string]any `json:"schema"`
}

// filesResponseFormat returns the strict schema constraining generations to
// {"files": [{"path": ..., "content": ...}]}.
func filesResponseFormat() *responseFormat {
	return &responseFormat{
		Type: "json_schema",
		JSONSchema: &jsonSchema{
			Name:   "project_files",
			Strict: true,
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"files": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"path":    map[string]any{"type": "string"},
								"content": map[string]any{"type": "string"},
							},
							"required":             []string{"path", "content"},
							"additionalProperties": false,
						},
					},
				},
				"required":             []string{"files"},
				"additionalProperties": false,
			},
		},
	}
}
