package tools

import (
	"github.com/convoforge/go-chat/pkg/provider/types"
)

// paramSchema builds the {properties, required} pair from a parameter list.
func paramSchema(params []Param) (map[string]interface{}, []string) {
	properties := make(map[string]interface{}, len(params))
	required := make([]string, 0, len(params))
	for _, p := range params {
		properties[p.Name] = map[string]interface{}{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return properties, required
}

// inputSchema returns the JSON schema of a function's arguments, preferring
// a ready-made schema when the function carries one.
func inputSchema(f Function) map[string]interface{} {
	if sp, ok := f.(SchemaProvider); ok {
		if schema := sp.InputSchema(); schema != nil {
			return schema
		}
	}
	properties, required := paramSchema(f.Params())
	return map[string]interface{}{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// FunctionJSON emits one tool descriptor in the given wire dialect.
func FunctionJSON(f Function, kind types.EndpointKind) map[string]interface{} {
	schema := inputSchema(f)
	if kind == types.EndpointAnthropic {
		return map[string]interface{}{
			"name":         f.Name(),
			"description":  f.Description(),
			"input_schema": schema,
		}
	}
	// Ollama and OpenAI share the function-call envelope.
	return map[string]interface{}{
		"type": "function",
		"function": map[string]interface{}{
			"name":        f.Name(),
			"description": f.Description(),
			"parameters":  schema,
		},
	}
}
