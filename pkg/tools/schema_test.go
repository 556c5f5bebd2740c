package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoforge/go-chat/pkg/provider/types"
)

func TestFunctionJSONOpenAIDialect(t *testing.T) {
	f := NewFunction("search").
		SetDescription("Search the index").
		AddRequiredParam("query", "Search query", ParamString).
		AddOptionalParam("limit", "Result cap", ParamNumber).
		Build()

	for _, kind := range []types.EndpointKind{types.EndpointOllama, types.EndpointOpenAI} {
		j := FunctionJSON(f, kind)
		assert.Equal(t, "function", j["type"], kind)

		fn := j["function"].(map[string]interface{})
		assert.Equal(t, "search", fn["name"])
		assert.Equal(t, "Search the index", fn["description"])

		params := fn["parameters"].(map[string]interface{})
		assert.Equal(t, "object", params["type"])
		props := params["properties"].(map[string]interface{})
		query := props["query"].(map[string]interface{})
		assert.Equal(t, "string", query["type"])
		assert.Equal(t, "Search query", query["description"])
		assert.Equal(t, []string{"query"}, params["required"])
	}
}

func TestFunctionJSONAnthropicDialect(t *testing.T) {
	f := NewFunction("search").
		SetDescription("Search the index").
		AddRequiredParam("query", "Search query", ParamString).
		Build()

	j := FunctionJSON(f, types.EndpointAnthropic)
	assert.Equal(t, "search", j["name"])
	assert.Equal(t, "Search the index", j["description"])

	schema := j["input_schema"].(map[string]interface{})
	assert.Equal(t, "object", schema["type"])
	require.Contains(t, schema, "properties")
	assert.Equal(t, []string{"query"}, schema["required"])

	// The Anthropic shape carries no function-call envelope.
	assert.NotContains(t, j, "type")
	assert.NotContains(t, j, "function")
}

// externalSchema carries a ready-made JSON schema like an MCP tool.
type externalSchema struct {
	Function
	schema map[string]interface{}
}

func (e externalSchema) InputSchema() map[string]interface{} { return e.schema }

func TestFunctionJSONPrefersProvidedSchema(t *testing.T) {
	base := NewFunction("ext").SetDescription("external").Build()
	schema := map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"x": map[string]interface{}{"type": "integer"}},
		"required":   []interface{}{"x"},
	}
	f := externalSchema{Function: base, schema: schema}

	j := FunctionJSON(f, types.EndpointAnthropic)
	assert.Equal(t, schema, j["input_schema"])
}

func TestTableToJSONSortedByName(t *testing.T) {
	table := NewTable(nil)
	table.Add(NewFunction("zeta").Build())
	table.Add(NewFunction("alpha").Build())

	catalog := table.ToJSON(types.EndpointOpenAI)
	require.Len(t, catalog, 2)
	first := catalog[0]["function"].(map[string]interface{})
	second := catalog[1]["function"].(map[string]interface{})
	assert.Equal(t, "alpha", first["name"])
	assert.Equal(t, "zeta", second["name"])
}
