package openai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoforge/go-chat/pkg/provider"
	"github.com/convoforge/go-chat/pkg/provider/types"
)

func TestBuildRequestShape(t *testing.T) {
	a := NewAdapter()
	req, err := a.BuildRequest(provider.BuildInput{
		Model:     "gpt-4o",
		Messages:  []types.Message{types.NewTextMessage(types.RoleUser, "hi")},
		Stream:    true,
		MaxTokens: 256,
	})
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", req["model"])
	assert.Equal(t, true, req["stream"])
	assert.Equal(t, 256, req["max_tokens"])
	assert.NotContains(t, req, "tools")
}

func TestToolCallMessageSynthesizesIDs(t *testing.T) {
	a := NewAdapter()
	msg := a.ToolCallMessage([]types.ToolCall{{Name: "add", Args: map[string]interface{}{"a": 1.0}}})

	require.Len(t, msg.ToolCalls, 1)
	record := msg.ToolCalls[0]
	assert.Equal(t, "function", record.Type)
	assert.NotEmpty(t, record.ID)
	assert.True(t, len(record.ID) > len("call_"))

	// An existing invocation id is preserved.
	msg = a.ToolCallMessage([]types.ToolCall{{Name: "add", InvocationID: "call_x"}})
	assert.Equal(t, "call_x", msg.ToolCalls[0].ID)
}

func TestModelNames(t *testing.T) {
	a := NewAdapter()
	names, err := a.ModelNames([]byte(`{"data":[{"id":"gpt-4o"},{"id":"o4-mini"}]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"gpt-4o", "o4-mini"}, names)
}

func TestCapabilitiesFixedSet(t *testing.T) {
	a := NewAdapter()
	caps, err := a.Capabilities(nil, nil, "gpt-4o")
	require.NoError(t, err)
	assert.True(t, caps.Has(types.CapabilityTools))
	assert.True(t, caps.Has(types.CapabilityCompletion))
	assert.True(t, caps.Has(types.CapabilityThinking))
	assert.False(t, caps.Has(types.CapabilityVision))
}
