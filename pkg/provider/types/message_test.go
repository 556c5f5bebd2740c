package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalStringContent(t *testing.T) {
	msg := NewTextMessage(RoleUser, "hi")
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"user","content":"hi"}`, string(data))
}

func TestMarshalBlockContent(t *testing.T) {
	msg := NewBlockMessage(RoleAssistant,
		ToolUseBlock("tu_1", "add", map[string]interface{}{"a": 1.0}))
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"assistant","content":[
		{"type":"tool_use","id":"tu_1","name":"add","input":{"a":1}}]}`, string(data))
}

func TestMarshalToolResultBlock(t *testing.T) {
	msg := NewBlockMessage(RoleUser, ToolResultBlock("tu_1", "output"))
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"user","content":[
		{"type":"tool_result","tool_use_id":"tu_1","content":"output"}]}`, string(data))
}

func TestMarshalToolCallsSideField(t *testing.T) {
	msg := Message{
		Role: RoleAssistant,
		ToolCalls: []ToolCallRecord{{
			Function: ToolCallFunction{Name: "add", Arguments: map[string]interface{}{"a": 1.0}},
		}},
	}
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"assistant","content":"",
		"tool_calls":[{"function":{"name":"add","arguments":{"a":1}}}]}`, string(data))
}

func TestUnmarshalStringContent(t *testing.T) {
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(`{"role":"user","content":"hello"}`), &msg))
	assert.Equal(t, RoleUser, msg.Role)
	assert.Equal(t, "hello", msg.Content)
	assert.Empty(t, msg.Blocks)
}

func TestUnmarshalBlockContent(t *testing.T) {
	raw := `{"role":"assistant","content":[{"type":"text","text":"a"},{"type":"tool_use","id":"i","name":"n","input":{}}]}`
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	require.Len(t, msg.Blocks, 2)
	assert.Equal(t, BlockTypeText, msg.Blocks[0].Type)
	assert.Equal(t, "n", msg.Blocks[1].Name)
}

func TestTextFlattensBlocks(t *testing.T) {
	msg := NewBlockMessage(RoleAssistant, TextBlock("a"), TextBlock("b"),
		ToolUseBlock("i", "n", nil))
	assert.Equal(t, "ab", msg.Text())

	plain := NewTextMessage(RoleUser, "x")
	assert.Equal(t, "x", plain.Text())
}

func TestRoundTrip(t *testing.T) {
	original := NewBlockMessage(RoleUser, ToolResultBlock("id", "text"))
	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, original.Role, decoded.Role)
	require.Len(t, decoded.Blocks, 1)
	assert.Equal(t, "id", decoded.Blocks[0].ToolUseID)
}
