package types

import "encoding/json"

// MessageRole represents the role of a message sender in a conversation
type MessageRole string

const (
	// RoleSystem represents system instructions
	RoleSystem MessageRole = "system"
	// RoleUser represents user input
	RoleUser MessageRole = "user"
	// RoleAssistant represents model responses
	RoleAssistant MessageRole = "assistant"
	// RoleTool represents tool execution results
	RoleTool MessageRole = "tool"
)

// Content block types used by the Anthropic dialect.
const (
	BlockTypeText       = "text"
	BlockTypeImage      = "image"
	BlockTypeToolUse    = "tool_use"
	BlockTypeToolResult = "tool_result"
	BlockTypeThinking   = "thinking"
)

// ContentBlock is one element of a structured message content list.
// Only the fields matching Type are populated.
type ContentBlock struct {
	Type string `json:"type"`

	// Text for "text" and "thinking" blocks.
	Text string `json:"text,omitempty"`

	// ID, Name and Input for "tool_use" blocks.
	ID    string                 `json:"id,omitempty"`
	Name  string                 `json:"name,omitempty"`
	Input map[string]interface{} `json:"input,omitempty"`

	// ToolUseID and Content for "tool_result" blocks.
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`

	// Source for "image" blocks (base64 payload plus media type).
	Source *ImageSource `json:"source,omitempty"`

	// CacheControl carries a provider cache hint ({"type":"ephemeral"}).
	CacheControl map[string]string `json:"cache_control,omitempty"`
}

// ImageSource is the inline image payload of an "image" content block.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// TextBlock creates a plain text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockTypeText, Text: text}
}

// ToolUseBlock creates a tool_use content block for the Anthropic dialect.
func ToolUseBlock(id, name string, input map[string]interface{}) ContentBlock {
	return ContentBlock{Type: BlockTypeToolUse, ID: id, Name: name, Input: input}
}

// ToolResultBlock creates a tool_result content block paired with a tool_use id.
func ToolResultBlock(toolUseID, content string) ContentBlock {
	return ContentBlock{Type: BlockTypeToolResult, ToolUseID: toolUseID, Content: content}
}

// Message is a role-tagged content record. Content is either a plain string
// (Content) or a structured block list (Blocks); Blocks wins when non-empty.
// ToolCalls is the Ollama/OpenAI side-field parallel to tool_use blocks.
type Message struct {
	Role      MessageRole
	Content   string
	Blocks    []ContentBlock
	ToolCalls []ToolCallRecord
}

// ToolCallRecord is the wire shape of a tool call inside an assistant
// message (Ollama/OpenAI dialect).
type ToolCallRecord struct {
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type,omitempty"`
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction names the function and carries its arguments object.
type ToolCallFunction struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// NewTextMessage creates a message with plain string content.
func NewTextMessage(role MessageRole, text string) Message {
	return Message{Role: role, Content: text}
}

// NewBlockMessage creates a message with structured block content.
func NewBlockMessage(role MessageRole, blocks ...ContentBlock) Message {
	return Message{Role: role, Blocks: blocks}
}

// Text returns the plain text of the message: the string content, or the
// concatenation of all text blocks.
func (m Message) Text() string {
	if len(m.Blocks) == 0 {
		return m.Content
	}
	var out string
	for _, b := range m.Blocks {
		if b.Type == BlockTypeText {
			out += b.Text
		}
	}
	return out
}

type messageJSON struct {
	Role      MessageRole      `json:"role"`
	Content   json.RawMessage  `json:"content"`
	ToolCalls []ToolCallRecord `json:"tool_calls,omitempty"`
}

// MarshalJSON emits string content unless structured blocks are present.
func (m Message) MarshalJSON() ([]byte, error) {
	var content json.RawMessage
	var err error
	if len(m.Blocks) > 0 {
		content, err = json.Marshal(m.Blocks)
	} else {
		content, err = json.Marshal(m.Content)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(messageJSON{
		Role:      m.Role,
		Content:   content,
		ToolCalls: m.ToolCalls,
	})
}

// UnmarshalJSON accepts both the string and the block-list content shapes.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw messageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Role = raw.Role
	m.ToolCalls = raw.ToolCalls
	m.Content = ""
	m.Blocks = nil
	if len(raw.Content) == 0 {
		return nil
	}
	if raw.Content[0] == '[' {
		return json.Unmarshal(raw.Content, &m.Blocks)
	}
	return json.Unmarshal(raw.Content, &m.Content)
}

// HistoryRecord is the caller-facing snapshot shape used by
// GetHistory/SetHistory. It intentionally flattens structured content.
type HistoryRecord struct {
	Role string `json:"role"`
	Text string `json:"text"`
}
