package ollama

import (
	"encoding/json"

	"github.com/convoforge/go-chat/pkg/internal/jsonutil"
	"github.com/convoforge/go-chat/pkg/provider/types"
)

// streamObject is one newline-delimited JSON object of an Ollama chat
// stream.
type streamObject struct {
	Error   string `json:"error"`
	Message struct {
		Role      string                 `json:"role"`
		Content   string                 `json:"content"`
		ToolCalls []streamToolCall       `json:"tool_calls"`
	} `json:"message"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

type streamToolCall struct {
	Function struct {
		Name      string                 `json:"name"`
		Arguments map[string]interface{} `json:"arguments"`
	} `json:"function"`
}

// StreamParser recovers complete JSON objects from an Ollama
// newline-delimited stream and converts them into typed chunks.
type StreamParser struct {
	buf []byte
}

// NewStreamParser creates a parser for one streaming response.
func NewStreamParser() *StreamParser {
	return &StreamParser{}
}

// Remainder returns the unconsumed buffer suffix.
func (p *StreamParser) Remainder() []byte {
	return p.buf
}

// Push consumes raw body bytes and yields every chunk that became complete.
func (p *StreamParser) Push(data []byte) ([]types.StreamChunk, error) {
	p.buf = append(p.buf, data...)
	values, rest := jsonutil.DecodeAll(p.buf)
	p.buf = rest

	var chunks []types.StreamChunk
	for _, raw := range values {
		var obj streamObject
		if err := json.Unmarshal(raw, &obj); err != nil {
			return chunks, err
		}
		chunks = append(chunks, objectChunks(obj)...)
	}
	return chunks, nil
}

// objectChunks converts one decoded stream object into ordered chunks.
func objectChunks(obj streamObject) []types.StreamChunk {
	if obj.Error != "" {
		return []types.StreamChunk{{
			Kind:       types.ChunkError,
			ErrKind:    "server_error",
			ErrMessage: obj.Error,
		}}
	}

	var chunks []types.StreamChunk
	if obj.Message.Content != "" {
		chunks = append(chunks, types.StreamChunk{Kind: types.ChunkText, Text: obj.Message.Content})
	}
	for _, tc := range obj.Message.ToolCalls {
		chunks = append(chunks, types.StreamChunk{
			Kind: types.ChunkToolCall,
			ToolCall: &types.ToolCall{
				Name: tc.Function.Name,
				Args: tc.Function.Arguments,
			},
		})
	}
	if obj.Done {
		done := types.StreamChunk{Kind: types.ChunkDone, StopReason: mapDoneReason(obj.DoneReason)}
		if obj.PromptEvalCount > 0 || obj.EvalCount > 0 {
			done.Usage = &types.Usage{
				InputTokens:  obj.PromptEvalCount,
				OutputTokens: obj.EvalCount,
			}
		}
		chunks = append(chunks, done)
	}
	return chunks
}

func mapDoneReason(reason string) types.StopReason {
	switch reason {
	case "", "stop":
		return types.StopEndTurn
	case "length":
		return types.StopMaxTokens
	default:
		return types.StopReason(reason)
	}
}
