package openai

import (
	"bytes"
	"encoding/json"

	"github.com/convoforge/go-chat/pkg/provider/types"
)

// doneSentinel terminates an OpenAI SSE stream.
const doneSentinel = "[DONE]"

// streamChunk is one decoded `data:` payload of a chat-completions stream.
type streamChunk struct {
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	Choices []struct {
		FinishReason string `json:"finish_reason"`
		Delta        struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string          `json:"name"`
					Arguments json.RawMessage `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// StreamParser converts an OpenAI SSE stream (`data: {...}` lines ending
// with `data: [DONE]`) into typed chunks. Input may be split at arbitrary
// byte boundaries.
type StreamParser struct {
	buf  []byte
	done bool
}

// NewStreamParser creates a parser for one streaming response.
func NewStreamParser() *StreamParser {
	return &StreamParser{}
}

// Push consumes raw body bytes and yields every chunk that became complete.
func (p *StreamParser) Push(data []byte) ([]types.StreamChunk, error) {
	p.buf = append(p.buf, data...)

	var chunks []types.StreamChunk
	for {
		idx := bytes.IndexByte(p.buf, '\n')
		if idx < 0 {
			return chunks, nil
		}
		line := bytes.TrimRight(p.buf[:idx], "\r")
		p.buf = p.buf[idx+1:]

		payload, ok := dataPayload(line)
		if !ok {
			continue
		}
		if payload == doneSentinel {
			if !p.done {
				p.done = true
				chunks = append(chunks, types.StreamChunk{Kind: types.ChunkDone, StopReason: types.StopEndTurn})
			}
			continue
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return chunks, err
		}
		chunks = append(chunks, p.chunkOf(chunk)...)
	}
}

// dataPayload extracts the payload of a `data:` line. Blank lines and other
// SSE fields yield no payload.
func dataPayload(line []byte) (string, bool) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return "", false
	}
	if !bytes.HasPrefix(trimmed, []byte("data:")) {
		return "", false
	}
	return string(bytes.TrimSpace(trimmed[len("data:"):])), true
}

func (p *StreamParser) chunkOf(chunk streamChunk) []types.StreamChunk {
	if chunk.Error != nil {
		kind := chunk.Error.Type
		if kind == "" {
			kind = "server_error"
		}
		return []types.StreamChunk{{
			Kind:       types.ChunkError,
			ErrKind:    kind,
			ErrMessage: chunk.Error.Message,
		}}
	}

	var chunks []types.StreamChunk
	if chunk.Usage != nil {
		chunks = append(chunks, types.StreamChunk{
			Kind: types.ChunkUsage,
			Usage: &types.Usage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
			},
		})
	}
	if len(chunk.Choices) == 0 {
		return chunks
	}

	choice := chunk.Choices[0]
	if choice.Delta.Content != "" {
		chunks = append(chunks, types.StreamChunk{Kind: types.ChunkText, Text: choice.Delta.Content})
	}
	for _, tc := range choice.Delta.ToolCalls {
		chunks = append(chunks, types.StreamChunk{
			Kind: types.ChunkToolCall,
			ToolCall: &types.ToolCall{
				Name: tc.Function.Name,
				Args: decodeArguments(tc.Function.Arguments),
			},
		})
	}
	if choice.FinishReason != "" {
		p.done = true
		chunks = append(chunks, types.StreamChunk{
			Kind:       types.ChunkDone,
			StopReason: mapFinishReason(choice.FinishReason),
		})
	}
	return chunks
}

// decodeArguments accepts both the stringified and the object argument
// encodings.
func decodeArguments(raw json.RawMessage) map[string]interface{} {
	if len(raw) == 0 {
		return nil
	}
	var args map[string]interface{}
	if raw[0] == '"' {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return nil
		}
		if encoded == "" {
			return nil
		}
		_ = json.Unmarshal([]byte(encoded), &args)
		return args
	}
	_ = json.Unmarshal(raw, &args)
	return args
}

func mapFinishReason(reason string) types.StopReason {
	switch reason {
	case "stop":
		return types.StopEndTurn
	case "length":
		return types.StopMaxTokens
	case "tool_calls":
		return types.StopToolUse
	default:
		return types.StopReason(reason)
	}
}
