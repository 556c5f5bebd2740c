// Package openai implements the provider adapter for the OpenAI
// chat-completions dialect: SSE `data:` streaming terminated by `[DONE]`.
package openai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/convoforge/go-chat/pkg/internal/httpclient"
	"github.com/convoforge/go-chat/pkg/provider"
	"github.com/convoforge/go-chat/pkg/provider/types"
)

// Wire paths of the OpenAI dialect.
const (
	ChatPath   = "/v1/chat/completions"
	ModelsPath = "/v1/models"
)

// Adapter shapes requests and parses streams for the OpenAI dialect.
type Adapter struct{}

// NewAdapter creates the OpenAI adapter.
func NewAdapter() *Adapter {
	return &Adapter{}
}

// Kind returns the endpoint kind this adapter serves.
func (a *Adapter) Kind() types.EndpointKind { return types.EndpointOpenAI }

// ChatPath returns the chat endpoint path.
func (a *Adapter) ChatPath() string { return ChatPath }

// ModelsPath returns the model listing endpoint path.
func (a *Adapter) ModelsPath() string { return ModelsPath }

// BuildRequest shapes the /v1/chat/completions envelope.
func (a *Adapter) BuildRequest(in provider.BuildInput) (map[string]interface{}, error) {
	req := map[string]interface{}{
		"model":    in.Model,
		"messages": in.Messages,
		"stream":   in.Stream,
	}
	if in.MaxTokens > 0 {
		req["max_tokens"] = in.MaxTokens
	}
	if in.Tools != nil {
		req["tools"] = in.Tools
	}
	return req, nil
}

// NewStreamParser returns a fresh parser for one streaming response.
func (a *Adapter) NewStreamParser() provider.StreamParser {
	return NewStreamParser()
}

// FormatToolResult emits the follow-up tool message: role "tool" with a
// human-readable success or error string.
func (a *Adapter) FormatToolResult(call types.ToolCall, result types.ToolResult) types.Message {
	var text string
	if result.IsError {
		text = fmt.Sprintf("An error occurred while executing tool: '%s'. Reason: %s", call.Name, result.Text)
	} else {
		text = fmt.Sprintf("Tool '%s' completed successfully. Output:\n%s", call.Name, result.Text)
	}
	return types.NewTextMessage(types.RoleTool, text)
}

// ToolCallMessage represents pending calls in history via the tool_calls
// side-field. Calls without an invocation id get a synthesized one.
func (a *Adapter) ToolCallMessage(calls []types.ToolCall) types.Message {
	msg := types.Message{Role: types.RoleAssistant}
	for _, call := range calls {
		id := call.InvocationID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		msg.ToolCalls = append(msg.ToolCalls, types.ToolCallRecord{
			ID:   id,
			Type: "function",
			Function: types.ToolCallFunction{
				Name:      call.Name,
				Arguments: call.Args,
			},
		})
	}
	return msg
}

// Capabilities returns the fixed capability superset of the OpenAI dialect.
func (a *Adapter) Capabilities(ctx context.Context, hc *httpclient.Client, model string) (types.Capability, error) {
	return types.CapabilityCompletion.
		With(types.CapabilityTools).
		With(types.CapabilityInsert).
		With(types.CapabilityThinking), nil
}

// ModelNames extracts ids from a /v1/models response.
func (a *Adapter) ModelNames(body []byte) ([]string, error) {
	var resp struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode model list: %w", err)
	}
	names := make([]string, 0, len(resp.Data))
	for _, m := range resp.Data {
		names = append(names, m.ID)
	}
	return names, nil
}
