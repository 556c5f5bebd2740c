// Package anthropic implements the provider adapter for the Anthropic
// Messages API: SSE event streaming, system-parameter lifting, structured
// tool_use/tool_result content blocks and prompt cache hints.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/convoforge/go-chat/pkg/internal/httpclient"
	"github.com/convoforge/go-chat/pkg/provider"
	"github.com/convoforge/go-chat/pkg/provider/types"
)

// Wire constants of the Messages API.
const (
	ChatPath   = "/v1/messages"
	ModelsPath = "/v1/models"

	// VersionHeader must accompany every request.
	VersionHeader = "anthropic-version"
	// Version is the API revision this adapter speaks.
	Version = "2023-06-01"
)

// Adapter shapes requests and parses streams for the Messages API.
type Adapter struct{}

// NewAdapter creates the Anthropic adapter.
func NewAdapter() *Adapter {
	return &Adapter{}
}

// Kind returns the endpoint kind this adapter serves.
func (a *Adapter) Kind() types.EndpointKind { return types.EndpointAnthropic }

// ChatPath returns the chat endpoint path.
func (a *Adapter) ChatPath() string { return ChatPath }

// ModelsPath returns the model listing endpoint path.
func (a *Adapter) ModelsPath() string { return ModelsPath }

// BuildRequest shapes the /v1/messages envelope. System messages are
// excluded from the message array and carried in the top-level `system`
// parameter.
func (a *Adapter) BuildRequest(in provider.BuildInput) (map[string]interface{}, error) {
	var systemParts []string
	messages := make([]types.Message, 0, len(in.Messages))
	for _, msg := range in.Messages {
		if msg.Role == types.RoleSystem {
			systemParts = append(systemParts, msg.Text())
			continue
		}
		messages = append(messages, msg)
	}

	maxTokens := in.MaxTokens
	if maxTokens <= 0 {
		maxTokens = types.DefaultMaxTokens
	}

	req := map[string]interface{}{
		"model":      in.Model,
		"messages":   messages,
		"stream":     in.Stream,
		"max_tokens": maxTokens,
	}
	if len(systemParts) > 0 {
		system := strings.Join(systemParts, "\n\n")
		if in.CachePolicy == types.CacheStatic || in.CachePolicy == types.CacheAuto {
			req["system"] = []types.ContentBlock{{
				Type:         types.BlockTypeText,
				Text:         system,
				CacheControl: map[string]string{"type": "ephemeral"},
			}}
		} else {
			req["system"] = system
		}
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

// FormatToolResult emits the follow-up message: role "user" whose content
// is a single tool_result block paired with the originating tool_use id.
func (a *Adapter) FormatToolResult(call types.ToolCall, result types.ToolResult) types.Message {
	var text string
	if result.IsError {
		text = fmt.Sprintf("An error occurred while executing tool: '%s'. Reason: %s", call.Name, result.Text)
	} else {
		text = fmt.Sprintf("Tool '%s' completed successfully. Output:\n%s", call.Name, result.Text)
	}
	return types.NewBlockMessage(types.RoleUser, types.ToolResultBlock(call.InvocationID, text))
}

// ToolCallMessage represents pending calls in history via structured
// tool_use blocks.
func (a *Adapter) ToolCallMessage(calls []types.ToolCall) types.Message {
	blocks := make([]types.ContentBlock, 0, len(calls))
	for _, call := range calls {
		args := call.Args
		if args == nil {
			args = map[string]interface{}{}
		}
		blocks = append(blocks, types.ToolUseBlock(call.InvocationID, call.Name, args))
	}
	return types.NewBlockMessage(types.RoleAssistant, blocks...)
}

// Capabilities returns the fixed capability superset of Claude models.
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
