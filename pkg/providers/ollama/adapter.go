// Package ollama implements the provider adapter for an Ollama server:
// newline-delimited JSON streaming on /api/chat, capability discovery via
// /api/show, and model management endpoints.
package ollama

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/convoforge/go-chat/pkg/internal/httpclient"
	"github.com/convoforge/go-chat/pkg/provider"
	"github.com/convoforge/go-chat/pkg/provider/types"
)

// Wire paths served by an Ollama server.
const (
	ChatPath     = "/api/chat"
	GeneratePath = "/api/generate"
	ShowPath     = "/api/show"
	TagsPath     = "/api/tags"
	PullPath     = "/api/pull"
	EmbedPath    = "/api/embed"
	PsPath       = "/api/ps"
)

// Adapter shapes requests and parses streams for the Ollama dialect.
type Adapter struct{}

// NewAdapter creates the Ollama adapter.
func NewAdapter() *Adapter {
	return &Adapter{}
}

// Kind returns the endpoint kind this adapter serves.
func (a *Adapter) Kind() types.EndpointKind { return types.EndpointOllama }

// ChatPath returns the chat endpoint path.
func (a *Adapter) ChatPath() string { return ChatPath }

// ModelsPath returns the model listing endpoint path.
func (a *Adapter) ModelsPath() string { return TagsPath }

// BuildRequest shapes the /api/chat envelope.
func (a *Adapter) BuildRequest(in provider.BuildInput) (map[string]interface{}, error) {
	req := map[string]interface{}{
		"model":    in.Model,
		"messages": in.Messages,
		"stream":   in.Stream,
		"options": map[string]interface{}{
			"num_ctx": in.ContextSize,
		},
	}
	if in.KeepAlive != "" {
		req["keep_alive"] = in.KeepAlive
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
// side-field.
func (a *Adapter) ToolCallMessage(calls []types.ToolCall) types.Message {
	msg := types.Message{Role: types.RoleAssistant}
	for _, call := range calls {
		msg.ToolCalls = append(msg.ToolCalls, types.ToolCallRecord{
			Function: types.ToolCallFunction{
				Name:      call.Name,
				Arguments: call.Args,
			},
		})
	}
	return msg
}

type showResponse struct {
	Capabilities []string `json:"capabilities"`
}

// Capabilities derives the capability set from the server's /api/show
// response.
func (a *Adapter) Capabilities(ctx context.Context, hc *httpclient.Client, model string) (types.Capability, error) {
	var resp showResponse
	if err := hc.PostJSON(ctx, ShowPath, map[string]interface{}{"name": model}, &resp); err != nil {
		return 0, err
	}
	var set types.Capability
	for _, name := range resp.Capabilities {
		set = set.With(types.CapabilityFromName(name))
	}
	return set, nil
}

// ModelNames extracts names from a /api/tags response.
func (a *Adapter) ModelNames(body []byte) ([]string, error) {
	var resp struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode model list: %w", err)
	}
	names := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		names = append(names, m.Name)
	}
	return names, nil
}
