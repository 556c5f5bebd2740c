// Package provider defines the capability set a backend adapter implements.
// The chat engine is a single concrete driver parameterized by an Adapter;
// the endpoint kind selects which adapter is used.
package provider

import (
	"context"

	"github.com/convoforge/go-chat/pkg/internal/httpclient"
	"github.com/convoforge/go-chat/pkg/provider/types"
)

// BuildInput carries everything an adapter needs to shape a chat request.
// Messages already include the system messages in conversation order; an
// adapter may relocate them (Anthropic lifts them into the `system` field).
type BuildInput struct {
	Model       string
	Messages    []types.Message
	Stream      bool
	KeepAlive   string
	ContextSize int
	MaxTokens   int

	// Tools is the dialect-shaped catalog, nil to omit.
	Tools []map[string]interface{}

	CachePolicy types.CachePolicy
}

// StreamParser converts raw body chunks into typed stream chunks. Push may
// be called with data split at arbitrary byte boundaries; a parser buffers
// whatever is incomplete and yields it on a later call.
type StreamParser interface {
	Push(data []byte) ([]types.StreamChunk, error)
}

// Adapter is the per-provider implementation surface.
type Adapter interface {
	// Kind returns the endpoint kind this adapter serves.
	Kind() types.EndpointKind

	// ChatPath returns the chat endpoint path.
	ChatPath() string

	// ModelsPath returns the model listing endpoint path.
	ModelsPath() string

	// BuildRequest shapes the provider request envelope.
	BuildRequest(in BuildInput) (map[string]interface{}, error)

	// NewStreamParser returns a fresh parser for one streaming response.
	NewStreamParser() StreamParser

	// FormatToolResult returns the follow-up message carrying one tool
	// result in the provider's dialect.
	FormatToolResult(call types.ToolCall, result types.ToolResult) types.Message

	// ToolCallMessage returns the assistant message that represents the
	// given calls in history (structured block for Anthropic, tool_calls
	// side-field for Ollama/OpenAI).
	ToolCallMessage(calls []types.ToolCall) types.Message

	// Capabilities returns the capability set of a model. Adapters that
	// need a server round-trip use the supplied transport.
	Capabilities(ctx context.Context, hc *httpclient.Client, model string) (types.Capability, error)

	// ModelNames extracts the model names from a ModelsPath response body.
	ModelNames(body []byte) ([]string, error)
}
