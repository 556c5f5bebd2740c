package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoforge/go-chat/pkg/provider/types"
	"github.com/convoforge/go-chat/pkg/tools"
)

func addTool() tools.Function {
	return tools.NewFunction("add").
		SetDescription("Add two numbers").
		AddRequiredParam("a", "First operand", tools.ParamNumber).
		AddRequiredParam("b", "Second operand", tools.ParamNumber).
		SetHandler(func(ctx context.Context, args map[string]interface{}) (string, error) {
			a, _ := tools.GetArg[float64](args, "a")
			b, _ := tools.GetArg[float64](args, "b")
			return fmt.Sprintf("%g", a+b), nil
		}).
		Build()
}

func TestOllamaToolLoop(t *testing.T) {
	server := newOllamaServer(t, []string{"completion", "tools"},
		[]string{`{"message":{"content":"","tool_calls":[{"function":{"name":"add","arguments":{"a":1,"b":2}}}]},"done":true}`},
		[]string{`{"message":{"content":"The result is 3"},"done":true}`},
	)
	client := newOllamaClient(t, server.URL)
	client.FunctionTable().Add(addTool())

	rec := &recorder{}
	client.Chat(context.Background(), "add 1 and 2", rec.callback, OptionDefault)

	// The first request carries the tool catalog.
	bodies := server.bodies()
	require.Len(t, bodies, 2)
	catalog, ok := bodies[0]["tools"].([]interface{})
	require.True(t, ok)
	require.Len(t, catalog, 1)

	// The follow-up request carries the tool exchange.
	msgs := bodies[1]["messages"].([]interface{})
	require.Len(t, msgs, 3)
	toolMsg := msgs[2].(map[string]interface{})
	assert.Equal(t, "tool", toolMsg["role"])
	assert.Equal(t, "Tool 'add' completed successfully. Output:\n3", toolMsg["content"])

	// The terminal reply ends the loop with a single Done.
	streamed := rec.streamed()
	require.NotEmpty(t, streamed)
	assert.Equal(t, event{"", ReasonDone, false}, streamed[len(streamed)-1])

	assert.Equal(t, [][2]string{
		{"user", "add 1 and 2"},
		{"assistant", ""},
		{"tool", "Tool 'add' completed successfully. Output:\n3"},
		{"assistant", "The result is 3"},
	}, historyTexts(client))
}

func TestToolsOmittedWhenModelLacksCapability(t *testing.T) {
	server := newOllamaServer(t, []string{"completion"},
		[]string{`{"message":{"content":"x"},"done":true}`})
	client := newOllamaClient(t, server.URL)
	client.FunctionTable().Add(addTool())

	rec := &recorder{}
	client.Chat(context.Background(), "hi", rec.callback, OptionDefault)

	bodies := server.bodies()
	require.Len(t, bodies, 1)
	assert.NotContains(t, bodies[0], "tools")
}

func TestNoToolsOption(t *testing.T) {
	server := newOllamaServer(t, []string{"completion", "tools"},
		[]string{`{"message":{"content":"x"},"done":true}`})
	client := newOllamaClient(t, server.URL)
	client.FunctionTable().Add(addTool())

	rec := &recorder{}
	client.Chat(context.Background(), "hi", rec.callback, OptionNoTools)

	bodies := server.bodies()
	require.Len(t, bodies, 1)
	assert.NotContains(t, bodies[0], "tools")
}

func TestUnknownToolFeedsErrorResult(t *testing.T) {
	server := newOllamaServer(t, []string{"completion", "tools"},
		[]string{`{"message":{"content":"","tool_calls":[{"function":{"name":"missing","arguments":{}}}]},"done":true}`},
		[]string{`{"message":{"content":"sorry"},"done":true}`},
	)
	client := newOllamaClient(t, server.URL)
	client.FunctionTable().Add(addTool())

	rec := &recorder{}
	client.Chat(context.Background(), "go", rec.callback, OptionDefault)

	records := client.GetHistory()
	require.Len(t, records, 4)
	assert.Equal(t, "tool", records[2].Role)
	assert.Equal(t,
		"An error occurred while executing tool: 'missing'. Reason: could not find tool: 'missing'",
		records[2].Text)
}

func TestToolConfirmationDecline(t *testing.T) {
	server := newOllamaServer(t, []string{"completion", "tools"},
		[]string{`{"message":{"content":"","tool_calls":[{"function":{"name":"add","arguments":{"a":1,"b":2}}}]},"done":true}`},
		[]string{`{"message":{"content":"understood"},"done":true}`},
	)
	client := newOllamaClient(t, server.URL)
	client.FunctionTable().Add(addTool())

	var asked []string
	client.SetToolInvokeCallback(func(name string) bool {
		asked = append(asked, name)
		return false
	})

	rec := &recorder{}
	client.Chat(context.Background(), "go", rec.callback, OptionDefault)

	assert.Equal(t, []string{"add"}, asked)
	records := client.GetHistory()
	require.Len(t, records, 4)
	assert.Equal(t,
		"An error occurred while executing tool: 'add'. Reason: Permission to run tool add is declined",
		records[2].Text)
}

// anthropicServer fakes a Messages API endpoint serving scripted SSE
// streams.
type anthropicServer struct {
	*httptest.Server

	mu      sync.Mutex
	streams []string
	bodies  []map[string]interface{}
	headers []http.Header
}

func newAnthropicServer(t *testing.T, streams ...string) *anthropicServer {
	t.Helper()
	s := &anthropicServer{streams: streams}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var decoded map[string]interface{}
		_ = json.Unmarshal(body, &decoded)

		s.mu.Lock()
		s.bodies = append(s.bodies, decoded)
		s.headers = append(s.headers, r.Header.Clone())
		var stream string
		if len(s.streams) > 0 {
			stream = s.streams[0]
			s.streams = s.streams[1:]
		}
		s.mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(stream))
	}))
	t.Cleanup(s.Close)
	return s
}

const anthropicToolStream = "event: message_start\n" +
	"data: {\"type\":\"message_start\"}\n" +
	"event: content_block_start\n" +
	"data: {\"type\":\"content_block_start\",\"index\":0,\"content_block\":{\"type\":\"tool_use\",\"id\":\"tu_1\",\"name\":\"add\"}}\n" +
	"event: content_block_delta\n" +
	"data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"input_json_delta\",\"partial_json\":\"{\\\"a\\\":1,\"}}\n" +
	"event: content_block_delta\n" +
	"data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"input_json_delta\",\"partial_json\":\"\\\"b\\\":2}\"}}\n" +
	"event: content_block_stop\n" +
	"data: {\"type\":\"content_block_stop\",\"index\":0}\n" +
	"event: message_delta\n" +
	"data: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"tool_use\"},\"usage\":{\"input_tokens\":25,\"output_tokens\":12}}\n" +
	"event: message_stop\n" +
	"data: {\"type\":\"message_stop\"}\n"

const anthropicTextStream = "event: message_start\n" +
	"data: {\"type\":\"message_start\"}\n" +
	"event: content_block_start\n" +
	"data: {\"type\":\"content_block_start\",\"index\":0,\"content_block\":{\"type\":\"text\"}}\n" +
	"event: content_block_delta\n" +
	"data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"3 it is\"}}\n" +
	"event: content_block_stop\n" +
	"data: {\"type\":\"content_block_stop\",\"index\":0}\n" +
	"event: message_delta\n" +
	"data: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\"},\"usage\":{\"input_tokens\":40,\"output_tokens\":5}}\n" +
	"event: message_stop\n" +
	"data: {\"type\":\"message_stop\"}\n"

func newAnthropicClient(t *testing.T, url string) *Client {
	t.Helper()
	client, err := New(types.Endpoint{
		URL:       url,
		Kind:      types.EndpointAnthropic,
		Model:     "claude-sonnet-4-5",
		MaxTokens: 512,
	})
	require.NoError(t, err)
	return client
}

func TestAnthropicToolLoop(t *testing.T) {
	server := newAnthropicServer(t, anthropicToolStream, anthropicTextStream)
	client := newAnthropicClient(t, server.URL)
	client.FunctionTable().Add(addTool())

	rec := &recorder{}
	client.Chat(context.Background(), "add 1 and 2", rec.callback, OptionDefault)

	server.mu.Lock()
	bodies := append([]map[string]interface{}(nil), server.bodies...)
	headers := append([]http.Header(nil), server.headers...)
	server.mu.Unlock()
	require.Len(t, bodies, 2)

	for _, h := range headers {
		assert.Equal(t, "2023-06-01", h.Get("anthropic-version"))
	}

	// The first request carries the Anthropic-dialect tool catalog.
	catalog := bodies[0]["tools"].([]interface{})
	tool := catalog[0].(map[string]interface{})
	assert.Equal(t, "add", tool["name"])
	assert.Contains(t, tool, "input_schema")

	// The follow-up carries tool_use and tool_result in order.
	msgs := bodies[1]["messages"].([]interface{})
	require.Len(t, msgs, 3)

	assistant := msgs[1].(map[string]interface{})
	assert.Equal(t, "assistant", assistant["role"])
	toolUse := assistant["content"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "tool_use", toolUse["type"])
	assert.Equal(t, "tu_1", toolUse["id"])
	assert.Equal(t, "add", toolUse["name"])
	assert.Equal(t, map[string]interface{}{"a": float64(1), "b": float64(2)}, toolUse["input"])

	user := msgs[2].(map[string]interface{})
	assert.Equal(t, "user", user["role"])
	toolResult := user["content"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "tool_result", toolResult["type"])
	assert.Equal(t, "tu_1", toolResult["tool_use_id"])
	assert.Equal(t, "Tool 'add' completed successfully. Output:\n3", toolResult["content"])

	// The model's next reply completes the chat.
	streamed := rec.streamed()
	require.NotEmpty(t, streamed)
	assert.Equal(t, event{"", ReasonDone, false}, streamed[len(streamed)-1])
	records := client.GetHistory()
	assert.Equal(t, "3 it is", records[len(records)-1].Text)
}

func TestAnthropicMaxTokensAndSystemLifting(t *testing.T) {
	server := newAnthropicServer(t, anthropicTextStream)
	client := newAnthropicClient(t, server.URL)
	client.AddSystemMessage("answer briefly")

	rec := &recorder{}
	client.Chat(context.Background(), "q", rec.callback, OptionDefault)

	server.mu.Lock()
	body := server.bodies[0]
	server.mu.Unlock()

	assert.Equal(t, float64(512), body["max_tokens"])
	assert.Equal(t, "answer briefly", body["system"])

	// No system role inside the message array.
	for _, raw := range body["messages"].([]interface{}) {
		msg := raw.(map[string]interface{})
		assert.NotEqual(t, "system", msg["role"])
	}
}

func TestAnthropicCachePolicyAnnotatesSystem(t *testing.T) {
	server := newAnthropicServer(t, anthropicTextStream)
	client := newAnthropicClient(t, server.URL)
	client.AddSystemMessage("static prompt")
	client.SetCachePolicy(types.CacheStatic)

	rec := &recorder{}
	client.Chat(context.Background(), "q", rec.callback, OptionDefault)

	server.mu.Lock()
	body := server.bodies[0]
	server.mu.Unlock()

	system := body["system"].([]interface{})
	block := system[0].(map[string]interface{})
	assert.Equal(t, "static prompt", block["text"])
	assert.Equal(t, map[string]interface{}{"type": "ephemeral"}, block["cache_control"])
}
