package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/convoforge/go-chat/pkg/provider"
	providererrors "github.com/convoforge/go-chat/pkg/provider/errors"
	"github.com/convoforge/go-chat/pkg/provider/types"
	"github.com/convoforge/go-chat/pkg/telemetry"
)

// streamState is the per-request context threaded through chunk handling.
type streamState struct {
	request *chatRequest

	thinking      bool
	modelCanThink bool

	current strings.Builder
	usage   types.Usage

	done      bool
	finalized bool
	cancelled bool
	errored   bool
}

// Chat sends a user message and blocks until every queued request drains,
// including tool-loop follow-ups, or the callback cancels. The callback is
// invoked in chunk-arrival order on the calling thread.
func (c *Client) Chat(ctx context.Context, text string, cb Callback, opts Options) {
	// A previous Interrupt or hard error must not poison this call.
	c.Startup()

	msg := types.NewTextMessage(types.RoleUser, text)
	c.createAndPushRequest(ctx, &msg, cb, c.Model(), opts)
	c.processQueue(ctx)
}

// createAndPushRequest composes a provider-shaped request and enqueues it.
// A nil msg enqueues a follow-up carrying only the current history (used by
// the tool loop).
func (c *Client) createAndPushRequest(ctx context.Context, msg *types.Message, cb Callback, model string, opts Options) {
	var conversation []types.Message
	if opts.Has(OptionNoHistory) {
		if msg != nil {
			conversation = []types.Message{*msg}
		}
	} else {
		if msg != nil {
			c.hist.AddWithLimit(*msg, c.HistorySize())
		}
		conversation = c.hist.Get()
	}

	// System messages always lead the outbound conversation.
	c.mu.Lock()
	system := append([]types.Message(nil), c.system...)
	keepAlive := c.keepAlive
	stream := c.stream
	cachePolicy := c.cachePolicy
	endpoint := c.endpoint
	c.mu.Unlock()
	conversation = append(system, conversation...)

	var catalog []map[string]interface{}
	switch {
	case opts.Has(OptionNoTools):
		c.logger.Info("tools are disabled for this request", "model", model)
	case c.table.IsEmpty():
		// Nothing to attach.
	case c.Kind() == types.EndpointOllama && !c.modelHasCapability(ctx, model, types.CapabilityTools):
		c.logger.Warn("the selected model does not support tools", "model", model)
	default:
		catalog = c.table.ToJSON(c.Kind())
	}

	body, err := c.adapter.BuildRequest(provider.BuildInput{
		Model:       model,
		Messages:    conversation,
		Stream:      stream,
		KeepAlive:   keepAlive,
		ContextSize: endpoint.EffectiveContextSize(),
		MaxTokens:   endpoint.EffectiveMaxTokens(),
		Tools:       catalog,
		CachePolicy: cachePolicy,
	})
	if err != nil {
		cb(err.Error(), ReasonFatalError, false)
		return
	}

	c.queue.pushBack(&chatRequest{callback: cb, body: body, model: model})
}

// processQueue drains the FIFO serially. Follow-up requests enqueued by the
// tool loop fall through the same loop.
func (c *Client) processQueue(ctx context.Context) {
	for !c.queue.empty() {
		if c.interrupt.Load() {
			break
		}
		req := c.queue.popFront()
		if req == nil {
			break
		}
		c.processRequest(ctx, req)
	}
}

func (c *Client) processRequest(ctx context.Context, req *chatRequest) {
	ctx, span := c.telemetry.StartSpan(ctx, "chat.request",
		attribute.String("chat.model", req.model),
		attribute.String("chat.endpoint_kind", string(c.Kind())))
	var spanErr error
	defer func() { telemetry.EndSpan(span, spanErr) }()

	body, err := json.Marshal(req.body)
	if err != nil {
		spanErr = err
		req.callback(err.Error(), ReasonFatalError, false)
		return
	}
	c.logger.Debug("sending chat request", "model", req.model, "bytes", len(body))

	state := &streamState{
		request:       req,
		modelCanThink: c.modelHasCapability(ctx, req.model, types.CapabilityThinking),
	}

	parser := c.adapter.NewStreamParser()
	var parseErr error
	_, err = c.transport.Post(ctx, c.adapter.ChatPath(), body, "application/json", func(data []byte) bool {
		if c.interrupt.Load() {
			return false
		}
		chunks, perr := parser.Push(data)
		cont := c.handleChunks(state, chunks)
		if perr != nil {
			parseErr = perr
			return false
		}
		return cont
	})

	switch {
	case errors.Is(err, providererrors.ErrInterrupted) || (err == nil && c.interrupt.Load()):
		// Keep whatever arrived before the abort.
		c.finalizeAssistant(state)
		req.callback("Request cancelled by user", ReasonCancelled, false)
		c.queue.clear()
		return

	case parseErr != nil:
		// Malformed stream: hard path.
		spanErr = parseErr
		c.finalizeAssistant(state)
		req.callback(parseErr.Error(), ReasonFatalError, false)
		c.Shutdown()
		return

	case err != nil:
		// Transport failure: hard path.
		spanErr = err
		c.finalizeAssistant(state)
		req.callback(err.Error(), ReasonFatalError, false)
		c.Shutdown()
		return

	case state.cancelled:
		req.callback("Request cancelled by user", ReasonCancelled, false)
		return

	case state.errored:
		// Server-reported error: request over, client stays usable.
		return
	}

	if len(req.pending) > 0 {
		c.invokeTools(ctx, req)
	}
}

// handleChunks feeds parsed chunks through the per-request state machine.
// Returns false to stop the stream.
func (c *Client) handleChunks(state *streamState, chunks []types.StreamChunk) bool {
	req := state.request
	for _, chunk := range chunks {
		switch chunk.Kind {
		case types.ChunkText:
			reported := state.thinking
			if state.modelCanThink {
				if state.thinking && chunk.Text == c.thinkEndTag {
					// Report the closing tag as thinking, then leave the mode.
					state.thinking = false
					reported = true
				} else if !state.thinking && chunk.Text == c.thinkStartTag {
					state.thinking = true
					reported = true
				}
			}
			if !req.callback(chunk.Text, ReasonPartial, reported) {
				c.finalizeAssistant(state)
				state.cancelled = true
				return false
			}
			if !reported {
				state.current.WriteString(chunk.Text)
			}

		case types.ChunkThinking:
			if !req.callback(chunk.Text, ReasonPartial, true) {
				c.finalizeAssistant(state)
				state.cancelled = true
				return false
			}

		case types.ChunkToolCall:
			call := *chunk.ToolCall
			c.logger.Debug("got tool request", "tool", call.Name, "id", call.InvocationID)
			req.pending = append(req.pending, pendingInvocation{
				message: c.adapter.ToolCallMessage([]types.ToolCall{call}),
				calls:   []types.ToolCall{call},
			})

		case types.ChunkUsage:
			if chunk.Usage != nil {
				state.usage.Add(*chunk.Usage)
			}

		case types.ChunkDone:
			if chunk.Usage != nil {
				state.usage.Add(*chunk.Usage)
			}
			state.done = true
			c.reportCost(req, state)
			if len(req.pending) == 0 {
				c.finalizeAssistant(state)
				if !req.callback("", ReasonDone, false) {
					state.cancelled = true
					return false
				}
			}

		case types.ChunkError:
			// Partial text already delivered stays in history so a retry can
			// reference it.
			c.finalizeAssistant(state)
			state.errored = true
			req.callback(chunk.ErrMessage, ReasonFatalError, false)
			return false
		}
	}
	return true
}

// finalizeAssistant appends the accumulated response to history, once.
// Interrupted or failed requests that produced no text leave history
// untouched.
func (c *Client) finalizeAssistant(state *streamState) {
	if state.finalized {
		return
	}
	if !state.done && state.current.Len() == 0 {
		return
	}
	state.finalized = true
	msg := types.NewTextMessage(types.RoleAssistant, state.current.String())
	c.logger.Debug("storing assistant response", "bytes", len(msg.Content))
	c.hist.AddWithLimit(msg, c.HistorySize())
}

// reportCost records usage and, when pricing is known, reports the request
// cost through the callback.
func (c *Client) reportCost(req *chatRequest, state *streamState) {
	if state.usage.IsZero() {
		return
	}
	c.recordUsage(req.model, state.usage)
	if !c.hasPricing(req.model) {
		return
	}
	req.callback(fmt.Sprintf("Request cost: $%.6f", c.LastRequestCost()), ReasonRequestCost, false)
}

// invokeTools runs the pending tool calls, appends the paired assistant
// message and each result to history, and enqueues a follow-up request.
func (c *Client) invokeTools(ctx context.Context, req *chatRequest) {
	c.mu.Lock()
	confirm := c.onToolInvoke
	c.mu.Unlock()

	for _, pending := range req.pending {
		if c.interrupt.Load() {
			c.logger.Warn("user interrupted")
			return
		}
		c.hist.AddWithLimit(pending.message, c.HistorySize())

		for _, call := range pending.calls {
			if c.interrupt.Load() {
				c.logger.Warn("user interrupted")
				return
			}

			req.callback("\n", ReasonPartial, false)
			req.callback(describeInvocation(call), ReasonLogNotice, false)

			var result types.ToolResult
			if confirm != nil && !confirm(call.Name) {
				result = types.ToolResult{
					IsError: true,
					Text:    fmt.Sprintf("Permission to run tool %s is declined", call.Name),
				}
			} else {
				result = c.table.Call(ctx, call)
				req.callback(fmt.Sprintf("Tool output: { isError = %v, text = '%s' }", result.IsError, result.Text),
					ReasonLogNotice, false)
			}

			msg := c.adapter.FormatToolResult(call, result)
			c.hist.AddWithLimit(msg, c.HistorySize())
		}
	}
	req.pending = nil

	c.createAndPushRequest(ctx, nil, req.callback, req.model, OptionDefault)
}

// describeInvocation renders a tool call for notice logging.
func describeInvocation(call types.ToolCall) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Invoking tool: '%s', args:\n", call.Name)
	names := make([]string, 0, len(call.Args))
	for name := range call.Args {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "  %s => %v\n", name, call.Args[name])
	}
	return b.String()
}
