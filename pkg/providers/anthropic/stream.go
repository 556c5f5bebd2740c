package anthropic

import (
	"encoding/json"
	"fmt"
	"strings"

	providererrors "github.com/convoforge/go-chat/pkg/provider/errors"
	"github.com/convoforge/go-chat/pkg/provider/types"
)

// The closed set of SSE events the Messages API emits.
const (
	eventMessageStart      = "message_start"
	eventMessageDelta      = "message_delta"
	eventMessageStop       = "message_stop"
	eventContentBlockStart = "content_block_start"
	eventContentBlockDelta = "content_block_delta"
	eventContentBlockStop  = "content_block_stop"
	eventPing              = "ping"
	eventError             = "error"
)

// Content block types.
const (
	blockText     = "text"
	blockThinking = "thinking"
	blockToolUse  = "tool_use"
)

// Delta payload types.
const (
	deltaText      = "text_delta"
	deltaInputJSON = "input_json_delta"
	deltaThinking  = "thinking_delta"
	deltaSignature = "signature_delta"
)

type parserState int

const (
	stateInitial parserState = iota
	stateCollectText
	stateCollectThinking
	stateCollectToolUse
)

// eventMessage is one complete `event:`/`data:` line pair.
type eventMessage struct {
	event string
	data  string
}

// StreamParser is the state machine over the Messages API event stream. It
// may be fed data split at arbitrary byte boundaries; incomplete line pairs
// stay buffered until the next Push.
type StreamParser struct {
	buf   string
	state parserState

	toolName string
	toolID   string
	toolJSON strings.Builder

	stopReason types.StopReason
}

// NewStreamParser creates a parser for one streaming response.
func NewStreamParser() *StreamParser {
	return &StreamParser{}
}

func (p *StreamParser) reset() {
	p.state = stateInitial
	p.toolName = ""
	p.toolID = ""
	p.toolJSON.Reset()
}

// Push consumes raw body bytes and yields every chunk that became complete.
func (p *StreamParser) Push(data []byte) ([]types.StreamChunk, error) {
	p.buf += string(data)

	var out []types.StreamChunk
	for {
		em, ok, err := p.nextMessage()
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		chunks, err := p.handle(em)
		out = append(out, chunks...)
		if err != nil {
			return out, err
		}
	}
}

// popLine removes and returns the next non-empty line from the buffer.
func (p *StreamParser) popLine() (string, bool) {
	for {
		idx := strings.IndexByte(p.buf, '\n')
		if idx < 0 {
			return "", false
		}
		line := strings.TrimRight(p.buf[:idx], "\r")
		p.buf = p.buf[idx+1:]
		if strings.TrimSpace(line) == "" {
			continue
		}
		return line, true
	}
}

// nextMessage pops one event/data line pair. When only the event line has
// arrived it is pushed back and the parser reports "need more data".
func (p *StreamParser) nextMessage() (eventMessage, bool, error) {
	eventLine, ok := p.popLine()
	if !ok {
		return eventMessage{}, false, nil
	}
	dataLine, ok := p.popLine()
	if !ok {
		p.buf = eventLine + "\n" + p.buf
		return eventMessage{}, false, nil
	}

	name, ok := afterField(eventLine, "event")
	if !ok {
		return eventMessage{}, false, fmt.Errorf("%w: line must start with 'event:', got %q",
			providererrors.ErrMalformedStream, eventLine)
	}
	payload, ok := afterField(dataLine, "data")
	if !ok {
		return eventMessage{}, false, fmt.Errorf("%w: line must start with 'data:', got %q",
			providererrors.ErrMalformedStream, dataLine)
	}
	if !knownEvent(name) {
		return eventMessage{}, false, fmt.Errorf("%w: invalid event type %q",
			providererrors.ErrMalformedStream, name)
	}
	return eventMessage{event: name, data: payload}, true, nil
}

func afterField(line, field string) (string, bool) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 || strings.TrimSpace(line[:idx]) != field {
		return "", false
	}
	return strings.TrimSpace(line[idx+1:]), true
}

func knownEvent(name string) bool {
	switch name {
	case eventMessageStart, eventMessageDelta, eventMessageStop,
		eventContentBlockStart, eventContentBlockDelta, eventContentBlockStop,
		eventPing, eventError:
		return true
	}
	return false
}

func (p *StreamParser) handle(em eventMessage) ([]types.StreamChunk, error) {
	// Events honored in every state.
	switch em.event {
	case eventError:
		chunk := errorChunk(em.data)
		p.reset()
		return []types.StreamChunk{chunk}, nil
	case eventMessageStop:
		done := types.StreamChunk{Kind: types.ChunkDone, StopReason: p.doneStopReason(em.data)}
		p.reset()
		return []types.StreamChunk{done}, nil
	case eventPing, eventMessageStart:
		return nil, nil
	case eventMessageDelta:
		return p.handleMessageDelta(em)
	}

	switch p.state {
	case stateInitial:
		return p.handleInitial(em)
	case stateCollectText, stateCollectThinking:
		return p.handleCollect(em)
	case stateCollectToolUse:
		return p.handleToolUse(em)
	}
	return nil, nil
}

func (p *StreamParser) handleInitial(em eventMessage) ([]types.StreamChunk, error) {
	switch em.event {
	case eventContentBlockStart:
		var payload struct {
			ContentBlock struct {
				Type string `json:"type"`
				Name string `json:"name"`
				ID   string `json:"id"`
			} `json:"content_block"`
		}
		if err := json.Unmarshal([]byte(em.data), &payload); err != nil {
			return nil, fmt.Errorf("%w: %v", providererrors.ErrMalformedStream, err)
		}
		switch payload.ContentBlock.Type {
		case blockText:
			p.state = stateCollectText
		case blockThinking:
			p.state = stateCollectThinking
		case blockToolUse:
			p.toolName = payload.ContentBlock.Name
			p.toolID = payload.ContentBlock.ID
			p.toolJSON.Reset()
			p.state = stateCollectToolUse
		default:
			return nil, fmt.Errorf("%w: invalid content_block type %q",
				providererrors.ErrMalformedStream, payload.ContentBlock.Type)
		}
		return nil, nil
	}
	// A block delta or stop without an open block is a protocol violation.
	return nil, fmt.Errorf("%w: unexpected event %q in initial state",
		providererrors.ErrMalformedStream, em.event)
}

func (p *StreamParser) handleCollect(em eventMessage) ([]types.StreamChunk, error) {
	switch em.event {
	case eventContentBlockDelta:
		text, err := deltaContent(em.data)
		if err != nil {
			return nil, err
		}
		kind := types.ChunkText
		if p.state == stateCollectThinking {
			kind = types.ChunkThinking
		}
		return []types.StreamChunk{{Kind: kind, Text: text}}, nil
	case eventContentBlockStop:
		p.state = stateInitial
		return nil, nil
	}
	return nil, nil
}

func (p *StreamParser) handleToolUse(em eventMessage) ([]types.StreamChunk, error) {
	switch em.event {
	case eventContentBlockDelta:
		part, err := deltaContent(em.data)
		if err != nil {
			return nil, err
		}
		p.toolJSON.WriteString(part)
		return nil, nil
	case eventContentBlockStop:
		args, err := parseToolArgs(p.toolJSON.String())
		if err != nil {
			return nil, err
		}
		chunk := types.StreamChunk{
			Kind: types.ChunkToolCall,
			ToolCall: &types.ToolCall{
				Name:         p.toolName,
				Args:         args,
				InvocationID: p.toolID,
			},
		}
		p.toolName = ""
		p.toolID = ""
		p.toolJSON.Reset()
		p.state = stateInitial
		return []types.StreamChunk{chunk}, nil
	}
	return nil, nil
}

func (p *StreamParser) handleMessageDelta(em eventMessage) ([]types.StreamChunk, error) {
	var payload struct {
		Delta struct {
			StopReason string `json:"stop_reason"`
		} `json:"delta"`
		Usage json.RawMessage `json:"usage"`
	}
	if err := json.Unmarshal([]byte(em.data), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", providererrors.ErrMalformedStream, err)
	}
	if payload.Delta.StopReason != "" {
		p.stopReason = types.StopReason(payload.Delta.StopReason)
	}
	if len(payload.Usage) > 0 {
		usage := types.UsageFromJSON(payload.Usage)
		return []types.StreamChunk{{Kind: types.ChunkUsage, Usage: &usage}}, nil
	}
	return nil, nil
}

// doneStopReason prefers a stop reason on the message_stop payload itself,
// falling back to the one remembered from message_delta.
func (p *StreamParser) doneStopReason(data string) types.StopReason {
	var payload struct {
		StopReason string `json:"stop_reason"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err == nil && payload.StopReason != "" {
		return types.StopReason(payload.StopReason)
	}
	if p.stopReason != "" {
		return p.stopReason
	}
	return types.StopEndTurn
}

// deltaContent extracts the delta payload: text, partial tool-args JSON or
// thinking text. Signature deltas contribute nothing.
func deltaContent(data string) (string, error) {
	var payload struct {
		Delta struct {
			Type        string `json:"type"`
			Text        string `json:"text"`
			PartialJSON string `json:"partial_json"`
			Thinking    string `json:"thinking"`
		} `json:"delta"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return "", fmt.Errorf("%w: %v", providererrors.ErrMalformedStream, err)
	}
	switch payload.Delta.Type {
	case deltaText:
		return payload.Delta.Text, nil
	case deltaInputJSON:
		return payload.Delta.PartialJSON, nil
	case deltaThinking:
		return payload.Delta.Thinking, nil
	case deltaSignature:
		return "", nil
	}
	return "", fmt.Errorf("%w: invalid delta type %q",
		providererrors.ErrMalformedStream, payload.Delta.Type)
}

func parseToolArgs(raw string) (map[string]interface{}, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]interface{}{}, nil
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("%w: tool arguments are not valid JSON: %v",
			providererrors.ErrMalformedStream, err)
	}
	return args, nil
}

// errorChunk converts an error event payload into an error chunk with a
// stable kind string taken from error.type.
func errorChunk(data string) types.StreamChunk {
	var payload struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	kind := "general_error"
	message := ""
	if err := json.Unmarshal([]byte(data), &payload); err == nil {
		if payload.Error.Type != "" {
			kind = payload.Error.Type
		}
		message = payload.Error.Message
	}
	if message == "" {
		message = kind
	}
	return types.StreamChunk{Kind: types.ChunkError, ErrKind: kind, ErrMessage: message}
}
