// Package mcp implements a client for the Model Context Protocol: a
// JSON-RPC 2.0 dialogue with a long-lived tool server over its standard
// input/output, locally or through a remote shell.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/convoforge/go-chat/pkg/provider/types"
)

const jsonRPCVersion = "2.0"

// isResponse reports whether the message answers an earlier request.
func (m *MCPMessage) isResponse() bool {
	return m.ID != nil && (m.Result != nil || m.Error != nil)
}

// isRequest reports whether the message is a server-to-client request.
func (m *MCPMessage) isRequest() bool {
	return m.ID != nil && m.Method != ""
}

// errValue converts the embedded protocol error, if any.
func (m *MCPMessage) errValue() error {
	if m.Error == nil {
		return nil
	}
	return &ClientError{
		Code:    m.Error.Code,
		Message: m.Error.Message,
		Data:    m.Error.Data,
	}
}

// Client drives one MCP server connection.
type Client struct {
	transport   Transport
	requestID   atomic.Uint64
	initialized bool

	// Pending requests (for matching responses)
	pendingMu sync.RWMutex
	pending   map[interface{}]chan *MCPMessage

	serverInfo       ServerInfo
	serverCapability ServerCapabilities

	clientInfo ClientInfo

	ctx    context.Context
	cancel context.CancelFunc

	config ClientConfig
}

// ClientConfig contains configuration for the MCP client.
type ClientConfig struct {
	// ClientName is the name announced during initialize.
	ClientName string

	// ClientVersion is the version announced during initialize.
	ClientVersion string

	// RequestTimeout bounds individual requests. Default: 30s.
	RequestTimeout time.Duration

	// Tracer records spans around tool calls. Nil disables tracing.
	Tracer trace.Tracer
}

// NewClient creates a client over the given transport.
func NewClient(transport Transport, config ClientConfig) *Client {
	if config.ClientName == "" {
		config.ClientName = "go-chat"
	}
	if config.ClientVersion == "" {
		config.ClientVersion = "1.0"
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 30 * time.Second
	}
	if config.Tracer == nil {
		config.Tracer = noop.NewTracerProvider().Tracer("mcp")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		transport: transport,
		pending:   make(map[interface{}]chan *MCPMessage),
		clientInfo: ClientInfo{
			Name:    config.ClientName,
			Version: config.ClientVersion,
		},
		ctx:    ctx,
		cancel: cancel,
		config: config,
	}
}

// Connect connects the transport, initializes the session and verifies
// liveness with a ping.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.transport.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect transport: %w", err)
	}

	go c.receiveLoop()

	if err := c.initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	c.initialized = true

	if err := c.Ping(ctx); err != nil {
		return fmt.Errorf("server did not answer ping: %w", err)
	}
	return nil
}

// Close closes the connection and kills the server process.
func (c *Client) Close() error {
	c.cancel()

	c.pendingMu.Lock()
	for _, ch := range c.pending {
		close(ch)
	}
	c.pending = make(map[interface{}]chan *MCPMessage)
	c.pendingMu.Unlock()

	return c.transport.Close()
}

func (c *Client) initialize(ctx context.Context) error {
	params := InitializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities: ClientCapabilities{
			Experimental: make(map[string]interface{}),
			Roots:        &RootsCapability{},
		},
		ClientInfo: c.clientInfo,
	}

	var result InitializeResult
	if err := c.call(ctx, "initialize", params, &result); err != nil {
		return err
	}
	c.serverInfo = result.ServerInfo
	c.serverCapability = result.Capabilities

	if err := c.notify(ctx, "notifications/initialized", nil); err != nil {
		return fmt.Errorf("failed to send initialized notification: %w", err)
	}
	return nil
}

// Ping verifies the server is alive.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, "ping", struct{}{}, nil)
}

// ListTools returns the server's tool catalog.
func (c *Client) ListTools(ctx context.Context) ([]MCPTool, error) {
	if !c.initialized {
		return nil, fmt.Errorf("client not initialized")
	}

	var result ListToolsResult
	if err := c.call(ctx, "tools/list", ListToolsParams{}, &result); err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	return result.Tools, nil
}

// CallTool invokes a tool and returns the raw protocol result.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]interface{}) (*CallToolResult, error) {
	if !c.initialized {
		return nil, fmt.Errorf("client not initialized")
	}

	ctx, span := c.config.Tracer.Start(ctx, "mcp.tools/call",
		trace.WithAttributes(attribute.String("mcp.tool", name)))
	defer span.End()

	params := CallToolParams{Name: name, Arguments: arguments}
	var result CallToolResult
	if err := c.call(ctx, "tools/call", params, &result); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to call tool: %w", err)
	}
	return &result, nil
}

// CallText invokes a tool and flattens its result into the engine's
// {is_error, text} shape: the first content entry's text.
func (c *Client) CallText(ctx context.Context, name string, arguments map[string]interface{}) (types.ToolResult, error) {
	result, err := c.CallTool(ctx, name, arguments)
	if err != nil {
		return types.ToolResult{}, err
	}

	var text string
	if len(result.Content) > 0 {
		text = result.Content[0].Text
	}
	return types.ToolResult{
		IsError: result.IsError,
		Text:    text,
	}, nil
}

// ServerInfo returns information about the connected server
func (c *Client) ServerInfo() ServerInfo {
	return c.serverInfo
}

// ServerCapabilities returns the capabilities of the connected server
func (c *Client) ServerCapabilities() ServerCapabilities {
	return c.serverCapability
}

// envelope wraps method and params into a request (id != 0) or a
// notification (id == 0).
func envelope(id uint64, method string, params interface{}) (*MCPMessage, error) {
	msg := &MCPMessage{JSONRpc: jsonRPCVersion, Method: method}
	if id != 0 {
		msg.ID = id
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encoding %s params: %w", method, err)
		}
		msg.Params = raw
	}
	return msg, nil
}

// call sends a request and waits for the matching response.
func (c *Client) call(ctx context.Context, method string, params interface{}, result interface{}) error {
	id := c.requestID.Add(1)
	msg, err := envelope(id, method, params)
	if err != nil {
		return err
	}

	responseCh := make(chan *MCPMessage, 1)
	c.pendingMu.Lock()
	c.pending[id] = responseCh
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.transport.Send(ctx, msg); err != nil {
		return NewTransportError("failed to send request", err)
	}

	timer := time.NewTimer(c.config.RequestTimeout)
	defer timer.Stop()

	select {
	case response := <-responseCh:
		if response == nil {
			return fmt.Errorf("connection closed")
		}
		if err := response.errValue(); err != nil {
			return err
		}
		if result != nil && response.Result != nil {
			if err := json.Unmarshal(response.Result, result); err != nil {
				return fmt.Errorf("decoding %s result: %w", method, err)
			}
		}
		return nil

	case <-timer.C:
		return NewTimeoutError(method)

	case <-ctx.Done():
		return ctx.Err()

	case <-c.ctx.Done():
		return fmt.Errorf("client closed")
	}
}

// notify sends a notification (no response expected).
func (c *Client) notify(ctx context.Context, method string, params interface{}) error {
	msg, err := envelope(0, method, params)
	if err != nil {
		return err
	}
	return c.transport.Send(ctx, msg)
}

// receiveLoop continuously receives messages from the transport
func (c *Client) receiveLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		msg, err := c.transport.Receive(c.ctx)
		if err != nil {
			// Connection closed.
			return
		}

		switch {
		case msg.isResponse():
			c.pendingMu.RLock()
			ch, ok := c.pending[normalizeID(msg.ID)]
			c.pendingMu.RUnlock()
			if ok {
				select {
				case ch <- msg:
				default:
				}
			}
		case msg.isRequest():
			// Server-to-client requests are not supported.
			reply := &MCPMessage{
				JSONRpc: jsonRPCVersion,
				ID:      msg.ID,
				Error:   &MCPError{Code: ErrorCodeMethodNotFound, Message: "method not found"},
			}
			_ = c.transport.Send(c.ctx, reply)
		default:
			// Notifications are ignored.
		}
	}
}

// normalizeID maps a decoded JSON id back onto the request counter's uint64
// key space. JSON numbers decode as float64.
func normalizeID(id interface{}) interface{} {
	if f, ok := id.(float64); ok {
		return uint64(f)
	}
	return id
}
