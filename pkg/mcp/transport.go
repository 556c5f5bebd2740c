package mcp

import (
	"context"
	"log/slog"
)

// Transport abstracts the byte channel to an MCP server.
type Transport interface {
	// Connect establishes the connection.
	Connect(ctx context.Context) error

	// Close tears the connection down and releases resources.
	Close() error

	// Send delivers one message to the server.
	Send(ctx context.Context, message *MCPMessage) error

	// Receive blocks until the next message from the server arrives.
	Receive(ctx context.Context) (*MCPMessage, error)

	// IsConnected reports whether the transport is usable.
	IsConnected() bool
}

// TransportConfig contains settings shared by transports.
type TransportConfig struct {
	// Logger receives transport traffic at debug level and child stderr
	// output. Nil means slog.Default().
	Logger *slog.Logger
}

func (c TransportConfig) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
