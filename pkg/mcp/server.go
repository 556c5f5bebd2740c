package mcp

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// ServerConfig describes one external tool server.
type ServerConfig struct {
	// Name identifies the server in configuration and logs.
	Name string

	// Argv is the command and its arguments.
	Argv []string

	// Env holds additional environment variables for the child.
	Env map[string]string

	// SSH optionally proxies the command through a remote shell.
	SSH *SSHLogin

	// Enabled servers are started on config apply.
	Enabled bool

	// RequestTimeout bounds individual requests.
	RequestTimeout time.Duration

	// Logger for transport traffic. Nil means slog.Default().
	Logger *slog.Logger

	// Tracer records spans around tool calls.
	Tracer trace.Tracer
}

// Server is a handle to a running MCP server: the client connection plus its
// cached tool catalog. The handle owns the client; Close kills the child
// process.
type Server struct {
	config ServerConfig
	client *Client
	tools  []MCPTool
}

// NewServer creates a handle for the given configuration without starting
// the child process.
func NewServer(config ServerConfig) *Server {
	return &Server{config: config}
}

// Name returns the configured server name.
func (s *Server) Name() string {
	return s.config.Name
}

// Start spawns the child process, initializes the session and caches the
// tool catalog. A handle that fails to start is inactive and must not be
// used.
func (s *Server) Start(ctx context.Context) error {
	transport := NewStdioTransport(StdioTransportConfig{
		Argv:   s.config.Argv,
		SSH:    s.config.SSH,
		Env:    s.config.Env,
		Config: TransportConfig{Logger: s.config.Logger},
	})

	logger := s.config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("starting MCP server", "name", s.config.Name, "command", transport.CommandLine())

	client := NewClient(transport, ClientConfig{
		RequestTimeout: s.config.RequestTimeout,
		Tracer:         s.config.Tracer,
	})
	if err := client.Connect(ctx); err != nil {
		_ = client.Close()
		return err
	}

	tools, err := client.ListTools(ctx)
	if err != nil {
		_ = client.Close()
		return err
	}

	s.client = client
	s.tools = tools
	return nil
}

// Tools returns the cached tool catalog.
func (s *Server) Tools() []MCPTool {
	return s.tools
}

// Client returns the underlying MCP client.
func (s *Server) Client() *Client {
	return s.client
}

// Close terminates the child process and releases resources.
func (s *Server) Close() error {
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}
