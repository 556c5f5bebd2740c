package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/convoforge/go-chat/pkg/mcp"
	"github.com/convoforge/go-chat/pkg/provider/types"
)

// externalFunction adapts one MCP server tool to the Function interface.
type externalFunction struct {
	server *mcp.Server
	tool   mcp.MCPTool
}

func (f *externalFunction) Name() string        { return f.tool.Name }
func (f *externalFunction) Description() string { return f.tool.Description }
func (f *externalFunction) Params() []Param     { return nil }

func (f *externalFunction) InputSchema() map[string]interface{} {
	return f.tool.InputSchema
}

func (f *externalFunction) Call(ctx context.Context, args map[string]interface{}) (string, error) {
	result, err := f.server.Client().CallText(ctx, f.tool.Name, args)
	if err != nil {
		return "", err
	}
	if result.IsError {
		return "", fmt.Errorf("%s", result.Text)
	}
	return result.Text, nil
}

// Table is the name-to-callable registry. It aggregates in-process functions
// with tools advertised by external MCP servers, and owns the server handles
// for the lifetime of the table.
type Table struct {
	mu       sync.Mutex
	local    map[string]Function
	external map[string]Function
	servers  []*mcp.Server
	logger   *slog.Logger
}

// NewTable creates an empty table. A nil logger means slog.Default().
func NewTable(logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{
		local:    make(map[string]Function),
		external: make(map[string]Function),
		logger:   logger,
	}
}

// Add registers an in-process function. A duplicate name logs a warning and
// is ignored.
func (t *Table) Add(f Function) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.exists(f.Name()) {
		t.logger.Warn("duplicate function found", "name", f.Name())
		return
	}
	t.local[f.Name()] = f
}

func (t *Table) exists(name string) bool {
	_, inLocal := t.local[name]
	_, inExternal := t.external[name]
	return inLocal || inExternal
}

// AddServer inserts a started server handle and registers each tool it
// advertises.
func (t *Table) AddServer(server *mcp.Server) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.servers = append(t.servers, server)
	for _, tool := range server.Tools() {
		if t.exists(tool.Name) {
			t.logger.Warn("duplicate function found", "name", tool.Name, "server", server.Name())
			continue
		}
		t.external[tool.Name] = &externalFunction{server: server, tool: tool}
	}
}

// ReloadServers removes all external tools and server handles, then starts
// and re-adds servers from the given configurations. In-process functions
// are preserved. Servers that fail any startup stage are skipped with a
// warning.
func (t *Table) ReloadServers(ctx context.Context, configs []mcp.ServerConfig) {
	t.mu.Lock()
	servers := t.servers
	t.servers = nil
	t.external = make(map[string]Function)
	t.mu.Unlock()

	for _, server := range servers {
		if err := server.Close(); err != nil {
			t.logger.Warn("failed to close MCP server", "name", server.Name(), "error", err)
		}
	}

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		server := mcp.NewServer(cfg)
		if err := server.Start(ctx); err != nil {
			t.logger.Warn("MCP server failed to start, skipping", "name", cfg.Name, "error", err)
			continue
		}
		t.AddServer(server)
	}
}

// Call looks a tool up and invokes it. Unknown names and invocation failures
// are folded into the result, never returned as engine errors.
func (t *Table) Call(ctx context.Context, call types.ToolCall) types.ToolResult {
	t.mu.Lock()
	f, ok := t.local[call.Name]
	if !ok {
		f, ok = t.external[call.Name]
	}
	t.mu.Unlock()

	if !ok {
		return types.ToolResult{
			IsError: true,
			Text:    fmt.Sprintf("could not find tool: '%s'", call.Name),
		}
	}

	text, err := safeCall(ctx, f, call.Args)
	if err != nil {
		return types.ToolResult{IsError: true, Text: err.Error()}
	}
	return types.ToolResult{Text: text}
}

// safeCall converts a panicking tool into an error result.
func safeCall(ctx context.Context, f Function, args map[string]interface{}) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool '%s' panicked: %v", f.Name(), r)
		}
	}()
	return f.Call(ctx, args)
}

// ToJSON emits the full catalog in the given wire dialect, ordered by tool
// name.
func (t *Table) ToJSON(kind types.EndpointKind) []map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	names := make([]string, 0, len(t.local)+len(t.external))
	for name := range t.local {
		names = append(names, name)
	}
	for name := range t.external {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]map[string]interface{}, 0, len(names))
	for _, name := range names {
		f, ok := t.local[name]
		if !ok {
			f = t.external[name]
		}
		out = append(out, FunctionJSON(f, kind))
	}
	return out
}

// Len returns the number of registered tools.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.local) + len(t.external)
}

// IsEmpty reports whether no tools are registered.
func (t *Table) IsEmpty() bool {
	return t.Len() == 0
}

// Clear removes every function and closes all server handles.
func (t *Table) Clear() {
	t.mu.Lock()
	servers := t.servers
	t.servers = nil
	t.local = make(map[string]Function)
	t.external = make(map[string]Function)
	t.mu.Unlock()

	for _, server := range servers {
		if err := server.Close(); err != nil {
			t.logger.Warn("failed to close MCP server", "name", server.Name(), "error", err)
		}
	}
}
