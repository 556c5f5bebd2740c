// Package config loads the client configuration file: endpoints, external
// tool servers, history window, timeouts and logging. The raw JSON is
// preprocessed by an environment-variable expander before decoding.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/convoforge/go-chat/pkg/mcp"
	"github.com/convoforge/go-chat/pkg/provider/types"
)

// ServerKindStdio is the only MCP server transport the client speaks.
const ServerKindStdio = "stdio"

// Defaults applied when the file omits a key.
const (
	DefaultHistorySize = 50
	DefaultKeepAlive   = "5m"
	DefaultLogLevel    = "info"

	DefaultConnectTimeoutMS = 100
	DefaultReadTimeoutMS    = 10000
	DefaultWriteTimeoutMS   = 10000
)

// LevelTrace sits below slog's debug level; the config key log_level
// accepts "trace".
const LevelTrace = slog.LevelDebug - 4

// MCPServerConfig describes one external tool server entry.
type MCPServerConfig struct {
	Command []string          `json:"command"`
	Env     map[string]string `json:"env,omitempty"`
	Type    string            `json:"type,omitempty"`
	Enabled *bool             `json:"enabled,omitempty"`
	SSH     *mcp.SSHLogin     `json:"ssh,omitempty"`
}

// IsEnabled reports whether the server should be started; the default is
// enabled.
func (s MCPServerConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// IsRemote reports whether the server runs behind a remote shell.
func (s MCPServerConfig) IsRemote() bool {
	return s.SSH != nil
}

// ServerTimeout holds the transport timeouts in milliseconds.
type ServerTimeout struct {
	ConnectMS int `json:"connect_ms"`
	ReadMS    int `json:"read_ms"`
	WriteMS   int `json:"write_ms"`
}

// Connect returns the connect timeout as a duration.
func (t ServerTimeout) Connect() time.Duration { return time.Duration(t.ConnectMS) * time.Millisecond }

// Read returns the read timeout as a duration.
func (t ServerTimeout) Read() time.Duration { return time.Duration(t.ReadMS) * time.Millisecond }

// Write returns the write timeout as a duration.
func (t ServerTimeout) Write() time.Duration { return time.Duration(t.WriteMS) * time.Millisecond }

// Config is the decoded configuration file.
type Config struct {
	Endpoints     []types.Endpoint           `json:"endpoints"`
	Servers       map[string]MCPServerConfig `json:"servers"`
	HistorySize   int                        `json:"history_size"`
	LogLevel      string                     `json:"log_level"`
	KeepAlive     string                     `json:"keep_alive"`
	Stream        *bool                      `json:"stream"`
	ServerTimeout ServerTimeout              `json:"server_timeout"`
}

// FromFile loads and expands a configuration file.
func FromFile(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return FromContent(content)
}

// FromContent decodes configuration JSON. String values are run through the
// environment-variable expander first; undefined variables stay literal.
func FromContent(content []byte) (*Config, error) {
	return fromContentEnv(content, ProcessEnv())
}

func fromContentEnv(content []byte, env EnvMap) (*Config, error) {
	var raw interface{}
	if err := json.Unmarshal(content, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	raw = expandValue(raw, env)

	expanded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode config: %w", err)
	}

	cfg := &Config{
		HistorySize: DefaultHistorySize,
		KeepAlive:   DefaultKeepAlive,
		LogLevel:    DefaultLogLevel,
		ServerTimeout: ServerTimeout{
			ConnectMS: DefaultConnectTimeoutMS,
			ReadMS:    DefaultReadTimeoutMS,
			WriteMS:   DefaultWriteTimeoutMS,
		},
	}
	if err := json.Unmarshal(expanded, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.ServerTimeout.ConnectMS <= 0 {
		cfg.ServerTimeout.ConnectMS = DefaultConnectTimeoutMS
	}
	if cfg.ServerTimeout.ReadMS <= 0 {
		cfg.ServerTimeout.ReadMS = DefaultReadTimeoutMS
	}
	if cfg.ServerTimeout.WriteMS <= 0 {
		cfg.ServerTimeout.WriteMS = DefaultWriteTimeoutMS
	}
	return cfg, nil
}

// ActiveEndpoint returns the endpoint marked active, or the first entry
// when none is marked. Nil when no endpoints are configured.
func (c *Config) ActiveEndpoint() *types.Endpoint {
	for i := range c.Endpoints {
		if c.Endpoints[i].Active {
			return &c.Endpoints[i]
		}
	}
	if len(c.Endpoints) > 0 {
		return &c.Endpoints[0]
	}
	return nil
}

// IsStream reports whether streaming is enabled; the default is true.
func (c *Config) IsStream() bool {
	return c.Stream == nil || *c.Stream
}

// SlogLevel maps the log_level key onto a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// MCPServers converts the stdio server entries into launchable
// configurations; disabled entries are included with Enabled set to false.
// Entries with an unsupported type are skipped with a warning.
func (c *Config) MCPServers(logger *slog.Logger) []mcp.ServerConfig {
	if logger == nil {
		logger = slog.Default()
	}
	out := make([]mcp.ServerConfig, 0, len(c.Servers))
	for name, server := range c.Servers {
		if server.Type != "" && server.Type != ServerKindStdio {
			logger.Warn("unsupported MCP server type, skipping", "name", name, "type", server.Type)
			continue
		}
		out = append(out, mcp.ServerConfig{
			Name:    name,
			Argv:    server.Command,
			Env:     server.Env,
			SSH:     server.SSH,
			Enabled: server.IsEnabled(),
			Logger:  logger,
		})
	}
	return out
}
