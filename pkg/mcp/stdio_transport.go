package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// StdioTransport speaks newline-delimited JSON with a child process over its
// standard input/output. The child is described by a single command string
// (see BuildCommandLine) so local and ssh-wrapped servers spawn the same
// way.
type StdioTransport struct {
	commandLine string
	env         map[string]string

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	reader *bufio.Scanner
	writer *bufio.Writer

	connected bool
	mu        sync.Mutex

	config TransportConfig
}

// StdioTransportConfig contains configuration for stdio transport
type StdioTransportConfig struct {
	// Argv is the command and its arguments.
	Argv []string

	// SSH optionally wraps the command for remote execution.
	SSH *SSHLogin

	// Env holds additional environment variables for the child.
	Env map[string]string

	// Config is the base transport configuration
	Config TransportConfig
}

// NewStdioTransport creates a new stdio transport
func NewStdioTransport(config StdioTransportConfig) *StdioTransport {
	return &StdioTransport{
		commandLine: BuildCommandLine(config.Argv, config.SSH),
		env:         config.Env,
		config:      config.Config,
	}
}

// CommandLine returns the command string the transport will execute.
func (t *StdioTransport) CommandLine() string {
	return t.commandLine
}

// Connect starts the child process and wires its pipes.
func (t *StdioTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected {
		return fmt.Errorf("already connected")
	}

	t.cmd = exec.CommandContext(ctx, "/bin/sh", "-c", t.commandLine)
	if len(t.env) > 0 {
		t.cmd.Env = os.Environ()
		for k, v := range t.env {
			t.cmd.Env = append(t.cmd.Env, k+"="+v)
		}
	}

	var err error
	t.stdin, err = t.cmd.StdinPipe()
	if err != nil {
		return NewTransportError("failed to create stdin pipe", err)
	}
	t.stdout, err = t.cmd.StdoutPipe()
	if err != nil {
		return NewTransportError("failed to create stdout pipe", err)
	}
	t.stderr, err = t.cmd.StderrPipe()
	if err != nil {
		return NewTransportError("failed to create stderr pipe", err)
	}

	if err := t.cmd.Start(); err != nil {
		return NewTransportError("failed to start command", err)
	}

	t.reader = bufio.NewScanner(t.stdout)
	// Tool results can be large.
	buf := make([]byte, 0, 64*1024)
	t.reader.Buffer(buf, 4*1024*1024)
	t.writer = bufio.NewWriter(t.stdin)

	go t.logStderr()

	t.connected = true
	return nil
}

// Close closes the pipes and kills the child.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		return nil
	}

	if t.stdin != nil {
		t.stdin.Close()
	}
	if t.stdout != nil {
		t.stdout.Close()
	}
	if t.stderr != nil {
		t.stderr.Close()
	}
	if t.cmd != nil && t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
		_ = t.cmd.Wait()
	}

	t.connected = false
	return nil
}

// Send writes one message followed by a newline.
func (t *StdioTransport) Send(ctx context.Context, message *MCPMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		return NewTransportError("not connected", nil)
	}

	data, err := json.Marshal(message)
	if err != nil {
		return NewTransportError("failed to marshal message", err)
	}

	t.config.logger().Debug("mcp send", "data", string(data))

	if _, err := t.writer.Write(data); err != nil {
		return NewTransportError("failed to write message", err)
	}
	if err := t.writer.WriteByte('\n'); err != nil {
		return NewTransportError("failed to write newline", err)
	}
	if err := t.writer.Flush(); err != nil {
		return NewTransportError("failed to flush", err)
	}
	return nil
}

// Receive reads the next newline-delimited message.
func (t *StdioTransport) Receive(ctx context.Context) (*MCPMessage, error) {
	if !t.IsConnected() {
		return nil, NewTransportError("not connected", nil)
	}

	if !t.reader.Scan() {
		err := t.reader.Err()
		if err == nil {
			err = io.EOF
		}
		return nil, err
	}
	line := t.reader.Bytes()

	t.config.logger().Debug("mcp receive", "data", string(line))

	var message MCPMessage
	if err := json.Unmarshal(line, &message); err != nil {
		return nil, NewTransportError("failed to unmarshal message", err)
	}
	return &message, nil
}

// IsConnected returns true if the transport is connected
func (t *StdioTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *StdioTransport) logStderr() {
	scanner := bufio.NewScanner(t.stderr)
	for scanner.Scan() {
		t.config.logger().Debug("mcp stderr", "line", scanner.Text())
	}
}
