package mcp

import (
	"context"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cat echoes stdin to stdout, which is enough to exercise the newline
// framing end to end.
func TestStdioTransportEchoes(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	transport := NewStdioTransport(StdioTransportConfig{Argv: []string{"cat"}})
	require.NoError(t, transport.Connect(context.Background()))
	defer transport.Close()

	assert.True(t, transport.IsConnected())

	msg, err := envelope(1, "ping", struct{}{})
	require.NoError(t, err)
	require.NoError(t, transport.Send(context.Background(), msg))

	echoed, err := transport.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ping", echoed.Method)
	assert.Equal(t, "2.0", echoed.JSONRpc)
}

func TestStdioTransportDoubleConnect(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	transport := NewStdioTransport(StdioTransportConfig{Argv: []string{"cat"}})
	require.NoError(t, transport.Connect(context.Background()))
	defer transport.Close()

	assert.Error(t, transport.Connect(context.Background()))
}

func TestStdioTransportSendWhenClosed(t *testing.T) {
	transport := NewStdioTransport(StdioTransportConfig{Argv: []string{"cat"}})
	msg, _ := envelope(1, "ping", nil)
	assert.Error(t, transport.Send(context.Background(), msg))
}

func TestStdioTransportCommandLine(t *testing.T) {
	transport := NewStdioTransport(StdioTransportConfig{
		Argv: []string{"run", "my server"},
		SSH:  &SSHLogin{Hostname: "host"},
	})
	assert.Equal(t, `ssh -o ServerAliveInterval=30 -p 22 host "run \"my server\""`, transport.CommandLine())
}
