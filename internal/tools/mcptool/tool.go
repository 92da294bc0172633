package mcptool

import (
	"context"
	"fmt"
	"io"

	"github.com/MrWong99/parla/internal/tools"
)

var (
	_ tools.Tool = (*Tool)(nil)
	_ io.Closer  = (*Tool)(nil)
)

// Tool forwards each query to one tool on an MCP server. The query is sent
// as the argument named by the "argument" setting, alongside any static
// "arguments".
type Tool struct {
	client   *Client
	remote   string
	argument string
	static   map[string]any
}

// New returns a Tool calling remote on client.
func New(client *Client, remote, argument string, static map[string]any) *Tool {
	if argument == "" {
		argument = "query"
	}
	return &Tool{client: client, remote: remote, argument: argument, static: static}
}

// Run implements [tools.Tool].
func (t *Tool) Run(ctx context.Context, query string) (string, error) {
	args := make(map[string]any, len(t.static)+1)
	for k, v := range t.static {
		args[k] = v
	}
	args[t.argument] = query
	return t.client.Call(ctx, t.remote, args)
}

// Close implements [io.Closer].
func (t *Tool) Close() error { return t.client.Close() }

// ServerConfigFrom reads a [ServerConfig] from tool settings:
//
//	transport: stdio | streamable-http
//	command:   executable and args (stdio)
//	url:       endpoint (streamable-http)
//	env:       extra environment (stdio)
func ServerConfigFrom(name string, s tools.Settings) ServerConfig {
	transport := Transport(s.String("transport", ""))
	if transport == "" {
		if s.String("url", "") != "" {
			transport = TransportStreamableHTTP
		} else {
			transport = TransportStdio
		}
	}
	return ServerConfig{
		Name:      name,
		Transport: transport,
		Command:   s.String("command", ""),
		Env:       s.StringMap("env", nil),
		URL:       s.String("url", ""),
	}
}

// Factory builds a [Tool] from settings. Besides the [ServerConfigFrom] keys
// it reads "tool" (the remote tool name, required), "argument" and
// "arguments".
func Factory(ctx context.Context, s tools.Settings) (tools.Tool, error) {
	remote := s.String("tool", "")
	if remote == "" {
		return nil, fmt.Errorf("mcptool: setting \"tool\" is required")
	}
	name := s.String("server", remote)
	client, err := Connect(ctx, ServerConfigFrom(name, s))
	if err != nil {
		return nil, err
	}
	if !client.HasTool(remote) {
		_ = client.Close()
		return nil, fmt.Errorf("mcptool: server %q has no tool %q", name, remote)
	}
	static, _ := s["arguments"].(map[string]any)
	return New(client, remote, s.String("argument", ""), static), nil
}
