// Package mcptool exposes tools served by external MCP servers as registry
// tools.
//
// A [Client] holds one connection to an MCP server, over stdio or streamable
// HTTP, using the official MCP Go SDK. [Factory] builds a [tools.Tool] that
// forwards each query to one remote tool.
package mcptool

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Transport selects the connection mechanism for an MCP server.
type Transport string

const (
	// TransportStdio spawns a subprocess and communicates over stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP communicates via the MCP Streamable HTTP protocol.
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is a recognised transport.
func (t Transport) IsValid() bool {
	return t == TransportStdio || t == TransportStreamableHTTP
}

// ServerConfig describes how to reach one MCP server.
type ServerConfig struct {
	// Name identifies the server in logs and errors.
	Name string

	// Transport is the connection mechanism.
	Transport Transport

	// Command is the executable and arguments for [TransportStdio].
	Command string

	// Env holds extra environment variables for [TransportStdio].
	Env map[string]string

	// URL is the endpoint for [TransportStreamableHTTP].
	URL string
}

// Session is the subset of [mcpsdk.ClientSession] the client uses.
type Session interface {
	CallTool(ctx context.Context, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error)
	Close() error
}

var _ Session = (*mcpsdk.ClientSession)(nil)

// Client is a connection to one MCP server. It is safe for concurrent use.
type Client struct {
	name    string
	session Session
	tools   []string

	closeOnce sync.Once
	closeErr  error
}

// Connect opens a session to the server described by cfg and lists its tools.
func Connect(ctx context.Context, cfg ServerConfig) (*Client, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("mcptool: server config must have a non-empty name")
	}
	if !cfg.Transport.IsValid() {
		return nil, fmt.Errorf("mcptool: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case TransportStdio:
		executable, args := splitCommand(cfg.Command)
		if executable == "" {
			return nil, fmt.Errorf("mcptool: stdio server %q requires a non-empty command", cfg.Name)
		}
		// The subprocess outlives the connect call, so it is not bound to ctx.
		cmd := exec.Command(executable, args...)
		if len(cfg.Env) > 0 {
			cmd.Env = os.Environ()
			for k, v := range cfg.Env {
				cmd.Env = append(cmd.Env, k+"="+v)
			}
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}

	case TransportStreamableHTTP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("mcptool: streamable-http server %q requires a non-empty url", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	}

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "parla", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcptool: connect to server %q: %w", cfg.Name, err)
	}

	var names []string
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return nil, fmt.Errorf("mcptool: list tools of server %q: %w", cfg.Name, err)
		}
		names = append(names, tool.Name)
	}
	sort.Strings(names)

	return &Client{name: cfg.Name, session: session, tools: names}, nil
}

// NewClient wraps an already established session. toolNames is the remote
// catalogue; pass nil to skip the existence check in [Client.Call].
func NewClient(name string, session Session, toolNames []string) *Client {
	return &Client{name: name, session: session, tools: toolNames}
}

// Name returns the server name.
func (c *Client) Name() string { return c.name }

// Tools returns the names of the tools the server advertised.
func (c *Client) Tools() []string { return append([]string(nil), c.tools...) }

// HasTool reports whether the server advertised a tool called name. A client
// created without a catalogue reports true for every name.
func (c *Client) HasTool(name string) bool {
	if c.tools == nil {
		return true
	}
	i := sort.SearchStrings(c.tools, name)
	return i < len(c.tools) && c.tools[i] == name
}

// Call invokes the remote tool and returns the concatenated text content.
// A result flagged as an application error is returned as a Go error.
func (c *Client) Call(ctx context.Context, tool string, args map[string]any) (string, error) {
	if !c.HasTool(tool) {
		return "", fmt.Errorf("mcptool: server %q has no tool %q", c.name, tool)
	}
	res, err := c.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      tool,
		Arguments: args,
	})
	if err != nil {
		return "", fmt.Errorf("mcptool: call %q on %q: %w", tool, c.name, err)
	}

	var sb strings.Builder
	for _, content := range res.Content {
		if tc, ok := content.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	if res.IsError {
		return "", fmt.Errorf("mcptool: %q on %q reported: %s", tool, c.name, sb.String())
	}
	return sb.String(), nil
}

// Close ends the session. It is safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if err := c.session.Close(); err != nil {
			c.closeErr = fmt.Errorf("mcptool: close server %q: %w", c.name, err)
		}
	})
	return c.closeErr
}

// splitCommand splits a command string into executable and arguments.
// e.g. "/bin/foo --bar baz" → ("/bin/foo", ["--bar", "baz"]).
func splitCommand(command string) (executable string, args []string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}
