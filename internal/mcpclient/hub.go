// Package mcpclient manages stdio connections to MCP servers and forwards
// tool calls to them, adapted from the teacher's Hub so it speaks the
// dispatcher's plain (server, tool, args) -> text shape instead of exposing
// the raw mcp-go result type to callers.
package mcpclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// ServerConfig is one entry of a session's MCP server list.
type ServerConfig struct {
	Command string
	Args    []string
}

type connection struct {
	name   string
	client *client.Client
	tools  []mcp.Tool
}

// Hub owns the live connections for a session.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]*connection
}

// NewHub returns an empty Hub; call Connect per configured server.
func NewHub() *Hub {
	return &Hub{connections: make(map[string]*connection)}
}

// Connect launches an MCP server over stdio, initializes the session, and
// caches its tool list.
func (h *Hub) Connect(ctx context.Context, name string, cfg ServerConfig) error {
	mcpClient, err := client.NewStdioMCPClient(cfg.Command, cfg.Args)
	if err != nil {
		return fmt.Errorf("create MCP client %s: %w", name, err)
	}
	if err := mcpClient.Start(ctx); err != nil {
		return fmt.Errorf("start MCP client %s: %w", name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = "2024-11-05"
	initReq.Params.Capabilities = mcp.ClientCapabilities{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "agentcore", Version: "1.0.0"}
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		return fmt.Errorf("initialize MCP client %s: %w", name, err)
	}

	listCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	listResult, err := mcpClient.ListTools(listCtx, mcp.ListToolsRequest{})
	var tools []mcp.Tool
	if listResult != nil {
		tools = listResult.Tools
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[name] = &connection{name: name, client: mcpClient, tools: tools}
	return nil
}

// CallTool forwards to the named server (or, if server is empty, to
// whichever connected server advertises the tool) and renders the result's
// text content blocks into a single string for the dispatcher.
func (h *Hub) CallTool(ctx context.Context, server, tool string, args map[string]interface{}) (string, error) {
	h.mu.RLock()
	conn := h.resolve(server, tool)
	h.mu.RUnlock()

	if conn == nil {
		return "", fmt.Errorf("mcp tool not found: %s", tool)
	}

	callCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	result, err := conn.client.CallTool(callCtx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: tool, Arguments: args},
	})
	if err != nil {
		return "", err
	}
	return renderContent(result), nil
}

func (h *Hub) resolve(server, tool string) *connection {
	if server != "" {
		return h.connections[server]
	}
	for _, conn := range h.connections {
		for _, t := range conn.tools {
			if t.Name == tool {
				return conn
			}
		}
	}
	return nil
}

func renderContent(result *mcp.CallToolResult) string {
	if result == nil {
		return ""
	}
	var out string
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			out += tc.Text
		}
	}
	return out
}

// Close shuts down every connected server.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, conn := range h.connections {
		conn.client.Close()
	}
}
