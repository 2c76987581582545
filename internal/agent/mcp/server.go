// Package mcp exposes the tool registry over the Model Context
// Protocol so external MCP clients can call claw's tools directly.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/openclaw/claw/internal/agent/tools"
	"github.com/openclaw/claw/internal/logging"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Server mirrors the registry's enabled, auto-executable tools into an
// MCP server. Dangerous tools are never exported: the protocol has no
// confirmation channel, so anything that would suspend a turn stays
// internal.
type Server struct {
	registry *tools.Registry
	server   *mcp.Server

	mu       sync.Mutex
	exported map[string]bool
}

// NewServer builds the MCP server and exports the current registry
// state. Call Refresh after skill toggles to re-sync.
func NewServer(registry *tools.Registry) *Server {
	s := &Server{
		registry: registry,
		exported: make(map[string]bool),
	}
	s.server = mcp.NewServer(&mcp.Implementation{
		Name:    "claw",
		Version: "1.0.0",
	}, nil)
	s.Refresh()
	return s
}

// Refresh syncs the exported tool set with the registry. AddTool
// replaces existing entries and RemoveTools drops stale ones; both send
// notifications/tools/list_changed so connected clients re-fetch.
func (s *Server) Refresh() {
	s.mu.Lock()
	defer s.mu.Unlock()

	enabled := s.registry.ListEnabled()
	want := make(map[string]bool, len(enabled))
	for i := range enabled {
		tool := &enabled[i]
		if tool.Dangerous {
			continue
		}
		want[tool.Name] = true
		s.addTool(tool)
	}

	var removed []string
	for name := range s.exported {
		if !want[name] {
			removed = append(removed, name)
			delete(s.exported, name)
		}
	}
	if len(removed) > 0 {
		s.server.RemoveTools(removed...)
		logging.Infof("[mcp] removed tools: %v", removed)
	}
}

// addTool registers one tool with the MCP server. Caller holds s.mu.
func (s *Server) addTool(tool *tools.Tool) {
	def := tool.Definition()
	var schema map[string]any
	if err := json.Unmarshal(def.InputSchema, &schema); err != nil {
		logging.Warnf("[mcp] skipping %s: bad schema: %v", tool.Name, err)
		return
	}
	s.server.AddTool(&mcp.Tool{
		Name:        tool.Name,
		Description: tool.Description,
		InputSchema: schema,
	}, s.handler(tool.Name))
	s.exported[tool.Name] = true
}

// handler adapts one registry tool to the MCP calling convention.
func (s *Server) handler(name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (result *mcp.CallToolResult, err error) {
		// A panic here would sever the transport for every client.
		defer func() {
			if r := recover(); r != nil {
				logging.Errorf("[mcp] panic in tool %s: %v", name, r)
				result = &mcp.CallToolResult{
					Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("tool panicked: %v", r)}},
					IsError: true,
				}
				err = nil
			}
		}()

		args := map[string]any{}
		if len(req.Params.Arguments) > 0 {
			if uerr := json.Unmarshal(req.Params.Arguments, &args); uerr != nil {
				return &mcp.CallToolResult{
					Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("invalid arguments: %v", uerr)}},
					IsError: true,
				}, nil
			}
		}

		logging.Debugf("[mcp] call %s", name)
		res := s.registry.Execute(ctx, name, args)
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: res.Result}},
			IsError: res.IsError,
		}, nil
	}
}

// Run serves over stdio until the client disconnects or ctx ends.
func (s *Server) Run(ctx context.Context) error {
	logging.Infof("[mcp] serving %d tools over stdio", s.ToolCount())
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Handler returns a streamable-HTTP handler so serve mode can mount
// the same server next to the REST API.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.server }, nil)
}

// ToolCount reports how many tools are currently exported.
func (s *Server) ToolCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.exported)
}

// GetServer returns the underlying MCP server.
func (s *Server) GetServer() *mcp.Server {
	return s.server
}
