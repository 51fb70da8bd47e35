package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"appbuilder/internal/binding"
	"appbuilder/internal/domain"
	"appbuilder/internal/interp"
	"appbuilder/internal/service"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Previewer runs events and renders pages in a headless rendering context.
type Previewer interface {
	FireEvent(ctx context.Context, elementID, eventType string, payload map[string]any) (interp.Result, []interp.Effect, error)
	RenderHTML(pageID string) (string, error)
	Interact(ctx context.Context, elementID, op string, keys []string) error
}

// Server is the MCP server for the app builder.
// It exposes tools, resources, and prompts so AI agents can author pages.
type Server struct {
	mcp      *server.MCPServer
	approval *ApprovalQueue

	// Services (injected from app layer)
	elements *service.ElementService
	projects *service.ProjectService
	theme    *service.ThemeService
	backends *service.BackendService
	resolver *binding.Resolver
	plugins  *service.PluginRegistry
	previews Previewer

	// Active page context (set by set_active_page tool)
	activePageID string
}

// Deps holds all dependencies passed from the App layer to the MCP server.
type Deps struct {
	Elements  *service.ElementService
	Projects  *service.ProjectService
	Theme     *service.ThemeService
	Backends  *service.BackendService
	Resolver  *binding.Resolver
	Plugins   *service.PluginRegistry
	Previews  Previewer
	Approvals ApprovalStore // nil approves destructive calls without asking
}

// New creates and configures a new MCP server with all tools and resources.
func New(deps Deps) *Server {
	s := &Server{
		approval: NewApprovalQueue(deps.Approvals),
		elements: deps.Elements,
		projects: deps.Projects,
		theme:    deps.Theme,
		backends: deps.Backends,
		resolver: deps.Resolver,
		plugins:  deps.Plugins,
		previews: deps.Previews,
	}

	s.mcp = server.NewMCPServer(
		"appbuilder-mcp",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
		server.WithPromptCapabilities(true),
	)

	// Core
	s.registerNavigationTools()
	s.registerElementTools()
	s.registerResources()

	// Runtime
	s.registerBindingTools()
	s.registerPreviewTools()
	s.registerThemeTools()
	s.registerBackendTools()
	s.registerPrompts()

	// Plugin-extensible tools (auto-discovered)
	s.registerPluginTools()

	return s
}

// MCPServer exposes the underlying server, e.g. for in-process clients.
func (s *Server) MCPServer() *server.MCPServer { return s.mcp }

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	log.Println("[MCP] Starting stdio server...")
	return server.ServeStdio(s.mcp)
}

// ── Helpers ────────────────────────────────────────────────

// textResult creates a simple text tool result.
func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

// jsonResult serializes v to JSON and wraps it in a text tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return textResult(string(data)), nil
}

// resolvePageID returns the pageId from tool args or falls back to activePageID.
func (s *Server) resolvePageID(args map[string]any) (string, error) {
	if pid, ok := args["pageId"].(string); ok && pid != "" {
		return pid, nil
	}
	if s.activePageID != "" {
		return s.activePageID, nil
	}
	return "", fmt.Errorf("no pageId provided and no active page set (use set_active_page first)")
}

// getElementForTool retrieves an element and validates it exists.
func (s *Server) getElementForTool(args map[string]any) (domain.Element, error) {
	id, ok := args["elementId"].(string)
	if !ok || id == "" {
		return domain.Element{}, fmt.Errorf("elementId is required")
	}
	return s.elements.Get(id)
}

// jsonArg decodes an optional JSON string argument into target. Objects
// passed directly (not as strings) are accepted too.
func jsonArg(args map[string]any, key string, target any) (bool, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return false, nil
	}
	if str, ok := raw.(string); ok {
		if str == "" {
			return false, nil
		}
		if err := parseJSON(str, target); err != nil {
			return false, fmt.Errorf("parse %s: %w", key, err)
		}
		return true, nil
	}
	data, err := marshalJSON(raw)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return true, nil
}
