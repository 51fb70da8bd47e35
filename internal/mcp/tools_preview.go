package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPreviewTools() {
	if s.previews == nil {
		return
	}

	// ── fire_event ─────────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("fire_event",
		mcp.WithDescription("Fire an event (click, change, submit, ...) on an element in a headless preview and run its actions. Returns the per-action results and the browser effects they requested."),
		mcp.WithString("elementId", mcp.Description("Element ID"), mcp.Required()),
		mcp.WithString("eventType", mcp.Description("Event type, e.g. click"), mcp.Required()),
		mcp.WithString("payload", mcp.Description("JSON object passed as the event payload (optional)")),
	), s.handleFireEvent)

	// ── render_page ────────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("render_page",
		mcp.WithDescription("Render a page to HTML in a headless preview, with bindings resolved"),
		mcp.WithString("pageId", mcp.Description("Page ID (optional, defaults to active page)")),
	), s.handleRenderPage)

	// ── interact_element ───────────────────────────────
	s.mcp.AddTool(mcp.NewTool("interact_element",
		mcp.WithDescription("Perform a widget gesture in a headless preview: select (Tabs, Select, ListBox, Tree, TagGroup), toggle (Tree), reorder (Tabs) or remove (TagGroup). The result is saved like an edit."),
		mcp.WithString("elementId", mcp.Description("Element ID"), mcp.Required()),
		mcp.WithString("op", mcp.Description("select, toggle, reorder or remove"), mcp.Required()),
		mcp.WithString("keys", mcp.Description("Comma-separated item keys"), mcp.Required()),
	), s.handleInteractElement)
}

func (s *Server) handleFireEvent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	elementID, _ := args["elementId"].(string)
	eventType, _ := args["eventType"].(string)
	if elementID == "" || eventType == "" {
		return nil, fmt.Errorf("elementId and eventType are required")
	}
	var payload map[string]any
	if _, err := jsonArg(args, "payload", &payload); err != nil {
		return nil, err
	}
	res, effects, err := s.previews.FireEvent(ctx, elementID, eventType, payload)
	if err != nil {
		return nil, err
	}
	return jsonResult(map[string]any{"result": res, "effects": effects})
}

func (s *Server) handleRenderPage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pageID, err := s.resolvePageID(req.GetArguments())
	if err != nil {
		return nil, err
	}
	html, err := s.previews.RenderHTML(pageID)
	if err != nil {
		return nil, err
	}
	return textResult(html), nil
}

func (s *Server) handleInteractElement(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	elementID := req.GetString("elementId", "")
	op := req.GetString("op", "")
	if elementID == "" || op == "" {
		return nil, fmt.Errorf("elementId and op are required")
	}
	if err := s.previews.Interact(ctx, elementID, op, splitIDs(req.GetString("keys", ""))); err != nil {
		return nil, err
	}
	return textResult(fmt.Sprintf("%s applied to %s", op, elementID)), nil
}
