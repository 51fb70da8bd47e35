package mcpserver

import (
	"context"
	"fmt"

	"appbuilder/internal/service"

	"github.com/mark3labs/mcp-go/mcp"
)

// registerPluginTools iterates all registered element plugins and
// auto-registers MCP tools for them. If a plugin implements
// MCPCapablePlugin, its custom tools are registered. Otherwise, a generic
// create tool is added for its kind.
func (s *Server) registerPluginTools() {
	if s.plugins == nil {
		return
	}

	s.plugins.ForEach(func(p service.ElementPlugin) {
		kind := p.Kind()

		// Check if plugin declares custom MCP tools
		if mcpPlugin, ok := p.(service.MCPCapablePlugin); ok {
			for _, toolDef := range mcpPlugin.MCPTools() {
				def := toolDef // capture for closure
				s.mcp.AddTool(pluginTool(def), s.pluginHandler(def))
			}
			return
		}

		// Generic fallback: create_{kind}_element
		s.mcp.AddTool(mcp.NewTool(
			fmt.Sprintf("create_%s_element", kind),
			mcp.WithDescription(fmt.Sprintf("Create a %s element", kind)),
			mcp.WithString("pageId", mcp.Description("Page ID (optional, defaults to active page)")),
			mcp.WithString("parentId", mcp.Description("Parent element ID (optional)")),
			mcp.WithString("props", mcp.Description("JSON object of props (optional)")),
		), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			pageID, err := s.resolvePageID(args)
			if err != nil {
				return nil, err
			}
			in := service.CreateInput{PageID: pageID, Tag: kind.String()}
			in.ParentID, _ = args["parentId"].(string)
			if _, err := jsonArg(args, "props", &in.Props); err != nil {
				return nil, err
			}
			el, err := s.elements.Create(ctx, in)
			if err != nil {
				return nil, err
			}
			return jsonResult(el)
		})
	})
}

// pluginTool builds the tool declaration; the plugin's JSON schema is used
// verbatim when it has one.
func pluginTool(def service.MCPToolDef) mcp.Tool {
	desc := def.Description
	if def.Destructive {
		desc = "🛑 DESTRUCTIVE: " + desc
	}
	var tool mcp.Tool
	if schema, err := marshalJSON(def.InputSchema); def.InputSchema != nil && err == nil {
		tool = mcp.NewToolWithRawSchema(def.Name, desc, schema)
	} else {
		tool = mcp.NewTool(def.Name, mcp.WithDescription(desc))
	}
	if def.Destructive {
		tool.Annotations.DestructiveHint = boolPtr(true)
	}
	return tool
}

func (s *Server) pluginHandler(def service.MCPToolDef) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if def.Destructive {
			approved, err := s.approval.Request(ctx, def.Name, def.Description)
			if err != nil || !approved {
				return textResult("Action rejected by user"), nil
			}
		}
		result, err := def.Handler(ctx, req.GetArguments())
		if err != nil {
			return nil, err
		}
		return jsonResult(result)
	}
}
