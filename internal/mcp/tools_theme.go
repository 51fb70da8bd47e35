package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerThemeTools() {
	s.mcp.AddTool(mcp.NewTool("get_theme",
		mcp.WithDescription("Get the theme CSS variables and design tokens"),
	), s.handleGetTheme)

	s.mcp.AddTool(mcp.NewTool("set_theme_vars",
		mcp.WithDescription("Replace the theme CSS variables, e.g. {\"--primary\": \"#4f46e5\"}. Every open page restyles."),
		mcp.WithString("vars", mcp.Description("JSON object of CSS custom properties"), mcp.Required()),
	), s.handleSetThemeVars)

	s.mcp.AddTool(mcp.NewTool("set_theme_tokens",
		mcp.WithDescription("Replace the design tokens: a CSS string or a JSON object of selector → declarations"),
		mcp.WithString("tokens", mcp.Description("CSS text or JSON object"), mcp.Required()),
	), s.handleSetThemeTokens)
}

func (s *Server) handleGetTheme(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	theme, err := s.theme.Get()
	if err != nil {
		return nil, err
	}
	return jsonResult(theme)
}

func (s *Server) handleSetThemeVars(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var vars map[string]string
	if ok, err := jsonArg(req.GetArguments(), "vars", &vars); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("vars is required")
	}
	if err := s.theme.SetVars(ctx, vars); err != nil {
		return nil, err
	}
	return textResult(fmt.Sprintf("Theme updated with %d variables", len(vars))), nil
}

func (s *Server) handleSetThemeTokens(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw := req.GetString("tokens", "")
	if raw == "" {
		return nil, fmt.Errorf("tokens is required")
	}
	var tokens any = raw
	var obj map[string]any
	if err := parseJSON(raw, &obj); err == nil {
		tokens = obj
	}
	if err := s.theme.SetTokens(ctx, tokens); err != nil {
		return nil, err
	}
	return textResult("Theme tokens updated"), nil
}
