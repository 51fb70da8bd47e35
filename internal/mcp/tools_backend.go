package mcpserver

import (
	"context"
	"fmt"

	"appbuilder/internal/service"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerBackendTools() {
	s.mcp.AddTool(mcp.NewTool("list_backends",
		mcp.WithDescription("List the managed-table backends (sqlite, postgres, mysql, mongodb)"),
	), s.handleListBackends)

	s.mcp.AddTool(mcp.NewTool("create_backend",
		mcp.WithDescription("Register a managed-table backend. The password is kept in the secret store."),
		mcp.WithString("name", mcp.Description("Unique backend name used by managed bindings"), mcp.Required()),
		mcp.WithString("driver", mcp.Description("sqlite, postgres, mysql or mongodb"), mcp.Required()),
		mcp.WithString("host", mcp.Description("Hostname, connection URI, or file path for sqlite")),
		mcp.WithNumber("port", mcp.Description("Port (0 for sqlite)")),
		mcp.WithString("database", mcp.Description("Database name")),
		mcp.WithString("username", mcp.Description("User name")),
		mcp.WithString("password", mcp.Description("Password (optional)")),
		mcp.WithString("sslMode", mcp.Description("SSL mode for postgres (default disable)")),
	), s.handleCreateBackend)

	s.mcp.AddTool(mcp.NewTool("introspect_backend",
		mcp.WithDescription("Get schema information (tables and columns) of a backend"),
		mcp.WithString("backend", mcp.Description("Backend name or ID"), mcp.Required()),
	), s.handleIntrospectBackend)

	s.mcp.AddTool(mcp.NewTool("preview_table",
		mcp.WithDescription("Read the first rows of a managed table, normalized the way bindings see them"),
		mcp.WithString("backend", mcp.Description("Backend name or ID"), mcp.Required()),
		mcp.WithString("table", mcp.Description("Table or collection name"), mcp.Required()),
		mcp.WithNumber("limit", mcp.Description("Number of rows (default 20)")),
	), s.handlePreviewTable)

	s.mcp.AddTool(mcp.NewTool("delete_backend",
		mcp.WithDescription("🛑 DESTRUCTIVE: Remove a backend and its stored password. Bindings that use it stop resolving. Requires user approval."),
		mcp.WithString("backendId", mcp.Description("Backend ID"), mcp.Required()),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{DestructiveHint: boolPtr(true)}),
	), s.handleDeleteBackend)
}

func (s *Server) handleListBackends(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	backends, err := s.backends.ListBackends()
	if err != nil {
		return nil, fmt.Errorf("list backends: %w", err)
	}
	return jsonResult(backends)
}

func (s *Server) handleCreateBackend(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	b, err := s.backends.CreateBackend(service.CreateBackendInput{
		Name:     req.GetString("name", ""),
		Driver:   req.GetString("driver", ""),
		Host:     req.GetString("host", ""),
		Port:     int(getFloat(args, "port", 0)),
		Database: req.GetString("database", ""),
		Username: req.GetString("username", ""),
		Password: req.GetString("password", ""),
		SSLMode:  req.GetString("sslMode", "disable"),
	})
	if err != nil {
		return nil, err
	}
	return jsonResult(b)
}

func (s *Server) handleIntrospectBackend(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	backend := req.GetString("backend", "")
	if backend == "" {
		return nil, fmt.Errorf("backend is required")
	}
	schema, err := s.backends.Introspect(ctx, backend)
	if err != nil {
		return nil, err
	}
	return jsonResult(schema)
}

func (s *Server) handlePreviewTable(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	backend := req.GetString("backend", "")
	table := req.GetString("table", "")
	if backend == "" || table == "" {
		return nil, fmt.Errorf("backend and table are required")
	}
	rows, err := s.backends.Preview(ctx, backend, table, int(getFloat(req.GetArguments(), "limit", 20)))
	if err != nil {
		return nil, err
	}
	return jsonResult(rows)
}

func (s *Server) handleDeleteBackend(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("backendId", "")
	if id == "" {
		return nil, fmt.Errorf("backendId is required")
	}
	approved, err := s.approval.Request(ctx, "delete_backend", fmt.Sprintf("Delete backend %s", id))
	if err != nil || !approved {
		return textResult("Action rejected by user"), nil
	}
	if err := s.backends.DeleteBackend(id); err != nil {
		return nil, fmt.Errorf("delete backend: %w", err)
	}
	return textResult(fmt.Sprintf("Backend %s deleted", id)), nil
}
