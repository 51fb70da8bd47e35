package mcpserver

import (
	"context"
	"fmt"

	"appbuilder/internal/binding"
	"appbuilder/internal/domain"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerBindingTools() {
	// ── resolve_binding ────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("resolve_binding",
		mcp.WithDescription("Resolve a data binding and return the normalized records, exactly as a bound element would see them. Pass either an elementId or a binding descriptor."),
		mcp.WithString("elementId", mcp.Description("Resolve this element's binding (optional)")),
		mcp.WithString("binding", mcp.Description("JSON data binding descriptor (optional)")),
	), s.handleResolveBinding)

	// ── infer_columns ──────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("infer_columns",
		mcp.WithDescription("List the field names a binding's records carry, sorted"),
		mcp.WithString("binding", mcp.Description("JSON data binding descriptor"), mcp.Required()),
	), s.handleInferColumns)
}

func (s *Server) bindingFromArgs(args map[string]any) (*domain.BindingDescriptor, error) {
	var desc domain.BindingDescriptor
	ok, err := jsonArg(args, "binding", &desc)
	if err != nil {
		return nil, err
	}
	if ok {
		return &desc, nil
	}
	if id, _ := args["elementId"].(string); id != "" {
		el, err := s.elements.Get(id)
		if err != nil {
			return nil, err
		}
		if el.DataBinding == nil {
			return nil, fmt.Errorf("element %s has no data binding", id)
		}
		return el.DataBinding, nil
	}
	return nil, fmt.Errorf("elementId or binding is required")
}

func (s *Server) handleResolveBinding(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	desc, err := s.bindingFromArgs(req.GetArguments())
	if err != nil {
		return nil, err
	}
	return jsonResult(s.resolver.Resolve(ctx, desc))
}

func (s *Server) handleInferColumns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	desc, err := s.bindingFromArgs(req.GetArguments())
	if err != nil {
		return nil, err
	}
	res := s.resolver.Resolve(ctx, desc)
	if res.Error != "" && !res.Fallback {
		return nil, fmt.Errorf("resolve binding: %s", res.Error)
	}
	return jsonResult(binding.InferColumns(res.Data))
}
