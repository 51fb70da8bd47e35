package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"appbuilder/internal/domain"
	"appbuilder/internal/service"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerElementTools() {
	// ── list_elements ──────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("list_elements",
		mcp.WithDescription("List the elements of a page in collection order, optionally filtered by tag"),
		mcp.WithString("pageId", mcp.Description("Page ID (optional, defaults to active page)")),
		mcp.WithString("tag", mcp.Description("Filter by tag, e.g. Table, Tabs, Button (optional)")),
	), s.handleListElements)

	// ── get_element ────────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("get_element",
		mcp.WithDescription("Get one element with its props and data binding"),
		mcp.WithString("elementId", mcp.Description("Element ID"), mcp.Required()),
	), s.handleGetElement)

	// ── create_element ─────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("create_element",
		mcp.WithDescription("Create an element after the last child of its parent. Bound Tables get their columns generated."),
		mcp.WithString("tag",
			mcp.Description("Element tag: Panel, Text, Button, Link, Image, Input, Select, Modal, ListBox, Tabs, Tab, TabPanel, Tree, TreeItem, TagGroup, Tag, Table, Column"),
			mcp.Required(),
		),
		mcp.WithString("pageId", mcp.Description("Page ID (optional, defaults to active page)")),
		mcp.WithString("parentId", mcp.Description("Parent element ID (optional, root when omitted)")),
		mcp.WithString("props", mcp.Description("JSON object of props (optional)")),
		mcp.WithString("binding", mcp.Description("JSON data binding descriptor {type, source, config, fallback?, refresh?} (optional)")),
	), s.handleCreateElement)

	// ── update_element_props ───────────────────────────
	s.mcp.AddTool(mcp.NewTool("update_element_props",
		mcp.WithDescription("Update an element's props. By default the patch is merged into the existing props."),
		mcp.WithString("elementId", mcp.Description("Element ID"), mcp.Required()),
		mcp.WithString("props", mcp.Description("JSON object of props"), mcp.Required()),
		mcp.WithBoolean("replace", mcp.Description("Replace all props instead of merging (default false)")),
	), s.handleUpdateElementProps)

	// ── set_element_binding ────────────────────────────
	s.mcp.AddTool(mcp.NewTool("set_element_binding",
		mcp.WithDescription("Set or clear the data binding of an element"),
		mcp.WithString("elementId", mcp.Description("Element ID"), mcp.Required()),
		mcp.WithString("binding", mcp.Description("JSON data binding descriptor; empty clears the binding")),
	), s.handleSetElementBinding)

	// ── reorder_elements ───────────────────────────────
	s.mcp.AddTool(mcp.NewTool("reorder_elements",
		mcp.WithDescription("Reorder the children of a parent. Listed IDs come first in the given order; other children keep their relative order after them."),
		mcp.WithString("pageId", mcp.Description("Page ID (optional, defaults to active page)")),
		mcp.WithString("parentId", mcp.Description("Parent element ID (empty for page roots)")),
		mcp.WithString("elementIds", mcp.Description("Comma-separated element IDs"), mcp.Required()),
	), s.handleReorderElements)

	// ── delete_element ─────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("delete_element",
		mcp.WithDescription("Delete an element and its descendants. Soft by default; 🛑 a hard delete requires user approval."),
		mcp.WithString("elementId", mcp.Description("Element ID to delete"), mcp.Required()),
		mcp.WithBoolean("hard", mcp.Description("Remove the rows instead of flagging them deleted (default false)")),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{DestructiveHint: boolPtr(true)}),
	), s.handleDeleteElement)

	// ── batch_delete_elements ──────────────────────────
	s.mcp.AddTool(mcp.NewTool("batch_delete_elements",
		mcp.WithDescription("🛑 DESTRUCTIVE: Hard delete multiple elements at once with a single approval. Requires user approval."),
		mcp.WithString("elementIds",
			mcp.Description("Comma-separated element IDs to delete"),
			mcp.Required(),
		),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{DestructiveHint: boolPtr(true)}),
	), s.handleBatchDeleteElements)
}

func boolPtr(v bool) *bool { return &v }

// ── Handlers ───────────────────────────────────────────────

func (s *Server) handleListElements(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	pageID, err := s.resolvePageID(args)
	if err != nil {
		return nil, err
	}
	elements, err := s.elements.Load(pageID)
	if err != nil {
		return nil, fmt.Errorf("list elements: %w", err)
	}

	tag, _ := args["tag"].(string)
	summaries := make([]elementSummary, 0, len(elements))
	for _, el := range elements {
		if el.Deleted {
			continue
		}
		if tag != "" && !strings.EqualFold(el.Tag, tag) {
			continue
		}
		summaries = append(summaries, summarizeElement(el))
	}
	return jsonResult(summaries)
}

func (s *Server) handleGetElement(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	el, err := s.getElementForTool(req.GetArguments())
	if err != nil {
		return nil, err
	}
	return jsonResult(el)
}

func (s *Server) handleCreateElement(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	tag, _ := args["tag"].(string)
	if tag == "" {
		return nil, fmt.Errorf("tag is required")
	}
	pageID, err := s.resolvePageID(args)
	if err != nil {
		return nil, err
	}

	in := service.CreateInput{PageID: pageID, Tag: tag}
	in.ParentID, _ = args["parentId"].(string)
	if _, err := jsonArg(args, "props", &in.Props); err != nil {
		return nil, err
	}
	var desc domain.BindingDescriptor
	if ok, err := jsonArg(args, "binding", &desc); err != nil {
		return nil, err
	} else if ok {
		in.DataBinding = &desc
	}

	el, err := s.elements.Create(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("create element: %w", err)
	}
	return jsonResult(el)
}

func (s *Server) handleUpdateElementProps(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	el, err := s.getElementForTool(args)
	if err != nil {
		return nil, err
	}
	var props map[string]any
	if ok, err := jsonArg(args, "props", &props); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("props is required")
	}
	replace, _ := args["replace"].(bool)

	updated, err := s.elements.PatchProps(ctx, el.ID, props, !replace)
	if err != nil {
		return nil, fmt.Errorf("update props: %w", err)
	}
	return jsonResult(updated)
}

func (s *Server) handleSetElementBinding(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	el, err := s.getElementForTool(args)
	if err != nil {
		return nil, err
	}
	var desc *domain.BindingDescriptor
	var parsed domain.BindingDescriptor
	if ok, err := jsonArg(args, "binding", &parsed); err != nil {
		return nil, err
	} else if ok {
		desc = &parsed
	}

	updated, err := s.elements.SetBinding(ctx, el.ID, desc)
	if err != nil {
		return nil, fmt.Errorf("set binding: %w", err)
	}
	return jsonResult(updated)
}

func (s *Server) handleReorderElements(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	pageID, err := s.resolvePageID(args)
	if err != nil {
		return nil, err
	}
	parentID, _ := args["parentId"].(string)
	idsStr, _ := args["elementIds"].(string)
	ids := splitIDs(idsStr)
	if len(ids) == 0 {
		return nil, fmt.Errorf("elementIds is required")
	}
	if err := s.elements.Reorder(ctx, pageID, parentID, ids); err != nil {
		return nil, fmt.Errorf("reorder: %w", err)
	}
	children, err := s.elements.Children(pageID, parentID)
	if err != nil {
		return nil, err
	}
	summaries := make([]elementSummary, len(children))
	for i, c := range children {
		summaries[i] = summarizeElement(c)
	}
	return jsonResult(summaries)
}

func (s *Server) handleDeleteElement(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	el, err := s.getElementForTool(args)
	if err != nil {
		return nil, err
	}
	hard, _ := args["hard"].(bool)

	if hard {
		meta := fmt.Sprintf(`{"elementIds":["%s"]}`, el.ID)
		approved, err := s.approval.Request(ctx, "delete_element",
			fmt.Sprintf("Delete %s element %s and its descendants", el.Tag, el.ID), meta)
		if err != nil || !approved {
			return textResult("Action rejected by user"), nil
		}
	}

	ids, err := s.elements.Delete(ctx, el.ID, !hard)
	if err != nil {
		return nil, fmt.Errorf("delete element: %w", err)
	}
	return jsonResult(map[string]any{"deleted": ids, "soft": !hard})
}

func (s *Server) handleBatchDeleteElements(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	idsStr, _ := req.GetArguments()["elementIds"].(string)
	ids := splitIDs(idsStr)
	if len(ids) == 0 {
		return nil, fmt.Errorf("elementIds is required")
	}

	meta, _ := marshalJSON(map[string]any{"elementIds": ids})
	approved, err := s.approval.Request(ctx, "batch_delete_elements",
		fmt.Sprintf("Delete %d elements and their descendants", len(ids)), string(meta))
	if err != nil || !approved {
		return textResult("Action rejected by user"), nil
	}

	var deleted []string
	var failed []string
	for _, id := range ids {
		removed, err := s.elements.Delete(ctx, id, false)
		if err != nil {
			// an earlier id may already have taken this one with it
			failed = append(failed, id)
			continue
		}
		deleted = append(deleted, removed...)
	}
	return jsonResult(map[string]any{"deleted": deleted, "failed": failed})
}

// ── Summaries ──────────────────────────────────────────────

type elementSummary struct {
	ID       string  `json:"id"`
	Tag      string  `json:"tag"`
	ParentID string  `json:"parentId,omitempty"`
	Order    float64 `json:"order"`
	Label    string  `json:"label,omitempty"`
	Bound    bool    `json:"bound,omitempty"`
}

func summarizeElement(el domain.Element) elementSummary {
	label := el.StringProp("label")
	if label == "" {
		label = el.StringProp("text")
	}
	if len(label) > 80 {
		label = label[:80] + "..."
	}
	return elementSummary{
		ID:       el.ID,
		Tag:      el.Tag,
		ParentID: el.Parent(),
		Order:    el.OrderNum,
		Label:    label,
		Bound:    el.DataBinding != nil,
	}
}

func splitIDs(s string) []string {
	var ids []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			ids = append(ids, trimmed)
		}
	}
	return ids
}
