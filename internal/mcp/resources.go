package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerResources() {
	// ── appbuilder://projects ──────────────────────────
	s.mcp.AddResource(mcp.NewResource(
		"appbuilder://projects",
		"All Projects",
		mcp.WithMIMEType("application/json"),
	), s.handleProjectsResource)

	// ── appbuilder://page/{pageId}/elements ────────────
	s.mcp.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"appbuilder://page/{pageId}/elements",
			"Elements on a Page",
		),
		s.handlePageElementsResource,
	)

	// ── appbuilder://page/{pageId}/state ───────────────
	s.mcp.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"appbuilder://page/{pageId}/state",
			"Page state: page, elements and theme",
		),
		s.handlePageStateResource,
	)
}

func (s *Server) handleProjectsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	projects, err := s.projects.ListProjects()
	if err != nil {
		return nil, err
	}

	type projectSummary struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}

	summaries := make([]projectSummary, 0, len(projects))
	for _, p := range projects {
		summaries = append(summaries, projectSummary{ID: p.ID, Name: p.Name})
	}
	return jsonContents(req.Params.URI, summaries)
}

func (s *Server) handlePageElementsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI
	pageID := extractPageIDFromURI(uri)
	if pageID == "" {
		return nil, fmt.Errorf("could not extract pageId from URI: %s", uri)
	}

	elements, err := s.elements.Load(pageID)
	if err != nil {
		return nil, err
	}
	summaries := make([]elementSummary, 0, len(elements))
	for _, el := range elements {
		if !el.Deleted {
			summaries = append(summaries, summarizeElement(el))
		}
	}
	return jsonContents(uri, summaries)
}

func (s *Server) handlePageStateResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI
	pageID := extractPageIDFromURI(uri)
	if pageID == "" {
		return nil, fmt.Errorf("could not extract pageId from URI: %s", uri)
	}
	state, err := s.projects.PageState(pageID)
	if err != nil {
		return nil, err
	}
	return jsonContents(uri, state)
}

func jsonContents(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// extractPageIDFromURI extracts the page ID from "appbuilder://page/{id}/..."
func extractPageIDFromURI(uri string) string {
	rest, ok := strings.CutPrefix(uri, "appbuilder://page/")
	if !ok {
		return ""
	}
	id, _, _ := strings.Cut(rest, "/")
	return id
}
