package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	s.mcp.AddPrompt(mcp.NewPrompt("data_table_page",
		mcp.WithPromptDescription("Build a page with a Table bound to a managed backend table"),
		mcp.WithArgument("backend",
			mcp.ArgumentDescription("Name of the managed backend"),
			mcp.RequiredArgument(),
		),
		mcp.WithArgument("table",
			mcp.ArgumentDescription("Table to display"),
			mcp.RequiredArgument(),
		),
	), s.handleDataTablePrompt)

	s.mcp.AddPrompt(mcp.NewPrompt("api_list",
		mcp.WithPromptDescription("Show records fetched from an HTTP API in a ListBox"),
		mcp.WithArgument("url",
			mcp.ArgumentDescription("Full URL of the endpoint returning JSON"),
			mcp.RequiredArgument(),
		),
		mcp.WithArgument("resultPath",
			mcp.ArgumentDescription("Dot path to the result array inside the response (optional)"),
		),
	), s.handleAPIListPrompt)

	s.mcp.AddPrompt(mcp.NewPrompt("tabbed_page",
		mcp.WithPromptDescription("Lay out a page as Tabs with one TabPanel per section"),
		mcp.WithArgument("sections",
			mcp.ArgumentDescription("Comma-separated section titles"),
			mcp.RequiredArgument(),
		),
	), s.handleTabbedPagePrompt)

	s.mcp.AddPrompt(mcp.NewPrompt("form_with_modal",
		mcp.WithPromptDescription("Create a form whose submit button stores input and opens a confirmation modal"),
		mcp.WithArgument("fields",
			mcp.ArgumentDescription("Comma-separated field names"),
			mcp.RequiredArgument(),
		),
	), s.handleFormPrompt)
}

func promptResult(description, text string) *mcp.GetPromptResult {
	return &mcp.GetPromptResult{
		Description: description,
		Messages: []mcp.PromptMessage{
			{
				Role:    mcp.RoleUser,
				Content: mcp.TextContent{Type: "text", Text: text},
			},
		},
	}
}

func (s *Server) handleDataTablePrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	backend := req.Params.Arguments["backend"]
	table := req.Params.Arguments["table"]
	return promptResult(fmt.Sprintf("Table page for %s.%s", backend, table), fmt.Sprintf(`Build a data table for "%s" from backend "%s" on the active page. Follow these steps:

1. Use introspect_backend with backend "%s" to confirm the table exists and read its columns
2. Use preview_table to look at a few sample rows
3. Create a Panel (create_element) as the page container with a Text heading naming the table
4. Create a Table inside the Panel with binding:
   {"type":"collection","source":"managed","config":{"backend":"%s","table":"%s","limit":50}}
   Columns are generated from the binding. Run table_generate_columns to regenerate them later.
5. Use render_page to check the result and fix any binding errors reported in the table

Keep column headers readable. Order rows by a timestamp column when one exists.`, table, backend, backend, backend, table)), nil
}

func (s *Server) handleAPIListPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	url := req.Params.Arguments["url"]
	resultPath := req.Params.Arguments["resultPath"]
	return promptResult(fmt.Sprintf("List records from %s", url), fmt.Sprintf(`Show the records returned by %s on the active page. Follow these steps:

1. Use resolve_binding with {"type":"collection","source":"api","config":{"baseUrl":"<scheme://host of %s>","endpoint":"<path of %s>","dataMapping":{"resultPath":"%s"}}}
   Adjust baseUrl/endpoint/resultPath until records come back
2. Use infer_columns on the same binding to pick a label field
3. Create a ListBox (create_element) bound with the working descriptor
4. Add a static fallback to the binding so the list still renders when the API is down
5. Add a "refresh" cron expression (e.g. "*/5 * * * *") when the data changes often
6. Use render_page to verify the list`, url, url, url, resultPath)), nil
}

func (s *Server) handleTabbedPagePrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	sections := req.Params.Arguments["sections"]
	return promptResult("Tabbed page layout", fmt.Sprintf(`Lay out the active page as tabs for these sections: %s. Follow these steps:

1. Create a Tabs element at the page root
2. For each section, create a Tab child of Tabs with props {"key":"<slug>","label":"<title>"}
3. For each section, create a TabPanel child of Tabs with props {"key":"<slug>"} matching its Tab
4. Put a Text heading inside each TabPanel
5. Use reorder_elements if the tabs end up in the wrong order
6. Use render_page to check that exactly one panel is shown, then interact_element with op "select" on Tabs to switch sections`, sections)), nil
}

func (s *Server) handleFormPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	fields := req.Params.Arguments["fields"]
	return promptResult("Form with confirmation modal", fmt.Sprintf(`Create a form on the active page with these fields: %s. Follow these steps:

1. Create a Panel for the form and one Input per field with props {"name":"<field>","label":"<Field>"}
2. Create a Modal containing a Text "Saved!" and a Button "Close"; note the Modal's element id
3. Create a submit Button whose props.events is:
   [{"event_type":"onClick","actions":[
     {"id":"save","type":"update_state","value":{"key":"form","value":{"submitted":true},"merge":true}},
     {"id":"open","type":"show_modal","value":{"modalId":"<modal id>"}}
   ]}]
4. Give the Close button an onClick with a hide_modal action for the same modal
5. Use fire_event on the submit Button and check the returned action statuses, then render_page to see the modal`, fields)), nil
}
