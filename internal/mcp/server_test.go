package mcpserver_test

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"appbuilder/internal/app"
	"appbuilder/internal/config"
	mcpserver "appbuilder/internal/mcp"
	"appbuilder/internal/storage"
)

// fakeApprovals answers every approval with a fixed decision.
type fakeApprovals struct {
	decision string

	mu      sync.Mutex
	created []storage.Approval
	deleted []string
}

func (f *fakeApprovals) Create(a *storage.Approval) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, *a)
	return nil
}

func (f *fakeApprovals) Status(string) (string, error) { return f.decision, nil }

func (f *fakeApprovals) Delete(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

type session struct {
	app    *app.App
	client *client.Client
}

func newSession(t *testing.T, approvals mcpserver.ApprovalStore) session {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Secrets = "memory"
	cfg.Fixtures = true
	if err := cfg.Resolve(); err != nil {
		t.Fatal(err)
	}
	a, err := app.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { a.Shutdown(context.Background()) })

	srv := mcpserver.New(mcpserver.Deps{
		Elements:  a.Elements(),
		Projects:  a.Projects(),
		Theme:     a.Theme(),
		Backends:  a.Backends(),
		Resolver:  a.Resolver(),
		Plugins:   a.Plugins(),
		Previews:  a,
		Approvals: approvals,
	})

	c, err := client.NewInProcessClient(srv.MCPServer())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatal(err)
	}
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "test", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		t.Fatal(err)
	}
	return session{app: a, client: c}
}

func (s session) call(t *testing.T, name string, args map[string]any) string {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := s.client.CallTool(context.Background(), req)
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	if len(res.Content) == 0 {
		t.Fatalf("%s: empty result", name)
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("%s: content is %T", name, res.Content[0])
	}
	if res.IsError {
		t.Fatalf("%s: tool error: %s", name, text.Text)
	}
	return text.Text
}

func (s session) callJSON(t *testing.T, name string, args map[string]any, out any) {
	t.Helper()
	text := s.call(t, name, args)
	if err := json.Unmarshal([]byte(text), out); err != nil {
		t.Fatalf("%s: decode %q: %v", name, text, err)
	}
}

// newPage creates a project and an active page.
func (s session) newPage(t *testing.T) string {
	t.Helper()
	var project struct{ ID string }
	s.callJSON(t, "create_project", map[string]any{"name": "Demo"}, &project)
	var page struct{ ID string }
	s.callJSON(t, "create_page", map[string]any{"projectId": project.ID, "name": "Home"}, &page)
	return page.ID
}

type summary struct {
	ID    string `json:"id"`
	Tag   string `json:"tag"`
	Label string `json:"label"`
}

func TestTools_CreateAndListElements(t *testing.T) {
	s := newSession(t, nil)
	s.newPage(t)

	var panel struct{ ID string }
	s.callJSON(t, "create_element", map[string]any{"tag": "Panel"}, &panel)
	s.call(t, "create_element", map[string]any{
		"tag": "Text", "parentId": panel.ID, "props": `{"text":"Welcome"}`,
	})
	s.call(t, "create_element", map[string]any{
		"tag": "Button", "parentId": panel.ID, "props": map[string]any{"label": "Go"},
	})

	var all []summary
	s.callJSON(t, "list_elements", map[string]any{}, &all)
	if len(all) != 3 {
		t.Fatalf("elements = %+v", all)
	}

	var buttons []summary
	s.callJSON(t, "list_elements", map[string]any{"tag": "button"}, &buttons)
	if len(buttons) != 1 || buttons[0].Label != "Go" {
		t.Errorf("buttons = %+v", buttons)
	}
}

func TestTools_UpdatePropsMergesByDefault(t *testing.T) {
	s := newSession(t, nil)
	s.newPage(t)

	var el struct{ ID string }
	s.callJSON(t, "create_element", map[string]any{"tag": "Text", "props": `{"children":"a","variant":"label"}`}, &el)

	var merged struct{ Props map[string]any }
	s.callJSON(t, "update_element_props", map[string]any{"elementId": el.ID, "props": `{"children":"b"}`}, &merged)
	if diff := cmp.Diff(map[string]any{"children": "b", "variant": "label"}, merged.Props); diff != "" {
		t.Errorf("merge (-want +got):\n%s", diff)
	}

	var replaced struct{ Props map[string]any }
	s.callJSON(t, "update_element_props", map[string]any{"elementId": el.ID, "props": `{"children":"c"}`, "replace": true}, &replaced)
	if diff := cmp.Diff(map[string]any{"children": "c"}, replaced.Props); diff != "" {
		t.Errorf("replace (-want +got):\n%s", diff)
	}
}

func TestTools_HardDeleteNeedsApproval(t *testing.T) {
	rejecting := &fakeApprovals{decision: storage.ApprovalRejected}
	s := newSession(t, rejecting)
	s.newPage(t)

	var el struct{ ID string }
	s.callJSON(t, "create_element", map[string]any{"tag": "Text"}, &el)

	if got := s.call(t, "delete_element", map[string]any{"elementId": el.ID, "hard": true}); got != "Action rejected by user" {
		t.Errorf("result = %q", got)
	}
	if _, err := s.app.Elements().Get(el.ID); err != nil {
		t.Errorf("element gone after rejection: %v", err)
	}
	rejecting.mu.Lock()
	if len(rejecting.created) != 1 || rejecting.created[0].Tool != "delete_element" {
		t.Errorf("approvals = %+v", rejecting.created)
	}
	if len(rejecting.deleted) != 1 {
		t.Errorf("approval rows not cleaned up: %v", rejecting.deleted)
	}
	rejecting.mu.Unlock()

	// soft deletes skip the approval
	var out struct {
		Deleted []string `json:"deleted"`
		Soft    bool     `json:"soft"`
	}
	s.callJSON(t, "delete_element", map[string]any{"elementId": el.ID}, &out)
	if !out.Soft || len(out.Deleted) != 1 {
		t.Errorf("soft delete = %+v", out)
	}
}

func TestTools_BatchDeleteApproved(t *testing.T) {
	s := newSession(t, &fakeApprovals{decision: storage.ApprovalApproved})
	pageID := s.newPage(t)

	var a, b struct{ ID string }
	s.callJSON(t, "create_element", map[string]any{"tag": "Text"}, &a)
	s.callJSON(t, "create_element", map[string]any{"tag": "Text"}, &b)

	var out struct {
		Deleted []string `json:"deleted"`
	}
	s.callJSON(t, "batch_delete_elements", map[string]any{"elementIds": a.ID + ", " + b.ID}, &out)
	if len(out.Deleted) != 2 {
		t.Errorf("deleted = %v", out.Deleted)
	}
	els, err := s.app.Elements().Load(pageID)
	if err != nil {
		t.Fatal(err)
	}
	if len(els) != 0 {
		t.Errorf("remaining = %d", len(els))
	}
}

func TestTools_ManagedTableGetsColumns(t *testing.T) {
	s := newSession(t, nil)
	pageID := s.newPage(t)

	var table struct{ ID string }
	s.callJSON(t, "create_element", map[string]any{
		"tag":     "Table",
		"binding": `{"type":"collection","source":"managed","config":{"backend":"fixtures","table":"products"}}`,
	}, &table)

	var cols []string
	s.callJSON(t, "infer_columns", map[string]any{"elementId": table.ID}, &cols)
	if diff := cmp.Diff([]string{"price", "sku", "stock", "title"}, cols); diff != "" {
		t.Errorf("columns (-want +got):\n%s", diff)
	}

	var out struct {
		Columns []struct{ Tag string } `json:"columns"`
	}
	s.callJSON(t, "table_generate_columns", map[string]any{"elementId": table.ID}, &out)
	if len(out.Columns) != 4 {
		t.Errorf("column elements = %+v", out.Columns)
	}

	html := s.call(t, "render_page", map[string]any{"pageId": pageID})
	if !strings.Contains(html, "Keyboard") {
		t.Errorf("render missing fixture row:\n%s", html)
	}
}

func TestTools_FireEvent(t *testing.T) {
	s := newSession(t, nil)
	s.newPage(t)

	var button struct{ ID string }
	s.callJSON(t, "create_element", map[string]any{
		"tag":   "Button",
		"props": `{"events":[{"event_type":"onClick","actions":[{"id":"n","type":"navigate","value":{"url":"/next","newTab":true}}]}]}`,
	}, &button)

	var out struct {
		Result struct {
			Actions []struct{ Status string } `json:"actions"`
		} `json:"result"`
		Effects []struct {
			Kind  string `json:"kind"`
			Value string `json:"value"`
		} `json:"effects"`
	}
	s.callJSON(t, "fire_event", map[string]any{"elementId": button.ID, "eventType": "onClick"}, &out)
	if len(out.Result.Actions) != 1 || out.Result.Actions[0].Status != "success" {
		t.Errorf("actions = %+v", out.Result.Actions)
	}
	if len(out.Effects) != 1 || out.Effects[0].Kind != "open_window" || out.Effects[0].Value != "/next" {
		t.Errorf("effects = %+v", out.Effects)
	}
}

func TestTools_ThemeVars(t *testing.T) {
	s := newSession(t, nil)
	s.call(t, "set_theme_vars", map[string]any{"vars": `{"brand":"#123456"}`})

	var theme struct {
		Vars map[string]string `json:"vars"`
	}
	s.callJSON(t, "get_theme", map[string]any{}, &theme)
	if theme.Vars["brand"] != "#123456" {
		t.Errorf("vars = %v", theme.Vars)
	}
}

func TestTools_PluginToolListed(t *testing.T) {
	s := newSession(t, nil)
	res, err := s.client.ListTools(context.Background(), mcp.ListToolsRequest{})
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, tool := range res.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"create_element", "delete_page", "fire_event", "render_page", "table_generate_columns"} {
		if !names[want] {
			t.Errorf("tool %s not registered", want)
		}
	}
}

func TestResources_PageElements(t *testing.T) {
	s := newSession(t, nil)
	pageID := s.newPage(t)
	s.call(t, "create_element", map[string]any{"tag": "Image"})

	req := mcp.ReadResourceRequest{}
	req.Params.URI = "appbuilder://page/" + pageID + "/elements"
	res, err := s.client.ReadResource(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	text, ok := res.Contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("contents = %T", res.Contents[0])
	}
	var els []summary
	if err := json.Unmarshal([]byte(text.Text), &els); err != nil {
		t.Fatal(err)
	}
	if len(els) != 1 || els[0].Tag != "Image" {
		t.Errorf("elements = %+v", els)
	}
}

func TestPrompts_Listed(t *testing.T) {
	s := newSession(t, nil)
	res, err := s.client.ListPrompts(context.Background(), mcp.ListPromptsRequest{})
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, p := range res.Prompts {
		names = append(names, p.Name)
	}
	want := []string{"api_list", "data_table_page", "form_with_modal", "tabbed_page"}
	sorted := cmpopts.SortSlices(func(a, b string) bool { return a < b })
	if diff := cmp.Diff(want, names, sorted); diff != "" {
		t.Errorf("prompts (-want +got):\n%s", diff)
	}
}

func TestApprovalQueue(t *testing.T) {
	ctx := context.Background()

	t.Run("no store approves", func(t *testing.T) {
		ok, err := mcpserver.NewApprovalQueue(nil).Request(ctx, "delete_page", "x")
		if err != nil || !ok {
			t.Errorf("got %v, %v", ok, err)
		}
	})

	t.Run("approved", func(t *testing.T) {
		q := mcpserver.NewApprovalQueue(&fakeApprovals{decision: storage.ApprovalApproved}).WithTimings(time.Second, time.Millisecond)
		ok, err := q.Request(ctx, "delete_page", "x", `{"pageId":"p"}`)
		if err != nil || !ok {
			t.Errorf("got %v, %v", ok, err)
		}
	})

	t.Run("rejected", func(t *testing.T) {
		q := mcpserver.NewApprovalQueue(&fakeApprovals{decision: storage.ApprovalRejected}).WithTimings(time.Second, time.Millisecond)
		ok, err := q.Request(ctx, "delete_page", "x")
		if err == nil || ok {
			t.Errorf("got %v, %v", ok, err)
		}
	})

	t.Run("times out", func(t *testing.T) {
		store := &fakeApprovals{decision: storage.ApprovalPending}
		q := mcpserver.NewApprovalQueue(store).WithTimings(20*time.Millisecond, time.Millisecond)
		ok, err := q.Request(ctx, "delete_page", "x")
		if err == nil || ok || !strings.Contains(err.Error(), "timed out") {
			t.Errorf("got %v, %v", ok, err)
		}
		if len(store.deleted) != 1 {
			t.Errorf("row not deleted: %v", store.deleted)
		}
	})

	t.Run("context cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		q := mcpserver.NewApprovalQueue(&fakeApprovals{decision: storage.ApprovalPending}).WithTimings(time.Second, 10*time.Millisecond)
		if ok, err := q.Request(cctx, "delete_page", "x"); err == nil || ok {
			t.Errorf("got %v, %v", ok, err)
		}
	})
}

func TestApprovalQueue_SQLiteRoundTrip(t *testing.T) {
	db, err := storage.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	store := storage.NewApprovalStore(db)
	q := mcpserver.NewApprovalQueue(store).WithTimings(2*time.Second, 5*time.Millisecond)

	// plays the serve process: approve the first pending row
	go func() {
		for i := 0; i < 200; i++ {
			pending, err := store.ListPending()
			if err == nil && len(pending) > 0 {
				_ = store.Resolve(pending[0].ID, true)
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	ok, err := q.Request(context.Background(), "delete_backend", "Delete backend main")
	if err != nil || !ok {
		t.Fatalf("got %v, %v", ok, err)
	}
	pending, err := store.ListPending()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("pending after approval = %+v", pending)
	}
}
