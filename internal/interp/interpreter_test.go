package interp_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"appbuilder/internal/domain"
	"appbuilder/internal/interp"
	"appbuilder/internal/state"
)

// element decodes a JSON element literal, the shape the builder stores.
func element(t *testing.T, raw string) *domain.Element {
	t.Helper()
	var el domain.Element
	if err := json.Unmarshal([]byte(raw), &el); err != nil {
		t.Fatalf("decode element: %v", err)
	}
	return &el
}

func statuses(res interp.Result) []interp.Status {
	out := make([]interp.Status, len(res.Actions))
	for i, a := range res.Actions {
		out[i] = a.Status
	}
	return out
}

func TestFire_NavigateNewTabLeavesLocation(t *testing.T) {
	host := interp.NewRecordingHost("/home")
	in := interp.New(state.New(), host)
	el := element(t, `{"id":"b","tag":"Button","props":{"events":[
		{"event_type":"onClick","enabled":true,"actions":[
			{"id":"a1","type":"navigate","value":{"url":"/x","newTab":true}}
		]}
	]}}`)

	res := in.Fire(context.Background(), interp.Firing{EventType: "onClick", Element: el})
	if diff := cmp.Diff([]interp.Status{interp.StatusSuccess}, statuses(res)); diff != "" {
		t.Fatalf("statuses (-want +got):\n%s", diff)
	}
	if host.Location() != "/home" {
		t.Errorf("location changed to %q", host.Location())
	}
	if diff := cmp.Diff([]string{"/x"}, host.Windows()); diff != "" {
		t.Errorf("windows:\n%s", diff)
	}
}

func TestFire_LaterGuardSeesEarlierWrite(t *testing.T) {
	store := state.New()
	in := interp.New(store, interp.NewRecordingHost("/"))
	el := element(t, `{"id":"b","tag":"Button","props":{"events":[
		{"event_type":"onClick","actions":[
			{"id":"A","type":"update_state","value":{"key":"k","value":1}},
			{"id":"B","type":"update_state","condition":"state.k === 1","value":{"key":"seen","value":true}}
		]}
	]}}`)

	res := in.Fire(context.Background(), interp.Firing{EventType: "onClick", Element: el})
	if diff := cmp.Diff([]interp.Status{interp.StatusSuccess, interp.StatusSuccess}, statuses(res)); diff != "" {
		t.Fatalf("statuses (-want +got):\n%s", diff)
	}
	if v, _ := store.Get("seen"); v != true {
		t.Errorf("seen = %v", v)
	}
}

func TestFire_ThrowingGuardIsIsolated(t *testing.T) {
	store := state.New()
	in := interp.New(store, nil)
	el := element(t, `{"id":"b","tag":"Button","props":{"events":[
		{"event_type":"onClick","actions":[
			{"id":"A","type":"update_state","condition":"missing.field > 1","value":{"key":"a","value":1}},
			{"id":"B","type":"update_state","condition":"false","value":{"key":"b","value":1}},
			{"id":"C","type":"update_state","value":{"key":"c","value":1}}
		]}
	]}}`)

	res := in.Fire(context.Background(), interp.Firing{EventType: "onClick", Element: el})
	want := []interp.Status{interp.StatusFailed, interp.StatusSkipped, interp.StatusSuccess}
	if diff := cmp.Diff(want, statuses(res)); diff != "" {
		t.Fatalf("statuses (-want +got):\n%s", diff)
	}
	if res.Actions[0].Error == "" {
		t.Error("expected guard error recorded on A")
	}
	if _, ok := store.Get("c"); !ok {
		t.Error("C should have run")
	}
}

func TestFire_DisabledEventsAndActions(t *testing.T) {
	store := state.New()
	in := interp.New(store, nil)
	el := element(t, `{"id":"b","tag":"Button","props":{"events":[
		{"event_type":"onClick","enabled":false,"actions":[
			{"id":"X","type":"update_state","value":{"key":"x","value":1}}
		]},
		{"event_type":"onClick","actions":[
			{"id":"Y","type":"update_state","enabled":false,"value":{"key":"y","value":1}}
		]}
	]}}`)

	res := in.Fire(context.Background(), interp.Firing{EventType: "onClick", Element: el})
	if res.Matched != 1 {
		t.Errorf("matched = %d", res.Matched)
	}
	if diff := cmp.Diff([]interp.Status{interp.StatusSkipped}, statuses(res)); diff != "" {
		t.Errorf("statuses:\n%s", diff)
	}
	if store.Len() != 0 {
		t.Errorf("store should be untouched: %v", store.Snapshot())
	}
}

func TestFire_UnmatchedIsNoop(t *testing.T) {
	in := interp.New(state.New(), nil)
	el := element(t, `{"id":"b","tag":"Button","props":{}}`)
	res := in.Fire(context.Background(), interp.Firing{EventType: "onHover", Element: el})
	if res.Matched != 0 || len(res.Actions) != 0 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestFire_PreventDefaultBeforeActions(t *testing.T) {
	store := state.New()
	in := interp.New(store, nil)
	el := element(t, `{"id":"f","tag":"Panel","props":{"events":[
		{"event_type":"onSubmit","preventDefault":true,"stopPropagation":true,"actions":[
			{"id":"g","type":"update_state","condition":"event.type === 'onSubmit'","value":{"key":"ok","value":true}}
		]}
	]}}`)
	ev := &interp.EventState{}

	res := in.Fire(context.Background(), interp.Firing{EventType: "onSubmit", Event: ev, Element: el})
	if !ev.DefaultPrevented || !ev.PropagationStopped {
		t.Errorf("event flags not applied: %+v", ev)
	}
	if !res.DefaultPrevented {
		t.Error("result should report preventDefault")
	}
	if v, _ := store.Get("ok"); v != true {
		t.Error("action did not run")
	}
}

func TestFire_DelayUsesSleeper(t *testing.T) {
	var slept []time.Duration
	in := interp.New(state.New(), nil, interp.WithSleep(func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}))
	el := element(t, `{"id":"b","tag":"Button","props":{"events":[
		{"event_type":"onClick","actions":[
			{"id":"d","type":"update_state","delay":250,"value":{"key":"k","value":1}}
		]}
	]}}`)

	in.Fire(context.Background(), interp.Firing{EventType: "onClick", Element: el})
	if diff := cmp.Diff([]time.Duration{250 * time.Millisecond}, slept); diff != "" {
		t.Errorf("delays:\n%s", diff)
	}
}

func TestFire_UpdatePropsGoesThroughPatch(t *testing.T) {
	in := interp.New(state.New(), nil)
	el := element(t, `{"id":"b","tag":"Button","props":{"label":"Go","events":[
		{"event_type":"onClick","actions":[
			{"id":"p1","type":"update_props","value":{"props":{"label":"Stop"}}},
			{"id":"p2","type":"update_props","value":{"targetId":"t","props":{"children":"done"}}}
		]}
	]}}`)

	type patch struct {
		ID    string
		Props map[string]any
	}
	var got []patch
	res := in.Fire(context.Background(), interp.Firing{
		EventType: "onClick",
		Element:   el,
		Patch: func(id string, props map[string]any) error {
			got = append(got, patch{id, props})
			return nil
		},
	})
	want := []patch{
		{"b", map[string]any{"label": "Stop"}},
		{"t", map[string]any{"children": "done"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("patches (-want +got):\n%s", diff)
	}
	if el.StringProp("label") != "Go" {
		t.Error("element props must not be mutated in place")
	}
	if res.Failed() != 0 {
		t.Errorf("failures: %+v", res.Actions)
	}
}

func TestFire_VisibilityAndModals(t *testing.T) {
	store := state.New()
	host := interp.NewRecordingHost("/")
	in := interp.New(store, host)
	el := element(t, `{"id":"b","tag":"Button","props":{"events":[
		{"event_type":"onClick","actions":[
			{"id":"v","type":"toggle_visibility","value":{"targetId":"panel"}},
			{"id":"m","type":"show_modal","value":{"modalId":"dlg"}},
			{"id":"s","type":"scroll_to","value":{"targetId":"footer"}},
			{"id":"c","type":"copy_to_clipboard","value":{"text":"hello"}}
		]}
	]}}`)

	in.Fire(context.Background(), interp.Firing{EventType: "onClick", Element: el})
	if store.Visible("panel") {
		t.Error("panel should be hidden")
	}
	if !store.ModalOpen("dlg") {
		t.Error("modal should be open")
	}
	want := []interp.Effect{
		{Kind: "show_modal", Target: "dlg"},
		{Kind: "scroll_to", Target: "footer", Value: "smooth"},
		{Kind: "clipboard", Value: "hello"},
	}
	if diff := cmp.Diff(want, host.Drain()); diff != "" {
		t.Errorf("effects (-want +got):\n%s", diff)
	}
}

func TestFire_UnknownActionFails(t *testing.T) {
	in := interp.New(state.New(), nil)
	el := element(t, `{"id":"b","tag":"Button","props":{"events":[
		{"event_type":"onClick","actions":[{"id":"u","type":"launch_rocket","value":{}}]}
	]}}`)
	res := in.Fire(context.Background(), interp.Firing{EventType: "onClick", Element: el})
	if res.Failed() != 1 || !strings.Contains(res.Actions[0].Error, "launch_rocket") {
		t.Errorf("unexpected %+v", res.Actions)
	}
}
