package interp

import (
	"context"
	"fmt"
	"log"
	"time"

	"appbuilder/internal/domain"
	"appbuilder/internal/state"
)

// Status is the outcome of one action.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// PatchFunc applies a partial props patch to an element in the firing
// context. The interpreter never writes element props itself.
type PatchFunc func(elementID string, props map[string]any) error

// EventState is the originating event. PreventDefault and StopPropagation
// are recorded on it before any action runs.
type EventState struct {
	DefaultPrevented   bool           `json:"defaultPrevented"`
	PropagationStopped bool           `json:"propagationStopped"`
	Payload            map[string]any `json:"payload,omitempty"`
}

// Firing is one event delivered to an element.
type Firing struct {
	EventType string
	Event     *EventState
	Element   *domain.Element
	PageID    string
	ProjectID string
	Patch     PatchFunc
}

// ActionResult reports one action.
type ActionResult struct {
	ActionID string            `json:"actionId"`
	Kind     domain.ActionKind `json:"kind"`
	Status   Status            `json:"status"`
	Error    string            `json:"error,omitempty"`
	Output   any               `json:"output,omitempty"`
	Elapsed  time.Duration     `json:"elapsed"`
}

// Result reports a whole firing.
type Result struct {
	EventType          string         `json:"eventType"`
	Matched            int            `json:"matched"`
	DefaultPrevented   bool           `json:"defaultPrevented"`
	PropagationStopped bool           `json:"propagationStopped"`
	Actions            []ActionResult `json:"actions"`
	Elapsed            time.Duration  `json:"elapsed"`
}

// Failed counts failed actions.
func (r Result) Failed() int {
	n := 0
	for _, a := range r.Actions {
		if a.Status == StatusFailed {
			n++
		}
	}
	return n
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithScriptTimeout bounds guards and custom functions.
func WithScriptTimeout(d time.Duration) Option {
	return func(in *Interpreter) { in.sandbox.timeout = d }
}

// WithSleep replaces the delay implementation.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(in *Interpreter) { in.sleep = sleep }
}

// Interpreter executes declared element events. It holds no per-firing
// state; one Interpreter serves a whole session.
type Interpreter struct {
	store   *state.Store
	host    Host
	sandbox sandbox
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates an Interpreter over a session store. host may be nil, in which
// case effects are logged.
func New(store *state.Store, host Host, opts ...Option) *Interpreter {
	if host == nil {
		host = LogHost{}
	}
	in := &Interpreter{
		store:   store,
		host:    host,
		sandbox: sandbox{timeout: 2 * time.Second},
		sleep:   sleepCtx,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fire matches f against the element's events and runs their actions in
// declared order. Unmatched firings return an empty result. Action errors
// are recorded, never returned.
func (in *Interpreter) Fire(ctx context.Context, f Firing) Result {
	start := time.Now()
	res := Result{EventType: f.EventType, Actions: []ActionResult{}}
	if f.Element == nil {
		return res
	}
	if f.Event == nil {
		f.Event = &EventState{}
	}

	for _, ev := range f.Element.Events() {
		if ev.EventType != f.EventType || !ev.IsEnabled() {
			continue
		}
		res.Matched++
		if ev.PreventDefault {
			f.Event.DefaultPrevented = true
		}
		if ev.StopPropagation {
			f.Event.PropagationStopped = true
		}
		for _, a := range ev.Actions {
			res.Actions = append(res.Actions, in.runAction(ctx, f, a))
		}
	}

	res.DefaultPrevented = f.Event.DefaultPrevented
	res.PropagationStopped = f.Event.PropagationStopped
	res.Elapsed = time.Since(start)
	if res.Matched > 0 {
		log.Printf("interp: %s on %s: %d actions, %d failed (%s)",
			f.EventType, f.Element.ID, len(res.Actions), res.Failed(), res.Elapsed)
	}
	return res
}

func (in *Interpreter) runAction(ctx context.Context, f Firing, a domain.Action) (out ActionResult) {
	start := time.Now()
	out = ActionResult{ActionID: a.ID, Kind: a.Type}
	defer func() {
		if r := recover(); r != nil {
			out.Status = StatusFailed
			out.Error = fmt.Sprintf("panic: %v", r)
			log.Printf("interp: action %s panicked: %v", a.ID, r)
		}
		out.Elapsed = time.Since(start)
	}()

	if !a.IsEnabled() {
		out.Status = StatusSkipped
		return out
	}
	if a.Condition != "" {
		ok, err := in.sandbox.Guard(ctx, a.Condition, in.scope(f))
		if err != nil {
			out.Status = StatusFailed
			out.Error = err.Error()
			return out
		}
		if !ok {
			out.Status = StatusSkipped
			return out
		}
	}
	if a.Delay > 0 {
		if err := in.sleep(ctx, time.Duration(a.Delay*float64(time.Millisecond))); err != nil {
			out.Status = StatusFailed
			out.Error = fmt.Sprintf("delay: %v", err)
			return out
		}
	}

	handler, ok := handlers[a.Type]
	if !ok {
		out.Status = StatusFailed
		out.Error = fmt.Sprintf("unknown action type %q", a.Type)
		return out
	}
	output, err := handler(in, ctx, f, a)
	if err != nil {
		out.Status = StatusFailed
		out.Error = err.Error()
		return out
	}
	out.Status = StatusSuccess
	out.Output = output
	return out
}

// scope captures the script-visible view of a firing. The state snapshot is
// taken per call so a guard sees writes made by earlier actions.
func (in *Interpreter) scope(f Firing) scope {
	el := map[string]any{
		"id":    f.Element.ID,
		"tag":   f.Element.Tag,
		"props": domain.CloneProps(f.Element.Props),
	}
	ev := map[string]any{"type": f.EventType}
	if f.Event != nil && f.Event.Payload != nil {
		ev["payload"] = domain.CloneProps(f.Event.Payload)
	}
	return scope{
		Event:     ev,
		Element:   el,
		ElementID: f.Element.ID,
		PageID:    f.PageID,
		ProjectID: f.ProjectID,
		State:     in.store.Snapshot(),
	}
}
