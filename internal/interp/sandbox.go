package interp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dop251/goja"

	"appbuilder/internal/state"
)

// ── Sandbox ────────────────────────────────────────────────
// Guards and custom functions run in a fresh goja runtime per evaluation.
// The only globals a script sees are the ECMAScript builtins and the
// capability surface below; there is no module loader, network or file
// access.
//
//   event      the firing event ({type, payload})
//   element    the firing element ({id, tag, props})
//   elementId, pageId, projectId
//   state      snapshot of the session store taken before the script runs
//   setState   setState(key, value) writes the session store   (functions only)
//   console    log / warn / error, routed to the process log     (functions only)

// ErrScriptTimeout is returned when a script exceeds its time limit.
var ErrScriptTimeout = errors.New("script timed out")

// scope is the read-only part of the capability surface.
type scope struct {
	Event     map[string]any
	Element   map[string]any
	ElementID string
	PageID    string
	ProjectID string
	State     map[string]any
}

type sandbox struct {
	timeout time.Duration
}

// newRuntime builds a runtime with the read-only globals bound.
func (s *sandbox) newRuntime(sc scope) (*goja.Runtime, error) {
	vm := goja.New()
	globals := map[string]any{
		"event":     sc.Event,
		"element":   sc.Element,
		"elementId": sc.ElementID,
		"pageId":    sc.PageID,
		"projectId": sc.ProjectID,
		"state":     sc.State,
	}
	for name, v := range globals {
		if err := vm.Set(name, v); err != nil {
			return nil, fmt.Errorf("bind %s: %w", name, err)
		}
	}
	return vm, nil
}

// run executes src under the time limit and ctx. The VM is interrupted on
// whichever comes first.
func (s *sandbox) run(ctx context.Context, vm *goja.Runtime, src string) (goja.Value, error) {
	timer := time.AfterFunc(s.timeout, func() { vm.Interrupt(ErrScriptTimeout) })
	defer timer.Stop()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	v, err := vm.RunString(src)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			if cause, ok := interrupted.Value().(error); ok {
				return nil, cause
			}
			return nil, ErrScriptTimeout
		}
		return nil, scriptError(err)
	}
	return v, nil
}

// Guard evaluates a condition expression. A throwing guard returns an error.
func (s *sandbox) Guard(ctx context.Context, expr string, sc scope) (bool, error) {
	vm, err := s.newRuntime(sc)
	if err != nil {
		return false, err
	}
	v, err := s.run(ctx, vm, "(function(){ return ("+expr+"); })()")
	if err != nil {
		return false, fmt.Errorf("condition: %w", err)
	}
	return v.ToBoolean(), nil
}

// Call runs a custom function body. Sync and async bodies are both accepted;
// the body is wrapped in an async function so a returned promise is awaited
// by the runtime's job queue before RunString returns.
func (s *sandbox) Call(ctx context.Context, code string, sc scope, store *state.Store) (any, error) {
	vm, err := s.newRuntime(sc)
	if err != nil {
		return nil, err
	}

	stateObj := vm.Get("state").ToObject(vm)
	setState := func(call goja.FunctionCall) goja.Value {
		key := call.Argument(0).String()
		if key == "" {
			panic(vm.NewTypeError("setState: key is required"))
		}
		val := exportJSON(call.Argument(1))
		store.Set(key, val)
		_ = stateObj.Set(key, call.Argument(1))
		return goja.Undefined()
	}
	if err := vm.Set("setState", setState); err != nil {
		return nil, fmt.Errorf("bind setState: %w", err)
	}

	console := vm.NewObject()
	for _, level := range []string{"log", "warn", "error"} {
		level := level
		_ = console.Set(level, func(call goja.FunctionCall) goja.Value {
			args := make([]any, len(call.Arguments))
			for i, a := range call.Arguments {
				args[i] = a.String()
			}
			log.Printf("interp: console.%s %s: %s", level, sc.ElementID, fmt.Sprint(args...))
			return goja.Undefined()
		})
	}
	if err := vm.Set("console", console); err != nil {
		return nil, fmt.Errorf("bind console: %w", err)
	}

	v, err := s.run(ctx, vm, "(async function(){\n"+code+"\n})()")
	if err != nil {
		return nil, err
	}

	p, ok := v.Export().(*goja.Promise)
	if !ok {
		return exportJSON(v), nil
	}
	switch p.State() {
	case goja.PromiseStateFulfilled:
		return exportJSON(p.Result()), nil
	case goja.PromiseStateRejected:
		return nil, fmt.Errorf("rejected: %s", describe(p.Result()))
	default:
		return nil, fmt.Errorf("function did not settle")
	}
}

// exportJSON converts a JS value to plain JSON-shaped Go values.
func exportJSON(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	raw := v.Export()
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Sprint(raw)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Sprint(raw)
	}
	return out
}

func describe(v goja.Value) string {
	if v == nil {
		return "undefined"
	}
	if obj, ok := v.(*goja.Object); ok {
		if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
			return msg.String()
		}
	}
	return v.String()
}

func scriptError(err error) error {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return fmt.Errorf("%s", describe(ex.Value()))
	}
	return err
}
