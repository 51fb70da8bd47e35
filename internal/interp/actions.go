package interp

import (
	"context"
	"fmt"

	"appbuilder/internal/domain"
	"appbuilder/internal/state"
)

// ── Action handlers ────────────────────────────────────────
// The action taxonomy is closed; unknown kinds fail the action.

type handlerFunc func(in *Interpreter, ctx context.Context, f Firing, a domain.Action) (any, error)

var handlers = map[domain.ActionKind]handlerFunc{
	domain.ActionNavigate:         navigate,
	domain.ActionUpdateState:      updateState,
	domain.ActionToggleVisibility: toggleVisibility,
	domain.ActionShowModal:        showModal,
	domain.ActionHideModal:        hideModal,
	domain.ActionScrollTo:         scrollTo,
	domain.ActionCopyToClipboard:  copyToClipboard,
	domain.ActionUpdateProps:      updateProps,
	domain.ActionCustomFunction:   customFunction,
}

func navigate(in *Interpreter, ctx context.Context, _ Firing, a domain.Action) (any, error) {
	var v domain.NavigateValue
	if err := a.DecodeValue(&v); err != nil {
		return nil, err
	}
	if v.URL == "" {
		return nil, fmt.Errorf("navigate: url is required")
	}
	if v.NewTab {
		return nil, in.host.OpenWindow(ctx, v.URL)
	}
	return nil, in.host.Navigate(ctx, v.URL, v.Replace)
}

func updateState(in *Interpreter, _ context.Context, _ Firing, a domain.Action) (any, error) {
	var v domain.UpdateStateValue
	if err := a.DecodeValue(&v); err != nil {
		return nil, err
	}
	if v.Key == "" {
		return nil, fmt.Errorf("update_state: key is required")
	}
	if v.Merge {
		return in.store.Merge(v.Key, v.Value), nil
	}
	in.store.Set(v.Key, v.Value)
	return v.Value, nil
}

// decodeTarget accepts an empty value and defaults the target to the firing
// element.
func decodeTarget(f Firing, a domain.Action) (domain.TargetValue, error) {
	var v domain.TargetValue
	if len(a.Value) > 0 {
		if err := a.DecodeValue(&v); err != nil {
			return v, err
		}
	}
	if v.TargetID == "" {
		v.TargetID = f.Element.ID
	}
	return v, nil
}

func toggleVisibility(in *Interpreter, _ context.Context, f Firing, a domain.Action) (any, error) {
	v, err := decodeTarget(f, a)
	if err != nil {
		return nil, err
	}
	next := !in.store.Visible(v.TargetID)
	if v.Visible != nil {
		next = *v.Visible
	}
	in.store.Set(state.VisibilityKey(v.TargetID), next)
	return next, nil
}

func showModal(in *Interpreter, ctx context.Context, _ Firing, a domain.Action) (any, error) {
	var v domain.ModalValue
	if err := a.DecodeValue(&v); err != nil {
		return nil, err
	}
	if v.ModalID == "" {
		return nil, fmt.Errorf("show_modal: modalId is required")
	}
	in.store.Set(state.ModalKey(v.ModalID), true)
	return nil, in.host.ShowModal(ctx, v.ModalID)
}

func hideModal(in *Interpreter, ctx context.Context, _ Firing, a domain.Action) (any, error) {
	var v domain.ModalValue
	if err := a.DecodeValue(&v); err != nil {
		return nil, err
	}
	if v.ModalID == "" {
		return nil, fmt.Errorf("hide_modal: modalId is required")
	}
	in.store.Set(state.ModalKey(v.ModalID), false)
	return nil, in.host.HideModal(ctx, v.ModalID)
}

func scrollTo(in *Interpreter, ctx context.Context, f Firing, a domain.Action) (any, error) {
	v, err := decodeTarget(f, a)
	if err != nil {
		return nil, err
	}
	if v.Behavior == "" {
		v.Behavior = "smooth"
	}
	return nil, in.host.ScrollTo(ctx, v.TargetID, v.Behavior)
}

func copyToClipboard(in *Interpreter, ctx context.Context, _ Firing, a domain.Action) (any, error) {
	var v domain.ClipboardValue
	if err := a.DecodeValue(&v); err != nil {
		return nil, err
	}
	return nil, in.host.WriteClipboard(ctx, v.Text)
}

func updateProps(_ *Interpreter, _ context.Context, f Firing, a domain.Action) (any, error) {
	var v domain.UpdatePropsValue
	if err := a.DecodeValue(&v); err != nil {
		return nil, err
	}
	if v.TargetID == "" {
		v.TargetID = f.Element.ID
	}
	if f.Patch == nil {
		return nil, fmt.Errorf("update_props: no patch callback in this context")
	}
	if err := f.Patch(v.TargetID, domain.CloneProps(v.Props)); err != nil {
		return nil, fmt.Errorf("update_props %s: %w", v.TargetID, err)
	}
	return nil, nil
}

func customFunction(in *Interpreter, ctx context.Context, f Firing, a domain.Action) (any, error) {
	var v domain.CustomFunctionValue
	if err := a.DecodeValue(&v); err != nil {
		return nil, err
	}
	out, err := in.sandbox.Call(ctx, v.Code, in.scope(f), in.store)
	if err != nil {
		return nil, fmt.Errorf("custom_function: %w", err)
	}
	return out, nil
}
