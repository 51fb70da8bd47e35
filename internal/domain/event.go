package domain

import (
	"encoding/json"
	"fmt"
)

// ElementEvent is one declared event definition under props.events.
type ElementEvent struct {
	EventType       string   `json:"event_type"`
	Enabled         *bool    `json:"enabled,omitempty"`
	PreventDefault  bool     `json:"preventDefault,omitempty"`
	StopPropagation bool     `json:"stopPropagation,omitempty"`
	Actions         []Action `json:"actions"`
}

// IsEnabled treats a missing flag as enabled.
func (e ElementEvent) IsEnabled() bool { return e.Enabled == nil || *e.Enabled }

// ActionKind is the closed action taxonomy.
type ActionKind string

const (
	ActionNavigate         ActionKind = "navigate"
	ActionUpdateState      ActionKind = "update_state"
	ActionToggleVisibility ActionKind = "toggle_visibility"
	ActionShowModal        ActionKind = "show_modal"
	ActionHideModal        ActionKind = "hide_modal"
	ActionScrollTo         ActionKind = "scroll_to"
	ActionCopyToClipboard  ActionKind = "copy_to_clipboard"
	ActionUpdateProps      ActionKind = "update_props"
	ActionCustomFunction   ActionKind = "custom_function"
)

// Action is one unit of behavior in an event's action list.
type Action struct {
	ID        string          `json:"id"`
	Type      ActionKind      `json:"type"`
	Enabled   *bool           `json:"enabled,omitempty"`
	Condition string          `json:"condition,omitempty"`
	Delay     float64         `json:"delay,omitempty"` // milliseconds
	Value     json.RawMessage `json:"value,omitempty"`
}

// IsEnabled treats a missing flag as enabled.
func (a Action) IsEnabled() bool { return a.Enabled == nil || *a.Enabled }

// DecodeValue unmarshals the kind-specific payload into target.
func (a Action) DecodeValue(target any) error {
	if len(a.Value) == 0 || string(a.Value) == "null" {
		return fmt.Errorf("action %s: missing value", a.ID)
	}
	if err := json.Unmarshal(a.Value, target); err != nil {
		return fmt.Errorf("action %s: decode %s value: %w", a.ID, a.Type, err)
	}
	return nil
}

// NavigateValue routes the host location. NewTab and Replace are exclusive;
// NewTab wins when both are set.
type NavigateValue struct {
	URL     string `json:"url"`
	NewTab  bool   `json:"newTab,omitempty"`
	Replace bool   `json:"replace,omitempty"`
}

// UpdateStateValue writes a state key. With Merge set and both the existing
// and new values being objects, the new value is shallow-merged.
type UpdateStateValue struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
	Merge bool   `json:"merge,omitempty"`
}

// TargetValue addresses another element; Visible optionally forces a state.
type TargetValue struct {
	TargetID string `json:"targetId"`
	Visible  *bool  `json:"visible,omitempty"`
	Behavior string `json:"behavior,omitempty"`
}

// ModalValue names a modal element.
type ModalValue struct {
	ModalID string `json:"modalId"`
}

// ClipboardValue carries the text to copy.
type ClipboardValue struct {
	Text string `json:"text"`
}

// UpdatePropsValue is a partial props patch for a target element. An empty
// TargetID addresses the firing element.
type UpdatePropsValue struct {
	TargetID string         `json:"targetId,omitempty"`
	Props    map[string]any `json:"props"`
}

// CustomFunctionValue is a user-authored script body.
type CustomFunctionValue struct {
	Code string `json:"code"`
}
