package domain

import (
	"encoding/json"
	"fmt"
)

// Element is one node of the declarative UI tree. Elements never reference
// their children; structure is derived from ParentID and OrderNum.
type Element struct {
	ID          string             `json:"id"`
	Tag         string             `json:"tag"`
	Props       map[string]any     `json:"props"`
	ParentID    *string            `json:"parent_id"`
	PageID      string             `json:"page_id"`
	OrderNum    float64            `json:"order_num"`
	DataBinding *BindingDescriptor `json:"dataBinding,omitempty"`
	Deleted     bool               `json:"deleted,omitempty"`
}

// Kind returns the element's effective kind. An explicit props.as override
// wins over the stored tag.
func (e Element) Kind() ElementKind {
	if as, ok := e.Props["as"].(string); ok && as != "" {
		if k := ParseKind(as); k != KindUnknown {
			return k
		}
	}
	return ParseKind(e.Tag)
}

// Parent returns the parent id, or "" for roots.
func (e Element) Parent() string {
	if e.ParentID == nil {
		return ""
	}
	return *e.ParentID
}

// IsChildOf reports whether the element sits directly under parentID.
// An empty parentID matches roots.
func (e Element) IsChildOf(parentID string) bool {
	return e.Parent() == parentID
}

// Prop returns a raw prop value.
func (e Element) Prop(key string) any {
	if e.Props == nil {
		return nil
	}
	return e.Props[key]
}

// StringProp returns a string prop or "".
func (e Element) StringProp(key string) string {
	switch v := e.Prop(key).(type) {
	case string:
		return v
	case nil:
		return ""
	case float64, bool, int:
		return fmt.Sprint(v)
	default:
		return ""
	}
}

// BoolProp returns a bool prop; missing or non-bool values are false.
func (e Element) BoolProp(key string) bool {
	b, _ := e.Prop(key).(bool)
	return b
}

// StringsProp returns a string list prop, accepting both []string and the
// []any produced by JSON decoding.
func (e Element) StringsProp(key string) []string {
	switch v := e.Prop(key).(type) {
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Events decodes props.events. It is decoded fresh on every call; there is no
// cached form. Malformed event lists yield nil.
func (e Element) Events() []ElementEvent {
	raw, ok := e.Props["events"]
	if !ok || raw == nil {
		return nil
	}
	var events []ElementEvent
	switch v := raw.(type) {
	case []ElementEvent:
		return v
	case json.RawMessage:
		if err := json.Unmarshal(v, &events); err != nil {
			return nil
		}
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		if err := json.Unmarshal(data, &events); err != nil {
			return nil
		}
	}
	return events
}

// Clone returns a deep copy so callers can mutate without touching the source.
func (e Element) Clone() Element {
	c := e
	c.Props = CloneProps(e.Props)
	if e.ParentID != nil {
		p := *e.ParentID
		c.ParentID = &p
	}
	if e.DataBinding != nil {
		b := *e.DataBinding
		c.DataBinding = &b
	}
	return c
}

// CloneProps deep-copies a JSON-shaped props map.
func CloneProps(props map[string]any) map[string]any {
	if props == nil {
		return nil
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies JSON-shaped values (maps, slices, scalars).
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneProps(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = CloneValue(item)
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	default:
		return v
	}
}

// StringPtr is a small helper for building ParentID values.
func StringPtr(s string) *string { return &s }

// ElementStore is the persistence collaborator for element collections.
type ElementStore interface {
	CreateElement(e *Element) error
	GetElement(id string) (*Element, error)
	ListElements(pageID string) ([]Element, error)
	UpdateElement(e *Element) error
	DeleteElement(id string) error
	SoftDeleteElement(id string) error
	ReplacePageElements(pageID string, elements []Element) error
}
