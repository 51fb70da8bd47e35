// Package syncproto is the message protocol between an authoring context and
// its rendering contexts. Type discriminators and field names are a wire
// contract shared with peers written in other languages and must not change.
package syncproto

import (
	"encoding/json"
	"errors"
	"fmt"

	"appbuilder/internal/domain"
)

// Type is the envelope discriminator.
type Type string

const (
	TypeUpdateElements     Type = "UPDATE_ELEMENTS"
	TypeUpdateElementProps Type = "UPDATE_ELEMENT_PROPS"
	TypeDeleteElement      Type = "DELETE_ELEMENT"
	TypeDeleteElements     Type = "DELETE_ELEMENTS"
	TypeThemeVars          Type = "THEME_VARS"
	TypeUpdateThemeTokens  Type = "UPDATE_THEME_TOKENS"
	TypeAddColumnElements  Type = "ADD_COLUMN_ELEMENTS"
)

var (
	// ErrUnknownType marks an envelope with no or an unrecognized type.
	ErrUnknownType = errors.New("unknown envelope type")
	// ErrMalformed marks a known type whose fields do not match its shape.
	ErrMalformed = errors.New("malformed envelope")
)

// Envelope is one protocol message.
type Envelope interface {
	Type() Type
}

// UpdateElements replaces the receiver's whole collection.
type UpdateElements struct {
	Elements []domain.Element `json:"elements"`
}

// UpdateElementProps patches one element's props. Clock is optional; when
// set, receivers resolve concurrent patches per field by highest clock.
type UpdateElementProps struct {
	ElementID string         `json:"elementId"`
	Props     map[string]any `json:"props"`
	Merge     bool           `json:"merge"`
	Clock     uint64         `json:"clock,omitempty"`
}

// DeleteElement removes one element. Children are not removed implicitly.
type DeleteElement struct {
	ElementID string `json:"elementId"`
}

// DeleteElements removes several elements.
type DeleteElements struct {
	ElementIDs []string `json:"elementIds"`
}

// ThemeVars carries CSS custom properties.
type ThemeVars struct {
	Vars map[string]string `json:"vars"`
}

// UpdateThemeTokens carries a style sheet, either raw CSS text or an object
// of declarations.
type UpdateThemeTokens struct {
	Styles any `json:"styles"`
}

// ColumnPayload is a batch of generated children under one parent.
type ColumnPayload struct {
	ParentID string           `json:"parentId"`
	Elements []domain.Element `json:"elements"`
}

// AddColumnElements bulk-inserts generated children.
type AddColumnElements struct {
	Payload ColumnPayload `json:"payload"`
}

func (UpdateElements) Type() Type     { return TypeUpdateElements }
func (UpdateElementProps) Type() Type { return TypeUpdateElementProps }
func (DeleteElement) Type() Type      { return TypeDeleteElement }
func (DeleteElements) Type() Type     { return TypeDeleteElements }
func (ThemeVars) Type() Type          { return TypeThemeVars }
func (UpdateThemeTokens) Type() Type  { return TypeUpdateThemeTokens }
func (AddColumnElements) Type() Type  { return TypeAddColumnElements }

// Encode writes env as a JSON object with the "type" discriminator first.
func Encode(env Envelope) ([]byte, error) {
	if env == nil {
		return nil, fmt.Errorf("encode envelope: nil")
	}
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", env.Type(), err)
	}
	head, _ := json.Marshal(env.Type())
	out := make([]byte, 0, len(body)+len(head)+9)
	out = append(out, `{"type":`...)
	out = append(out, head...)
	if len(body) > 2 {
		out = append(out, ',')
		out = append(out, body[1:]...)
	} else {
		out = append(out, '}')
	}
	return out, nil
}

// Decode parses one envelope. Unknown types yield ErrUnknownType; known
// types with missing or mistyped fields yield ErrMalformed.
func Decode(data []byte) (Envelope, error) {
	var probe struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownType, err)
	}

	var (
		env   Envelope
		valid bool
		err   error
	)
	switch probe.Type {
	case TypeUpdateElements:
		var e struct {
			Elements *[]domain.Element `json:"elements"`
		}
		err = json.Unmarshal(data, &e)
		valid = e.Elements != nil
		if valid {
			env = UpdateElements{Elements: *e.Elements}
		}
	case TypeUpdateElementProps:
		var e UpdateElementProps
		err = json.Unmarshal(data, &e)
		valid = e.ElementID != "" && e.Props != nil
		env = e
	case TypeDeleteElement:
		var e DeleteElement
		err = json.Unmarshal(data, &e)
		valid = e.ElementID != ""
		env = e
	case TypeDeleteElements:
		var e DeleteElements
		err = json.Unmarshal(data, &e)
		valid = e.ElementIDs != nil
		env = e
	case TypeThemeVars:
		var e ThemeVars
		err = json.Unmarshal(data, &e)
		valid = e.Vars != nil
		env = e
	case TypeUpdateThemeTokens:
		var e UpdateThemeTokens
		err = json.Unmarshal(data, &e)
		switch e.Styles.(type) {
		case string, map[string]any:
			valid = true
		}
		env = e
	case TypeAddColumnElements:
		var e AddColumnElements
		err = json.Unmarshal(data, &e)
		valid = e.Payload.ParentID != ""
		env = e
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, probe.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, probe.Type, err)
	}
	if !valid {
		return nil, fmt.Errorf("%w: %s: missing fields", ErrMalformed, probe.Type)
	}
	return env, nil
}
