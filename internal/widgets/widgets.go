// Package widgets is the default renderer set for the element kinds.
// Hosts may replace any entry of Default() with their own renderer.
package widgets

import (
	"fmt"
	"strings"

	"appbuilder/internal/domain"
	"appbuilder/internal/render"
)

// Default returns a fresh registry with every built-in widget.
func Default() render.Registry {
	return render.Registry{
		domain.KindPanel:    Panel,
		domain.KindText:     Text,
		domain.KindButton:   Button,
		domain.KindLink:     Link,
		domain.KindImage:    Image,
		domain.KindInput:    Input,
		domain.KindSelect:   Select,
		domain.KindModal:    Modal,
		domain.KindListBox:  ListBox,
		domain.KindTable:    Table,
		domain.KindColumn:   Column,
		domain.KindTabs:     Tabs,
		domain.KindTab:      Tab,
		domain.KindTabPanel: TabPanel,
		domain.KindTree:     Tree,
		domain.KindTreeItem: TreeItem,
		domain.KindTagGroup: TagGroup,
		domain.KindTag:      Tag,
	}
}

// base copies the presentational props every widget honors.
func base(tag string, el domain.Element) *render.Node {
	n := render.El(tag)
	n.Set("class", el.StringProp("className"))
	n.Set("style", styleAttr(el.Prop("style")))
	n.Set("title", el.StringProp("tooltip"))
	return n
}

// styleAttr accepts a CSS string or an object of declarations.
func styleAttr(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case map[string]any:
		keys := sortedKeys(s)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s: %v", cssName(k), s[k]))
		}
		return strings.Join(parts, "; ")
	default:
		return ""
	}
}

// cssName turns backgroundColor into background-color.
func cssName(k string) string {
	var b strings.Builder
	for i, r := range k {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// label picks the first non-empty display prop.
func label(el domain.Element, keys ...string) string {
	for _, k := range keys {
		if s := el.StringProp(k); s != "" {
			return s
		}
	}
	return ""
}

// key identifies a leaf inside a composite: props.key, props.tabId or the id.
func key(el domain.Element) string {
	if k := label(el, "key", "tabId", "value"); k != "" {
		return k
	}
	return el.ID
}

// ── Leaf widgets ───────────────────────────────────────────

func Panel(el domain.Element, ctx render.Context) *render.Node {
	tag := "div"
	switch el.StringProp("variant") {
	case "section", "header", "footer", "nav", "aside", "form":
		tag = el.StringProp("variant")
	}
	return base(tag, el).Append(ctx.Children(el)...)
}

func Text(el domain.Element, ctx render.Context) *render.Node {
	tag := "span"
	switch el.StringProp("variant") {
	case "heading":
		tag = fmt.Sprintf("h%d", clampLevel(el.Prop("level")))
	case "paragraph":
		tag = "p"
	case "label":
		tag = "label"
	}
	return base(tag, el).WithText(el.StringProp("children")).Append(ctx.Children(el)...)
}

func clampLevel(v any) int {
	f, ok := v.(float64)
	if !ok || f < 1 {
		return 2
	}
	if f > 6 {
		return 6
	}
	return int(f)
}

func Button(el domain.Element, ctx render.Context) *render.Node {
	n := base("button", el).WithText(label(el, "label", "children"))
	n.Set("type", "button")
	if el.BoolProp("disabled") {
		n.Set("disabled", "disabled")
	}
	return n.Append(ctx.Children(el)...)
}

func Link(el domain.Element, ctx render.Context) *render.Node {
	n := base("a", el).WithText(label(el, "label", "children", "href"))
	n.Set("href", el.StringProp("href"))
	if el.BoolProp("newTab") {
		n.Set("target", "_blank")
		n.Set("rel", "noopener")
	}
	return n.Append(ctx.Children(el)...)
}

func Image(el domain.Element, _ render.Context) *render.Node {
	n := base("img", el)
	n.Set("src", el.StringProp("src"))
	n.Set("alt", el.StringProp("alt"))
	return n
}

// Input shows the value at props.stateKey when set, else props.value.
func Input(el domain.Element, ctx render.Context) *render.Node {
	n := base("input", el)
	typ := el.StringProp("type")
	if typ == "" {
		typ = "text"
	}
	n.Set("type", typ)
	n.Set("name", label(el, "name", "stateKey"))
	n.Set("placeholder", el.StringProp("placeholder"))
	value := ctx.StateString(el.StringProp("stateKey"))
	if value == "" {
		value = el.StringProp("value")
	}
	n.Set("value", value)
	if el.BoolProp("disabled") {
		n.Set("disabled", "disabled")
	}
	return n
}

// Modal renders only while state modal:<id> is true or props.isOpen is set.
func Modal(el domain.Element, ctx render.Context) *render.Node {
	open := el.BoolProp("isOpen")
	if ctx.State != nil && ctx.State.ModalOpen(el.ID) {
		open = true
	}
	if !open {
		return nil
	}
	n := base("dialog", el)
	n.Set("open", "open")
	n.Set("aria-modal", "true")
	if title := el.StringProp("title"); title != "" {
		n.Append(render.El("h2").WithText(title))
	}
	return n.Append(ctx.Children(el)...)
}
