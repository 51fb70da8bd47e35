package widgets

import (
	"fmt"
	"sort"

	"appbuilder/internal/binding"
	"appbuilder/internal/domain"
	"appbuilder/internal/render"
)

// ── Data-bound widgets ─────────────────────────────────────
// Bound widgets never fail the tree: while loading they render a busy
// placeholder, on error an alert next to whatever data (fallback or stale)
// is available.

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func cell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprint(t)
	}
}

// status appends loading and error affordances to n and reports whether
// rows should be drawn.
func status(n *render.Node, res binding.Result) bool {
	if res.Loading {
		n.Set("aria-busy", "true")
		if len(res.Data) == 0 {
			n.Append(render.El("div").Set("class", "loading").Set("role", "status").WithText("Loading…"))
			return false
		}
	}
	if res.Error != "" {
		n.Append(render.El("div").Set("class", "error").Set("role", "alert").WithText(res.Error))
		if res.Fallback {
			n.Set("data-fallback", "true")
		}
	}
	return len(res.Data) > 0
}

// option is one choice of a Select or ListBox.
type option struct {
	value string
	label string
}

// options reads props.options (strings or {value,label} objects), then the
// binding rows using props.valueKey / props.labelKey.
func options(el domain.Element, rows []domain.Record) []option {
	var out []option
	if raw, ok := el.Prop("options").([]any); ok {
		for _, item := range raw {
			switch o := item.(type) {
			case string:
				out = append(out, option{value: o, label: o})
			case map[string]any:
				v := cell(o["value"])
				l := cell(o["label"])
				if l == "" {
					l = v
				}
				out = append(out, option{value: v, label: l})
			}
		}
	}
	valueKey := el.StringProp("valueKey")
	labelKey := el.StringProp("labelKey")
	for _, r := range rows {
		v, l := rowValue(r, valueKey), rowValue(r, labelKey)
		if l == "" {
			l = v
		}
		out = append(out, option{value: v, label: l})
	}
	return out
}

// rowValue reads key from r, or the first column when key is empty.
func rowValue(r domain.Record, key string) string {
	if key != "" {
		return cell(r[key])
	}
	if v, ok := r["value"]; ok {
		return cell(v)
	}
	cols := binding.InferColumns([]domain.Record{r})
	if len(cols) == 0 {
		return ""
	}
	return cell(r[cols[0]])
}

// Select shows the value at state props.stateKey, falling back to
// props.selectedKey.
func Select(el domain.Element, ctx render.Context) *render.Node {
	n := base("select", el)
	n.Set("name", label(el, "name", "stateKey"))
	res := ctx.Binding(el)
	status(n, res)

	selected := ctx.StateString(el.StringProp("stateKey"))
	if selected == "" {
		selected = el.StringProp("selectedKey")
	}
	if ph := el.StringProp("placeholder"); ph != "" {
		n.Append(render.El("option").Set("value", "").WithText(ph))
	}
	for _, o := range options(el, res.Data) {
		opt := render.El("option").Set("value", o.value).WithText(o.label)
		if o.value == selected {
			opt.Set("selected", "selected")
		}
		n.Append(opt)
	}
	return n
}

// ListBox lists binding rows followed by any static children.
func ListBox(el domain.Element, ctx render.Context) *render.Node {
	n := base("ul", el)
	n.Set("role", "listbox")
	res := ctx.Binding(el)
	selected := map[string]bool{}
	for _, k := range el.StringsProp("selectedKeys") {
		selected[k] = true
	}
	if status(n, res) {
		for _, o := range options(el, res.Data) {
			li := render.El("li").Set("role", "option").Set("data-key", o.value).WithText(o.label)
			if selected[o.value] {
				li.Set("aria-selected", "true")
			}
			n.Append(li)
		}
	}
	for _, c := range ctx.Children(el) {
		n.Append(render.El("li").Set("role", "option").Append(c))
	}
	return n
}

// column is one rendered table column.
type column struct {
	field  string
	header string
	width  string
}

// tableColumns uses child Column elements; without any, the columns are
// inferred from the rows.
func tableColumns(el domain.Element, ctx render.Context, rows []domain.Record) []column {
	var cols []column
	if ctx.Elements != nil {
		for _, c := range ctx.Elements.ChildrenOfKind(el.ID, domain.KindColumn) {
			if ctx.State != nil && !ctx.State.Visible(c.ID) {
				continue
			}
			field := label(c, "field", "dataKey", "key")
			cols = append(cols, column{
				field:  field,
				header: label(c, "header", "label", "children", "field", "dataKey"),
				width:  c.StringProp("width"),
			})
		}
	}
	if len(cols) > 0 {
		return cols
	}
	for _, name := range binding.InferColumns(rows) {
		cols = append(cols, column{field: name, header: name})
	}
	return cols
}

// Table draws a header from its columns and one row per record.
func Table(el domain.Element, ctx render.Context) *render.Node {
	wrap := base("div", el).Set("role", "region")
	res := ctx.Binding(el)
	hasRows := status(wrap, res)
	cols := tableColumns(el, ctx, res.Data)

	head := render.El("tr")
	for _, c := range cols {
		th := render.El("th").Set("scope", "col").Set("data-field", c.field).WithText(c.header)
		th.Set("style", widthStyle(c.width))
		head.Append(th)
	}
	table := render.El("table", render.El("thead", head))
	body := render.El("tbody")
	if hasRows {
		for i, r := range res.Data {
			tr := render.El("tr").Set("data-row", fmt.Sprint(i))
			for _, c := range cols {
				tr.Append(render.El("td").WithText(cell(r[c.field])))
			}
			body.Append(tr)
		}
	} else if !res.Loading && res.Error == "" {
		empty := el.StringProp("emptyText")
		if empty == "" {
			empty = "No data"
		}
		body.Append(render.El("tr", render.El("td").Set("colspan", fmt.Sprint(max(len(cols), 1))).WithText(empty)))
	}
	table.Append(body)
	return wrap.Append(table)
}

func widthStyle(w string) string {
	if w == "" {
		return ""
	}
	return "width: " + w
}

// Column outside a Table renders as a bare header cell.
func Column(el domain.Element, _ render.Context) *render.Node {
	return base("th", el).WithText(label(el, "header", "label", "children", "field"))
}
