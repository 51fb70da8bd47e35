package render

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Node is the presentational output of rendering one element.
type Node struct {
	Kind     string            `json:"kind"`
	ID       string            `json:"id,omitempty"`
	Tag      string            `json:"tag"` // HTML element name
	Attrs    map[string]string `json:"attrs,omitempty"`
	Text     string            `json:"text,omitempty"`
	Events   []string          `json:"events,omitempty"`
	Children []*Node           `json:"children,omitempty"`
}

// El builds a node with an HTML tag and optional children; nil children are
// dropped.
func El(tag string, children ...*Node) *Node {
	n := &Node{Tag: tag}
	n.Append(children...)
	return n
}

// Append adds non-nil children.
func (n *Node) Append(children ...*Node) *Node {
	for _, c := range children {
		if c != nil {
			n.Children = append(n.Children, c)
		}
	}
	return n
}

// Set sets an attribute and returns n for chaining. Empty values are skipped.
func (n *Node) Set(key, value string) *Node {
	if value == "" {
		return n
	}
	if n.Attrs == nil {
		n.Attrs = make(map[string]string)
	}
	n.Attrs[key] = value
	return n
}

// WithText sets the text content.
func (n *Node) WithText(s string) *Node {
	n.Text = s
	return n
}

// Find returns the first node in pre-order with the given element id.
func (n *Node) Find(id string) *Node {
	if n == nil {
		return nil
	}
	if n.ID == id {
		return n
	}
	for _, c := range n.Children {
		if f := c.Find(id); f != nil {
			return f
		}
	}
	return nil
}

// ── HTML ───────────────────────────────────────────────────

// HTML writes the node tree as HTML. Element ids, kinds and declared event
// types are carried as data-* attributes so a client script can attach
// listeners.
func (n *Node) HTML(w io.Writer) error {
	if n == nil {
		return nil
	}
	if err := html.Render(w, n.htmlNode()); err != nil {
		return fmt.Errorf("render html: %w", err)
	}
	return nil
}

// String returns the HTML form, for logs and tests.
func (n *Node) String() string {
	var b strings.Builder
	_ = n.HTML(&b)
	return b.String()
}

func (n *Node) htmlNode() *html.Node {
	tag := n.Tag
	if tag == "" {
		tag = "div"
	}
	hn := &html.Node{
		Type:     html.ElementNode,
		Data:     tag,
		DataAtom: atom.Lookup([]byte(tag)),
	}

	keys := make([]string, 0, len(n.Attrs))
	for k := range n.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if n.ID != "" {
		hn.Attr = append(hn.Attr, html.Attribute{Key: "data-element-id", Val: n.ID})
	}
	if n.Kind != "" {
		hn.Attr = append(hn.Attr, html.Attribute{Key: "data-kind", Val: n.Kind})
	}
	if len(n.Events) > 0 {
		hn.Attr = append(hn.Attr, html.Attribute{Key: "data-events", Val: strings.Join(n.Events, " ")})
	}
	for _, k := range keys {
		hn.Attr = append(hn.Attr, html.Attribute{Key: k, Val: n.Attrs[k]})
	}

	if n.Text != "" && !isVoid(tag) {
		hn.AppendChild(&html.Node{Type: html.TextNode, Data: n.Text})
	}
	if !isVoid(tag) {
		for _, c := range n.Children {
			hn.AppendChild(c.htmlNode())
		}
	}
	return hn
}

func isVoid(tag string) bool {
	switch tag {
	case "img", "input", "br", "hr", "meta", "link":
		return true
	}
	return false
}
