package domain

import "strings"

// ElementKind is the closed set of element kinds the runtime dispatches on.
// Tags that do not map onto a kind resolve to KindUnknown and render nothing.
type ElementKind int

const (
	KindUnknown ElementKind = iota
	KindPanel
	KindText
	KindButton
	KindLink
	KindImage
	KindInput
	KindSelect
	KindModal
	KindListBox
	KindTabs
	KindTab
	KindTabPanel
	KindTree
	KindTreeItem
	KindTagGroup
	KindTag
	KindTable
	KindColumn
)

var kindNames = [...]string{
	KindUnknown:  "Unknown",
	KindPanel:    "Panel",
	KindText:     "Text",
	KindButton:   "Button",
	KindLink:     "Link",
	KindImage:    "Image",
	KindInput:    "Input",
	KindSelect:   "Select",
	KindModal:    "Modal",
	KindListBox:  "ListBox",
	KindTabs:     "Tabs",
	KindTab:      "Tab",
	KindTabPanel: "TabPanel",
	KindTree:     "Tree",
	KindTreeItem: "TreeItem",
	KindTagGroup: "TagGroup",
	KindTag:      "Tag",
	KindTable:    "Table",
	KindColumn:   "Column",
}

// legacy tag spellings still found in older projects
var kindAliases = map[string]ElementKind{
	"div":       KindPanel,
	"section":   KindPanel,
	"card":      KindPanel,
	"span":      KindText,
	"p":         KindText,
	"label":     KindText,
	"heading":   KindText,
	"a":         KindLink,
	"img":       KindImage,
	"textfield": KindInput,
	"combobox":  KindSelect,
	"dialog":    KindModal,
	"listview":  KindListBox,
	"gridlist":  KindListBox,
	"tablist":   KindTabs,
	"taglist":   KindTagGroup,
}

var kindsByName = func() map[string]ElementKind {
	m := make(map[string]ElementKind, len(kindNames)+len(kindAliases))
	for k, name := range kindNames {
		if ElementKind(k) == KindUnknown {
			continue
		}
		m[strings.ToLower(name)] = ElementKind(k)
	}
	for alias, k := range kindAliases {
		m[alias] = k
	}
	return m
}()

// ParseKind maps a stored tag onto its kind, case-insensitively.
func ParseKind(tag string) ElementKind {
	k, ok := kindsByName[strings.ToLower(strings.TrimSpace(tag))]
	if !ok {
		return KindUnknown
	}
	return k
}

func (k ElementKind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return kindNames[KindUnknown]
	}
	return kindNames[k]
}
