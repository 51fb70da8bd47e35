package domain

// PageState is everything a rendering context needs to draw a page.
type PageState struct {
	Page     Page              `json:"page"`
	Elements []Element         `json:"elements"`
	Theme    map[string]string `json:"theme,omitempty"`
}
