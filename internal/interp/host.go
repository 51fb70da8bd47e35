package interp

import (
	"context"
	"log"
	"sync"
)

// Host performs the side effects actions ask of the rendering context.
// Implementations must be safe for use from the goroutine running Fire.
type Host interface {
	// Navigate moves the current location; replace swaps the history entry.
	Navigate(ctx context.Context, url string, replace bool) error
	// OpenWindow opens url in a new browsing context. The current location
	// is untouched.
	OpenWindow(ctx context.Context, url string) error
	ScrollTo(ctx context.Context, targetID, behavior string) error
	WriteClipboard(ctx context.Context, text string) error
	ShowModal(ctx context.Context, modalID string) error
	HideModal(ctx context.Context, modalID string) error
}

// LogHost logs every effect and succeeds. It is the host of headless
// contexts that have nowhere to navigate or scroll.
type LogHost struct{}

func (LogHost) Navigate(_ context.Context, url string, replace bool) error {
	log.Printf("interp: navigate %s (replace=%v)", url, replace)
	return nil
}

func (LogHost) OpenWindow(_ context.Context, url string) error {
	log.Printf("interp: open window %s", url)
	return nil
}

func (LogHost) ScrollTo(_ context.Context, targetID, behavior string) error {
	log.Printf("interp: scroll to %s (%s)", targetID, behavior)
	return nil
}

func (LogHost) WriteClipboard(_ context.Context, text string) error {
	log.Printf("interp: clipboard <- %d bytes", len(text))
	return nil
}

func (LogHost) ShowModal(_ context.Context, modalID string) error {
	log.Printf("interp: show modal %s", modalID)
	return nil
}

func (LogHost) HideModal(_ context.Context, modalID string) error {
	log.Printf("interp: hide modal %s", modalID)
	return nil
}

// Effect is one host call captured by RecordingHost.
type Effect struct {
	Kind   string `json:"kind"`
	Target string `json:"target,omitempty"`
	Value  string `json:"value,omitempty"`
}

// RecordingHost remembers every effect and tracks the current location and
// opened windows. Preview sessions return the recorded effects to clients.
type RecordingHost struct {
	mu        sync.Mutex
	location  string
	windows   []string
	clipboard string
	effects   []Effect
}

// NewRecordingHost creates a host whose location starts at start.
func NewRecordingHost(start string) *RecordingHost {
	return &RecordingHost{location: start}
}

func (h *RecordingHost) record(e Effect) {
	h.effects = append(h.effects, e)
}

func (h *RecordingHost) Navigate(_ context.Context, url string, replace bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.location = url
	kind := "navigate"
	if replace {
		kind = "replace"
	}
	h.record(Effect{Kind: kind, Value: url})
	return nil
}

func (h *RecordingHost) OpenWindow(_ context.Context, url string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.windows = append(h.windows, url)
	h.record(Effect{Kind: "open_window", Value: url})
	return nil
}

func (h *RecordingHost) ScrollTo(_ context.Context, targetID, behavior string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record(Effect{Kind: "scroll_to", Target: targetID, Value: behavior})
	return nil
}

func (h *RecordingHost) WriteClipboard(_ context.Context, text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clipboard = text
	h.record(Effect{Kind: "clipboard", Value: text})
	return nil
}

func (h *RecordingHost) ShowModal(_ context.Context, modalID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record(Effect{Kind: "show_modal", Target: modalID})
	return nil
}

func (h *RecordingHost) HideModal(_ context.Context, modalID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record(Effect{Kind: "hide_modal", Target: modalID})
	return nil
}

// Location returns the current location.
func (h *RecordingHost) Location() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.location
}

// Windows returns the URLs opened in new browsing contexts.
func (h *RecordingHost) Windows() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.windows...)
}

// Clipboard returns the last copied text.
func (h *RecordingHost) Clipboard() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clipboard
}

// Drain returns and clears the recorded effects.
func (h *RecordingHost) Drain() []Effect {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.effects
	h.effects = nil
	return out
}
