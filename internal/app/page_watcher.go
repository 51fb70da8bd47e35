package app

import (
	"context"
	"log"
	"sync"
	"time"

	"appbuilder/internal/domain"
)

// fingerprinter reports a value that changes whenever a page's stored
// elements change (count + max updated_at).
type fingerprinter interface {
	Fingerprint(pageID string) (string, error)
}

// workingCopy is the part of the element service the watcher drives.
type workingCopy interface {
	Flush(ctx context.Context) error
	StoredFingerprint(pageID string) (string, bool)
	Reload(ctx context.Context, pageID string) ([]domain.Element, error)
}

// themeSource re-broadcasts the stored theme when another process changed it.
type themeSource interface {
	Republish(ctx context.Context) (bool, error)
}

// pageWatcher polls the database for changes to open pages, detecting
// external modifications (e.g. from the standalone MCP process) and
// reloading the working copy so every context of the page picks them up.
type pageWatcher struct {
	ctx      context.Context
	store    fingerprinter
	elements workingCopy
	theme    themeSource // optional
	pages    func() []string
	interval time.Duration

	mu     sync.Mutex
	last   map[string]string // page id → fingerprint
	stopCh chan struct{}
	once   sync.Once
}

func newPageWatcher(ctx context.Context, store fingerprinter, elements workingCopy, theme themeSource, pages func() []string, interval time.Duration) *pageWatcher {
	return &pageWatcher{
		ctx:      ctx,
		store:    store,
		elements: elements,
		theme:    theme,
		pages:    pages,
		interval: interval,
		last:     map[string]string{},
		stopCh:   make(chan struct{}),
	}
}

// Start begins the polling loop. Should be called once on app startup.
func (w *pageWatcher) Start() {
	go w.pollLoop()
}

// Stop terminates the polling loop.
func (w *pageWatcher) Stop() {
	w.once.Do(func() { close(w.stopCh) })
}

func (w *pageWatcher) pollLoop() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.check()
		case <-w.stopCh:
			return
		case <-w.ctx.Done():
			return
		}
	}
}

// check compares the fingerprint of every open page with the last one seen.
// Our own queued writes are flushed first; a fingerprint they produced is
// not an external change. The first sighting of a page only records it.
func (w *pageWatcher) check() {
	if err := w.elements.Flush(w.ctx); err != nil {
		return
	}
	open := w.pages()
	seen := make(map[string]bool, len(open))
	for _, pageID := range open {
		seen[pageID] = true
		fp, err := w.store.Fingerprint(pageID)
		if err != nil {
			continue
		}
		own, _ := w.elements.StoredFingerprint(pageID)

		w.mu.Lock()
		prev, known := w.last[pageID]
		w.last[pageID] = fp
		w.mu.Unlock()

		if !known || prev == fp || own == fp {
			continue
		}
		log.Printf("page watcher: page %s changed externally", pageID)
		if _, err := w.elements.Reload(w.ctx, pageID); err != nil {
			log.Printf("page watcher: reload %s: %v", pageID, err)
		}
	}

	w.mu.Lock()
	for id := range w.last {
		if !seen[id] {
			delete(w.last, id)
		}
	}
	w.mu.Unlock()

	if w.theme != nil {
		if changed, err := w.theme.Republish(w.ctx); err != nil {
			log.Printf("page watcher: theme: %v", err)
		} else if changed {
			log.Printf("page watcher: theme changed externally")
		}
	}
}
