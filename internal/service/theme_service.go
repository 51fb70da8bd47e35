package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"appbuilder/internal/syncproto"
)

const (
	settingThemeVars   = "theme_vars"
	settingThemeTokens = "theme_tokens"
)

// SettingsStore persists JSON settings by key.
type SettingsStore interface {
	GetJSON(key string, target any) (bool, error)
	SetJSON(key string, value any) error
}

// Theme is the persisted theme state.
type Theme struct {
	Vars   map[string]string `json:"vars"`
	Tokens any               `json:"tokens,omitempty"`
}

// ThemeService stores theme variables and style tokens and pushes them to
// rendering contexts. A vars file on disk can be watched for live edits.
type ThemeService struct {
	settings SettingsStore
	out      Broadcaster

	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	watchCancel context.CancelFunc

	seenMu sync.Mutex
	seen   string // stored theme as of the last broadcast
}

func NewThemeService(settings SettingsStore, out Broadcaster) *ThemeService {
	return &ThemeService{settings: settings, out: out}
}

// Get returns the stored theme. Missing settings yield an empty theme.
func (s *ThemeService) Get() (Theme, error) {
	t := Theme{Vars: map[string]string{}}
	if s.settings == nil {
		return t, nil
	}
	if _, err := s.settings.GetJSON(settingThemeVars, &t.Vars); err != nil {
		return t, err
	}
	if _, err := s.settings.GetJSON(settingThemeTokens, &t.Tokens); err != nil {
		return t, err
	}
	return t, nil
}

// SetVars replaces the theme variables and broadcasts THEME_VARS.
func (s *ThemeService) SetVars(ctx context.Context, vars map[string]string) error {
	if vars == nil {
		vars = map[string]string{}
	}
	if s.settings != nil {
		if err := s.settings.SetJSON(settingThemeVars, vars); err != nil {
			return fmt.Errorf("save theme vars: %w", err)
		}
	}
	return s.send(ctx, syncproto.ThemeVars{Vars: vars})
}

// SetTokens replaces the style tokens and broadcasts UPDATE_THEME_TOKENS.
// styles is a stylesheet string or a selector → declarations map.
func (s *ThemeService) SetTokens(ctx context.Context, styles any) error {
	switch styles.(type) {
	case string, map[string]any:
	default:
		return fmt.Errorf("set theme tokens: unsupported styles %T", styles)
	}
	if s.settings != nil {
		if err := s.settings.SetJSON(settingThemeTokens, styles); err != nil {
			return fmt.Errorf("save theme tokens: %w", err)
		}
	}
	return s.send(ctx, syncproto.UpdateThemeTokens{Styles: styles})
}

// Snapshot returns the envelopes that bring a new context up to date, in
// application order.
func (s *ThemeService) Snapshot() []syncproto.Envelope {
	t, err := s.Get()
	if err != nil {
		log.Printf("theme: snapshot: %v", err)
		return nil
	}
	var out []syncproto.Envelope
	if len(t.Vars) > 0 {
		out = append(out, syncproto.ThemeVars{Vars: t.Vars})
	}
	if t.Tokens != nil {
		out = append(out, syncproto.UpdateThemeTokens{Styles: t.Tokens})
	}
	return out
}

func (s *ThemeService) send(ctx context.Context, env syncproto.Envelope) error {
	s.markSeen()
	if s.out == nil {
		return nil
	}
	if err := s.out.Send(ctx, env); err != nil {
		return fmt.Errorf("broadcast %s: %w", env.Type(), err)
	}
	return nil
}

func (s *ThemeService) stored() (string, error) {
	t, err := s.Get()
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(t)
	return string(data), err
}

func (s *ThemeService) markSeen() {
	v, err := s.stored()
	if err != nil {
		return
	}
	s.seenMu.Lock()
	s.seen = v
	s.seenMu.Unlock()
}

// Republish re-broadcasts the stored theme when it differs from what this
// service last sent, e.g. after another process wrote it. The first call
// only records the current state.
func (s *ThemeService) Republish(ctx context.Context) (bool, error) {
	v, err := s.stored()
	if err != nil {
		return false, fmt.Errorf("read theme: %w", err)
	}
	s.seenMu.Lock()
	prev := s.seen
	s.seen = v
	s.seenMu.Unlock()
	if prev == "" || prev == v {
		return false, nil
	}
	if s.out == nil {
		return true, nil
	}
	for _, env := range s.Snapshot() {
		if err := s.out.Send(ctx, env); err != nil {
			return true, fmt.Errorf("broadcast %s: %w", env.Type(), err)
		}
	}
	return true, nil
}

// ── file watch ─────────────────────────────────────────────

// LoadFile reads a JSON object of variable → value and applies it.
func (s *ThemeService) LoadFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read theme file: %w", err)
	}
	var vars map[string]string
	if err := json.Unmarshal(data, &vars); err != nil {
		return fmt.Errorf("parse theme file %s: %w", path, err)
	}
	return s.SetVars(ctx, vars)
}

// WatchFile loads path and reapplies it whenever it is written. The parent
// directory is watched so editors that replace the file are picked up.
// Calling it again replaces the previous watch.
func (s *ThemeService) WatchFile(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("theme watcher: bad path %q: %w", path, err)
	}
	if err := s.LoadFile(ctx, absPath); err != nil {
		log.Printf("theme watcher: initial load: %v", err)
	}

	s.Stop()
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("theme watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return fmt.Errorf("theme watcher: watch dir: %w", err)
	}
	watchCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.watcher = watcher
	s.watchCancel = cancel
	s.mu.Unlock()

	go func() {
		var timer *time.Timer
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()
		for {
			select {
			case <-watchCtx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if p, _ := filepath.Abs(event.Name); p != absPath {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(500*time.Millisecond, func() {
					if watchCtx.Err() != nil {
						return
					}
					log.Printf("theme watcher: %s changed", absPath)
					if err := s.LoadFile(watchCtx, absPath); err != nil {
						log.Printf("theme watcher: reload: %v", err)
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("theme watcher: error: %v", err)
			}
		}
	}()

	log.Printf("theme watcher: watching %s", absPath)
	return nil
}

// Stop ends a running file watch.
func (s *ThemeService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
	if s.watcher != nil {
		s.watcher.Close()
		s.watcher = nil
	}
}
