// Package settings persists user configuration for the popup/options
// surfaces and feeds changes back to subscribers.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Settings is the user-facing configuration.
type Settings struct {
	Enabled               bool   `json:"enabled"`
	ShowOverlayAffordance bool   `json:"show_overlay_affordance"`
	Provider              string `json:"provider"`
	Model                 string `json:"model"`
	APIKey                string `json:"api_key"`
}

// Defaults returns the settings a fresh install starts with.
func Defaults() Settings {
	return Settings{
		Enabled:               true,
		ShowOverlayAffordance: true,
		Provider:              "google",
		Model:                 "gemini-2.5-flash",
	}
}

// Update is a partial settings change; nil fields are left untouched.
type Update struct {
	Enabled               *bool   `json:"enabled,omitempty"`
	ShowOverlayAffordance *bool   `json:"show_overlay_affordance,omitempty"`
	Provider              *string `json:"provider,omitempty"`
	Model                 *string `json:"model,omitempty"`
	APIKey                *string `json:"api_key,omitempty"`
}

// Store is a JSON-file-backed settings store with an in-process change feed.
type Store struct {
	path    string
	mu      sync.RWMutex
	current Settings
	subs    map[int]chan Settings
	nextSub int
}

// NewStore loads settings from path, writing defaults on first run.
func NewStore(path string) (*Store, error) {
	s := &Store{
		path:    path,
		current: Defaults(),
		subs:    make(map[int]chan Settings),
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &s.current); err != nil {
			return nil, fmt.Errorf("unmarshal settings: %w", err)
		}
	case os.IsNotExist(err):
		if err := s.write(s.current); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("read settings: %w", err)
	}
	return s, nil
}

// Get returns the current settings.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Set applies a partial update, persists the result, and notifies
// subscribers. It returns the settings after the update.
func (s *Store) Set(update Update) (Settings, error) {
	s.mu.Lock()
	next := s.current
	if update.Enabled != nil {
		next.Enabled = *update.Enabled
	}
	if update.ShowOverlayAffordance != nil {
		next.ShowOverlayAffordance = *update.ShowOverlayAffordance
	}
	if update.Provider != nil {
		next.Provider = *update.Provider
	}
	if update.Model != nil {
		next.Model = *update.Model
	}
	if update.APIKey != nil {
		next.APIKey = *update.APIKey
	}
	if err := s.write(next); err != nil {
		s.mu.Unlock()
		return Settings{}, err
	}
	s.current = next
	subs := make([]chan Settings, 0, len(s.subs))
	for _, ch := range s.subs {
		subs = append(subs, ch)
	}
	s.mu.Unlock()

	for _, ch := range subs {
		// A subscriber that stopped draining loses updates rather than
		// wedging the store.
		select {
		case ch <- next:
		default:
		}
	}
	return next, nil
}

// Subscribe returns a channel receiving every settings change and a
// function that cancels the subscription.
func (s *Store) Subscribe() (<-chan Settings, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan Settings, 4)
	s.subs[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// write persists settings atomically.
func (s *Store) write(settings Settings) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	data = append(data, '\n')
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename settings: %w", err)
	}
	return nil
}
