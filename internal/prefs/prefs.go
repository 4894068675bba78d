// Package prefs persists operator settings as a small key/value file at
// ~/.config/cmpanel/prefs.toml. Values are untrusted: every reader
// re-normalizes, and a damaged file degrades to defaults instead of
// failing the panel.
package prefs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	toml "github.com/pelletier/go-toml/v2"
)

// Keys mirror the service-facing setting names.
const (
	KeyUpdateAutoCheck       = "codexmanager.update.auto_check"
	KeyTheme                 = "codexmanager.ui.theme"
	KeyLowTransparency       = "codexmanager.ui.low_transparency"
	KeyRouteStrategy         = "codexmanager.gateway.route_strategy"
	KeyNoCookieHeaderMode    = "codexmanager.gateway.cpa_no_cookie_header_mode"
	KeyBackgroundTasks       = "codexmanager.gateway.background_tasks"
	KeyModelsLastRefreshedAt = "codexmanager.apikey.models.last_remote_refresh_at"
)

const defaultPrefsPath = "~/.config/cmpanel/prefs.toml"

// Store is a durable string KV backed by one TOML file.
type Store struct {
	mu     sync.Mutex
	path   string
	values map[string]string
}

// DefaultPath returns the default preferences file path.
func DefaultPath() string {
	return defaultPrefsPath
}

// Open loads the store at path (empty uses the default). Missing or
// unreadable files yield an empty store; writes will recreate the file.
func Open(path string) (*Store, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, err
	}
	s := &Store{path: resolved, values: map[string]string{}}
	s.reload()
	return s, nil
}

// Path returns the resolved file path backing the store.
func (s *Store) Path() string {
	return s.path
}

// Get returns the raw string for key and whether it was present.
func (s *Store) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// Set stores a raw value and persists the whole file.
func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return s.flushLocked()
}

// Delete removes a key and persists.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return s.flushLocked()
}

// GetBool reads a boolean, treating anything unparseable as absent.
func (s *Store) GetBool(key string) (bool, bool) {
	raw, ok := s.Get(key)
	if !ok {
		return false, false
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, false
	}
	return v, true
}

// SetBool stores a boolean.
func (s *Store) SetBool(key string, v bool) error {
	return s.Set(key, strconv.FormatBool(v))
}

// GetInt64 reads an integer, treating anything unparseable as absent.
func (s *Store) GetInt64(key string) (int64, bool) {
	raw, ok := s.Get(key)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// SetInt64 stores an integer.
func (s *Store) SetInt64(key string, v int64) error {
	return s.Set(key, strconv.FormatInt(v, 10))
}

// Reload re-reads the file from disk, used when an external edit is
// detected. Unreadable content leaves the previous values in place.
func (s *Store) Reload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadLocked()
}

func (s *Store) reload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadLocked()
}

func (s *Store) reloadLocked() {
	bytes, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.values = map[string]string{}
		}
		return
	}
	parsed := map[string]string{}
	if err := toml.Unmarshal(bytes, &parsed); err != nil {
		return // keep previous values on a damaged file
	}
	s.values = parsed
}

func (s *Store) flushLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create prefs dir: %w", err)
	}
	bytes, err := toml.Marshal(s.values)
	if err != nil {
		return fmt.Errorf("marshal prefs: %w", err)
	}
	if err := os.WriteFile(s.path, bytes, 0o644); err != nil {
		return fmt.Errorf("write prefs: %w", err)
	}
	return nil
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultPrefsPath)
	}
	return expandPath(path)
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
