package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
)

// Config captures the fields the panel needs to reach the
// codexmanager service and to persist operator preferences.
type Config struct {
	// ServiceAddr is the raw service address; callers normalize it.
	ServiceAddr string
	// SocketPath is the desktop bridge socket. When the socket exists
	// the panel runs in desktop mode.
	SocketPath string
	// PrefsPath is the operator preference store.
	PrefsPath string
	// AutoRefreshSec is the background refresh period in seconds.
	AutoRefreshSec int
}

const (
	defaultConfigPath     = "~/.config/cmpanel/config.toml"
	defaultPrefsPath      = "~/.config/cmpanel/prefs.toml"
	defaultSocketPath     = "~/.local/share/codexmanager/service.sock"
	defaultServiceAddr    = "localhost:48760"
	defaultAutoRefreshSec = 30
)

// Load locates and parses the panel config, falling back to defaults
// when missing. Values from a .env file or the process environment
// override the file.
func Load(path string) (Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		ServiceAddr:    defaultServiceAddr,
		SocketPath:     mustExpand(defaultSocketPath),
		PrefsPath:      mustExpand(defaultPrefsPath),
		AutoRefreshSec: defaultAutoRefreshSec,
	}

	file, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return applyEnv(cfg), nil
		}
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	bytes, err := io.ReadAll(file)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var raw struct {
		ServiceAddr    string `toml:"service_addr"`
		SocketPath     string `toml:"socket_path"`
		PrefsPath      string `toml:"prefs_path"`
		AutoRefreshSec int    `toml:"auto_refresh_sec"`
	}
	if err := toml.Unmarshal(bytes, &raw); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if addr := strings.TrimSpace(raw.ServiceAddr); addr != "" {
		cfg.ServiceAddr = addr
	}
	if sock := strings.TrimSpace(raw.SocketPath); sock != "" {
		cfg.SocketPath = mustExpand(sock)
	}
	if prefs := strings.TrimSpace(raw.PrefsPath); prefs != "" {
		cfg.PrefsPath = mustExpand(prefs)
	}
	if raw.AutoRefreshSec > 0 {
		cfg.AutoRefreshSec = raw.AutoRefreshSec
	}

	return applyEnv(cfg), nil
}

// applyEnv overlays a .env file (when present in the working
// directory) and the process environment on top of file values.
func applyEnv(cfg Config) Config {
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load()
	}
	if addr := strings.TrimSpace(os.Getenv("CMPANEL_SERVICE_ADDR")); addr != "" {
		cfg.ServiceAddr = addr
	}
	if sock := strings.TrimSpace(os.Getenv("CMPANEL_SOCKET_PATH")); sock != "" {
		cfg.SocketPath = mustExpand(sock)
	}
	if prefs := strings.TrimSpace(os.Getenv("CMPANEL_PREFS_PATH")); prefs != "" {
		cfg.PrefsPath = mustExpand(prefs)
	}
	if sec := strings.TrimSpace(os.Getenv("CMPANEL_AUTO_REFRESH_SEC")); sec != "" {
		if n, err := strconv.Atoi(sec); err == nil && n > 0 {
			cfg.AutoRefreshSec = n
		}
	}
	return cfg
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultConfigPath)
	}
	return expandPath(path)
}

func mustExpand(path string) string {
	expanded, err := expandPath(path)
	if err != nil {
		return path
	}
	return expanded
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
