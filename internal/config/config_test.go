package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func clearOverrides(t *testing.T) {
	t.Helper()
	t.Setenv("CMPANEL_SERVICE_ADDR", "")
	t.Setenv("CMPANEL_SOCKET_PATH", "")
	t.Setenv("CMPANEL_PREFS_PATH", "")
	t.Setenv("CMPANEL_AUTO_REFRESH_SEC", "")
}

func TestLoad_MissingConfigFallsBackToDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	clearOverrides(t)

	cfg, err := Load(filepath.Join(home, "does-not-exist.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.ServiceAddr != defaultServiceAddr {
		t.Fatalf("ServiceAddr = %q, want %q", cfg.ServiceAddr, defaultServiceAddr)
	}
	wantSock, err := expandPath(defaultSocketPath)
	if err != nil {
		t.Fatalf("expandPath(defaultSocketPath) returned error: %v", err)
	}
	if cfg.SocketPath != wantSock {
		t.Fatalf("SocketPath = %q, want %q", cfg.SocketPath, wantSock)
	}
	if cfg.AutoRefreshSec != defaultAutoRefreshSec {
		t.Fatalf("AutoRefreshSec = %d, want %d", cfg.AutoRefreshSec, defaultAutoRefreshSec)
	}
}

func TestLoad_ParsesAndTrimsConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	clearOverrides(t)

	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(`
service_addr = "  10.0.0.5:9999  "
socket_path = "  ~/.codexmanager/service.sock  "
auto_refresh_sec = 15
`), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.ServiceAddr != "10.0.0.5:9999" {
		t.Fatalf("ServiceAddr = %q, want %q", cfg.ServiceAddr, "10.0.0.5:9999")
	}
	if !strings.HasPrefix(cfg.SocketPath, home) {
		t.Fatalf("SocketPath = %q, want it under HOME %q", cfg.SocketPath, home)
	}
	if cfg.AutoRefreshSec != 15 {
		t.Fatalf("AutoRefreshSec = %d, want 15", cfg.AutoRefreshSec)
	}
}

func TestLoad_EmptyValuesUseDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	clearOverrides(t)

	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(`
service_addr = "   "
socket_path = ""
auto_refresh_sec = -2
`), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.ServiceAddr != defaultServiceAddr {
		t.Fatalf("ServiceAddr = %q, want %q", cfg.ServiceAddr, defaultServiceAddr)
	}
	if cfg.AutoRefreshSec != defaultAutoRefreshSec {
		t.Fatalf("AutoRefreshSec = %d, want %d", cfg.AutoRefreshSec, defaultAutoRefreshSec)
	}
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	clearOverrides(t)
	t.Setenv("CMPANEL_SERVICE_ADDR", "envhost:5050")
	t.Setenv("CMPANEL_AUTO_REFRESH_SEC", "45")

	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(`service_addr = "filehost:1234"`), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.ServiceAddr != "envhost:5050" {
		t.Fatalf("ServiceAddr = %q, want env override", cfg.ServiceAddr)
	}
	if cfg.AutoRefreshSec != 45 {
		t.Fatalf("AutoRefreshSec = %d, want 45", cfg.AutoRefreshSec)
	}
}

func TestLoad_InvalidTOMLFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(`service_addr = [`), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	_, err := Load(path)
	if err == nil {
		t.Fatalf("Load returned nil error, want parse error")
	}
	if !strings.Contains(err.Error(), "parse config") {
		t.Fatalf("Load error = %q, want it to mention parse config", err.Error())
	}
}

func TestExpandPath_ExpandsTildeAndReturnsAbs(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	got, err := expandPath("~/a/b")
	if err != nil {
		t.Fatalf("expandPath returned error: %v", err)
	}
	want := filepath.Join(home, "a/b")
	if got != want {
		t.Fatalf("expandPath = %q, want %q", got, want)
	}
}

func TestExpandPath_EmptyErrors(t *testing.T) {
	if _, err := expandPath("   "); err == nil {
		t.Fatalf("expandPath returned nil error, want error")
	}
}
