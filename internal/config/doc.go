// Package config loads the panel's own configuration file.
//
// # Overview
//
// The panel reads a small TOML file to discover the codexmanager-service
// address, the desktop IPC socket path, the prefs file location, and the
// auto-refresh cadence. Everything has a default; a missing config file
// is not an error.
//
// # Resolution
//
//  1. If an explicit path is given, use it (must exist)
//  2. Otherwise, use ~/.config/cmpanel/config.toml
//  3. A missing default file yields the built-in defaults
//
// # Environment Overrides
//
// A .env file in the working directory is loaded when present, then the
// CMPANEL_SERVICE_ADDR, CMPANEL_SOCKET_PATH, CMPANEL_PREFS_PATH and
// CMPANEL_AUTO_REFRESH_SEC variables override the file values. This is
// the only layer that reads the environment; downstream packages take
// the resolved Config.
//
// # Example config.toml
//
//	service_addr = "localhost:48760"
//	socket_path = "~/.local/share/codexmanager/service.sock"
//	prefs_path = "~/.config/cmpanel/prefs.toml"
//	auto_refresh_sec = 30
//
// # Path Handling
//
//   - Absolute paths are used as-is
//   - Tilde paths expand to the home directory
//   - Empty values fall back to the defaults
//
// Defaults line up with a stock codexmanager-service install, so the
// panel works without any configuration at all.
package config
