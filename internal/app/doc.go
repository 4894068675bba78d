// Package app is the composition root for the control panel.
//
// # Overview
//
// This package wires configuration, transports, the state store, the
// refresh orchestrator, and the UI into the running panel. Business
// logic lives in the domain packages; app only connects them.
//
// # Startup Sequence
//
//  1. Load config from ~/.config/cmpanel/config.toml (env overrides apply)
//  2. Open the prefs store and start its file watcher
//  3. Pick the transport: desktop IPC socket when present, HTTP JSON-RPC
//     otherwise
//  4. Probe the service; startup continues offline when it does not answer
//  5. Run the initial background refresh and start the auto-refresh loop
//  6. Start the TUI and block until the user exits or the context cancels
//
// # Data Flow
//
// Background goroutines never touch the Bubble Tea model directly. The
// orchestrator writes into state.Store; the UI polls snapshots on its
// tick. Progress callbacks and background update hits cross into the
// model via Program.Send.
//
// # Error Handling
//
// Fatal errors returned from Run: unreadable config, unwritable prefs
// file. Everything else — unreachable service, failed initial refresh,
// missing inotify support — is logged and survived; the panel shows the
// offline state and keeps probing.
package app
