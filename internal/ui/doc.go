// Package ui provides the terminal user interface for the panel.
//
// # Architecture Overview
//
// The UI is a Bubble Tea model with four switchable pages: dashboard,
// accounts, API keys and request logs. All domain data comes from
// state.Store snapshots; the model never talks to the transport
// directly for rendering, only through commands that resolve into
// messages.
//
// # Package Structure
//
//   - app.go: root Model, Update loop, messages and the Run function
//   - keys.go: keyboard bindings
//   - theme.go: color palettes and Lipgloss styles
//   - scheduler.go: dirty-flag frame coalescing
//   - logwindow.go: windowed virtualization for the request-log page
//   - dashboard.go, accounts.go, apikeys.go, requestlogs.go: page renderers
//   - rowactions.go: row commands (delete, resort, pin, usage detail,
//     key create, model cycle, read secret)
//   - status.go: status line and flash messages
//   - helpers.go: shared formatting utilities
//
// # Rendering Model
//
// Pages mark themselves dirty through the frame scheduler instead of
// re-rendering eagerly. One flush per frame renders every dirty page;
// marking a page dirty during a flush schedules the next frame rather
// than recursing.
//
// The request-log page virtualizes its rows: entries append in batches,
// the rendered window is capped, and recycled head rows collapse into a
// top spacer so scroll position is preserved.
//
// # Key Bindings
//
//   - 1-4: switch page (dashboard, accounts, apikeys, requestlogs)
//   - tab/shift+tab: cycle pages
//   - j/k, arrows, g/G: navigate tables
//   - r: refresh all, U: per-account usage refresh
//   - /: filter input, f: cycle request-log status filter
//   - p: pin preferred account, enter: usage detail
//   - n: new API key, m: cycle key model, x: enable/disable key
//   - L: login, u: update check, T: cycle theme, t: low transparency
//   - h/?: help, e or ctrl+c: exit
package ui
