// Package logger provides a thin wrapper around slog for structured logging.
package logger

import (
	"log/slog"
	"os"
)

// Logger is the shared logger instance. The TUI owns stdout, so log output
// goes to stderr where it can be redirected without disturbing the screen.
var Logger = slog.New(slog.NewTextHandler(os.Stderr, nil))

// Error logs an error message.
func Error(msg string, args ...any) {
	Logger.Error(msg, args...)
}

// Info logs an informational message.
func Info(msg string, args ...any) {
	Logger.Info(msg, args...)
}

// Warn logs a warning message.
func Warn(msg string, args ...any) {
	Logger.Warn(msg, args...)
}

// Debug logs a debug message.
func Debug(msg string, args ...any) {
	Logger.Debug(msg, args...)
}
