package models

import "strings"

// RouteStrategy selects how the gateway distributes traffic across accounts.
type RouteStrategy string

const (
	RouteOrdered  RouteStrategy = "ordered"
	RouteBalanced RouteStrategy = "balanced"
)

// NormalizeRouteStrategy maps any balanced synonym to RouteBalanced and
// everything else, including the empty string, to RouteOrdered.
func NormalizeRouteStrategy(raw string) RouteStrategy {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "balanced", "balance", "round_robin", "round-robin", "roundrobin", "rr":
		return RouteBalanced
	default:
		return RouteOrdered
	}
}

// RouteStrategyLabel returns the operator-facing label for a strategy.
func RouteStrategyLabel(s RouteStrategy) string {
	if s == RouteBalanced {
		return "负载均衡"
	}
	return "顺序优先"
}

// BackgroundTasksSettings configures the service's background workers.
// Interval fields are seconds; factor and minimum fields are worker counts.
// All numeric fields must be positive integers.
type BackgroundTasksSettings struct {
	UsagePollEnabled       bool `json:"usage_poll_enabled"`
	UsagePollIntervalSec   int  `json:"usage_poll_interval_sec"`
	SessionPollEnabled     bool `json:"session_poll_enabled"`
	SessionPollIntervalSec int  `json:"session_poll_interval_sec"`
	LogCompactEnabled      bool `json:"log_compact_enabled"`
	LogCompactIntervalSec  int  `json:"log_compact_interval_sec"`
	WorkerFactor           int  `json:"worker_factor"`
	WorkerMinimum          int  `json:"worker_minimum"`
}

// DefaultBackgroundTasks returns the settings the panel assumes before the
// service has reported authoritative values.
func DefaultBackgroundTasks() BackgroundTasksSettings {
	return BackgroundTasksSettings{
		UsagePollEnabled:       true,
		UsagePollIntervalSec:   300,
		SessionPollEnabled:     true,
		SessionPollIntervalSec: 600,
		LogCompactEnabled:      true,
		LogCompactIntervalSec:  3600,
		WorkerFactor:           1,
		WorkerMinimum:          1,
	}
}

// Normalize forces every numeric field to a positive integer, substituting
// the default when a stored or remote value is out of range.
func (b *BackgroundTasksSettings) Normalize() {
	def := DefaultBackgroundTasks()
	if b.UsagePollIntervalSec < 1 {
		b.UsagePollIntervalSec = def.UsagePollIntervalSec
	}
	if b.SessionPollIntervalSec < 1 {
		b.SessionPollIntervalSec = def.SessionPollIntervalSec
	}
	if b.LogCompactIntervalSec < 1 {
		b.LogCompactIntervalSec = def.LogCompactIntervalSec
	}
	if b.WorkerFactor < 1 {
		b.WorkerFactor = def.WorkerFactor
	}
	if b.WorkerMinimum < 1 {
		b.WorkerMinimum = def.WorkerMinimum
	}
}

// BackgroundTasksResult is the service's echo for a set operation. The
// restart keys are display-only hints; the panel never validates them
// against a closed set.
type BackgroundTasksResult struct {
	Settings            BackgroundTasksSettings `json:"settings"`
	RequiresRestartKeys []string                `json:"requires_restart_keys,omitempty"`
}
