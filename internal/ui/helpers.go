package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"

	"github.com/codexmanager/cmpanel/internal/reqctl"
)

// reqctlOptions is the default per-call policy for row actions fired
// straight from key handlers.
func reqctlOptions() reqctl.Options {
	return reqctl.Options{Timeout: 10 * time.Second, Retries: 1}
}

// truncate shortens s to width cells, ANSI-aware.
func truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	return ansi.Truncate(s, width, "…")
}

// padCell truncates then right-pads s to exactly width display cells.
func padCell(s string, width int) string {
	s = truncate(s, width)
	if gap := width - ansi.StringWidth(s); gap > 0 {
		s += strings.Repeat(" ", gap)
	}
	return s
}

// formatTokens renders a token count with thousands grouping.
func formatTokens(n int64) string {
	if n < 0 {
		n = 0
	}
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// formatPercent renders a usage percentage, with "--" for unreported.
func formatPercent(p *float64) string {
	if p == nil {
		return "--"
	}
	return fmt.Sprintf("%.0f%%", *p)
}

// formatRelTime renders how long ago t was, compactly.
func formatRelTime(t time.Time) string {
	if t.IsZero() {
		return "--"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds前", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm前", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh前", int(d.Hours()))
	default:
		return t.Format("01-02 15:04")
	}
}

// formatClock renders an absolute timestamp for log rows.
func formatClock(t time.Time) string {
	if t.IsZero() {
		return "--:--:--"
	}
	return t.Format("15:04:05")
}
