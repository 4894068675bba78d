package ui

import (
	"github.com/charmbracelet/lipgloss"
)

// Theme defines colors and styles for the UI.
type Theme struct {
	Name string

	// Base colors
	Background string // Outermost background
	Surface    string // Main content panels
	SurfaceAlt string // Secondary surfaces
	FocusBg    string // Focus/active states

	// Table colors
	SelectionBg   string // Selected row background
	SelectionText string // Selected row text

	// Border colors
	Border      string
	BorderFocus string

	// Text colors
	Text    string
	Muted   string
	Faint   string
	Accent  string
	Success string
	Warning string
	Danger  string
	Info    string

	// Status colors keyed by availability / key status
	StatusColors map[string]string
}

// Opaque applies the low-transparency preference: when enabled, panels
// keep their solid palette backgrounds; when disabled, backgrounds are
// cleared so the terminal shows through.
func (t Theme) Opaque(lowTransparency bool) Theme {
	if lowTransparency {
		return t
	}
	t.Background = ""
	t.Surface = ""
	t.SurfaceAlt = ""
	t.FocusBg = ""
	return t
}

// Styles returns Lipgloss styles for this theme.
func (t Theme) Styles() Styles {
	return Styles{
		Surface: lipgloss.NewStyle().
			Background(lipgloss.Color(t.Surface)).
			Foreground(lipgloss.Color(t.Text)),

		Text: lipgloss.NewStyle().
			Foreground(lipgloss.Color(t.Text)),

		MutedText: lipgloss.NewStyle().
			Foreground(lipgloss.Color(t.Muted)),

		FaintText: lipgloss.NewStyle().
			Foreground(lipgloss.Color(t.Faint)),

		AccentText: lipgloss.NewStyle().
			Foreground(lipgloss.Color(t.Accent)),

		SuccessText: lipgloss.NewStyle().
			Foreground(lipgloss.Color(t.Success)).
			Bold(true),

		WarningText: lipgloss.NewStyle().
			Foreground(lipgloss.Color(t.Warning)),

		DangerText: lipgloss.NewStyle().
			Foreground(lipgloss.Color(t.Danger)).
			Bold(true),

		InfoText: lipgloss.NewStyle().
			Foreground(lipgloss.Color(t.Info)),

		Header: lipgloss.NewStyle().
			Background(lipgloss.Color(t.Surface)).
			Foreground(lipgloss.Color(t.Text)).
			Padding(0, 1),

		Selected: lipgloss.NewStyle().
			Background(lipgloss.Color(t.SelectionBg)).
			Foreground(lipgloss.Color(t.SelectionText)),

		TabActive: lipgloss.NewStyle().
			Foreground(lipgloss.Color(t.Accent)).
			Bold(true),

		TabInactive: lipgloss.NewStyle().
			Foreground(lipgloss.Color(t.Muted)),

		statusColors: t.StatusColors,
		background:   t.Background,
		muted:        t.Muted,
	}
}

// Styles contains pre-built Lipgloss styles for the theme.
type Styles struct {
	Surface lipgloss.Style

	Text        lipgloss.Style
	MutedText   lipgloss.Style
	FaintText   lipgloss.Style
	AccentText  lipgloss.Style
	SuccessText lipgloss.Style
	WarningText lipgloss.Style
	DangerText  lipgloss.Style
	InfoText    lipgloss.Style

	Header      lipgloss.Style
	Selected    lipgloss.Style
	TabActive   lipgloss.Style
	TabInactive lipgloss.Style

	statusColors map[string]string
	background   string
	muted        string
}

// StatusStyle returns a badge style for the given status value.
func (s Styles) StatusStyle(status string) lipgloss.Style {
	color := s.statusColors[status]
	if color == "" {
		color = s.muted
	}
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color(color)).
		Bold(true)
}

// Theme definitions. Names line up with the persisted theme setting.

var themes = map[string]Theme{
	"dracula": draculaTheme(),
	"slate":   slateTheme(),
	"light":   lightTheme(),
}

var themeOrder = []string{"dracula", "slate", "light"}

// GetTheme returns a theme by name, defaulting to dracula.
func GetTheme(name string) Theme {
	if t, ok := themes[name]; ok {
		return t
	}
	return draculaTheme()
}

// NextTheme returns the next theme name in the cycle.
func NextTheme(current string) string {
	for i, name := range themeOrder {
		if name == current {
			return themeOrder[(i+1)%len(themeOrder)]
		}
	}
	return themeOrder[0]
}

// ThemeNames returns available theme names.
func ThemeNames() []string {
	return themeOrder
}

func draculaTheme() Theme {
	// Dracula palette: https://draculatheme.com/contribute
	return Theme{
		Name: "dracula",

		Background: "#191a21", // darker bg
		Surface:    "#282a36", // background
		SurfaceAlt: "#343746", // background lighter
		FocusBg:    "#44475a", // current line

		SelectionBg:   "#44475a", // selection
		SelectionText: "#f8f8f2", // foreground

		Border:      "#44475a",
		BorderFocus: "#bd93f9", // purple

		Text:    "#f8f8f2", // foreground
		Muted:   "#6272a4", // comment
		Faint:   "#565761",
		Accent:  "#bd93f9", // purple
		Success: "#50fa7b", // green
		Warning: "#f1fa8c", // yellow
		Danger:  "#ff5555", // red
		Info:    "#8be9fd", // cyan

		StatusColors: map[string]string{
			"ok":        "#50fa7b", // green
			"limited":   "#f1fa8c", // yellow
			"exhausted": "#ff5555", // red
			"unknown":   "#6272a4", // comment
			"active":    "#50fa7b", // green
			"disabled":  "#6272a4", // comment
		},
	}
}

func slateTheme() Theme {
	// Tailwind CSS Slate/Sky palette: https://tailwindcss.com/docs/colors
	return Theme{
		Name: "slate",

		Background: "#020617", // slate-950
		Surface:    "#0f172a", // slate-900
		SurfaceAlt: "#1e293b", // slate-800
		FocusBg:    "#283548",

		SelectionBg:   "#0284c7", // sky-600
		SelectionText: "#f8fafc", // slate-50

		Border:      "#334155", // slate-700
		BorderFocus: "#38bdf8", // sky-400

		Text:    "#f1f5f9", // slate-100
		Muted:   "#94a3b8", // slate-400
		Faint:   "#64748b", // slate-500
		Accent:  "#38bdf8", // sky-400
		Success: "#22c55e", // green-500
		Warning: "#f59e0b", // amber-500
		Danger:  "#ef4444", // red-500
		Info:    "#06b6d4", // cyan-500

		StatusColors: map[string]string{
			"ok":        "#22c55e", // green-500
			"limited":   "#f59e0b", // amber-500
			"exhausted": "#dc2626", // red-600
			"unknown":   "#64748b", // slate-500
			"active":    "#16a34a", // green-600
			"disabled":  "#64748b", // slate-500
		},
	}
}

func lightTheme() Theme {
	// Tailwind CSS Zinc palette on a light background.
	return Theme{
		Name: "light",

		Background: "#fafafa", // zinc-50
		Surface:    "#f4f4f5", // zinc-100
		SurfaceAlt: "#e4e4e7", // zinc-200
		FocusBg:    "#d4d4d8", // zinc-300

		SelectionBg:   "#2563eb", // blue-600
		SelectionText: "#fafafa", // zinc-50

		Border:      "#d4d4d8", // zinc-300
		BorderFocus: "#2563eb", // blue-600

		Text:    "#18181b", // zinc-900
		Muted:   "#52525b", // zinc-600
		Faint:   "#a1a1aa", // zinc-400
		Accent:  "#2563eb", // blue-600
		Success: "#15803d", // green-700
		Warning: "#b45309", // amber-700
		Danger:  "#b91c1c", // red-700
		Info:    "#0e7490", // cyan-700

		StatusColors: map[string]string{
			"ok":        "#15803d", // green-700
			"limited":   "#b45309", // amber-700
			"exhausted": "#b91c1c", // red-700
			"unknown":   "#a1a1aa", // zinc-400
			"active":    "#15803d", // green-700
			"disabled":  "#a1a1aa", // zinc-400
		},
	}
}
