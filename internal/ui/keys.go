package ui

import "github.com/charmbracelet/bubbles/key"

// keyMap defines all keyboard bindings for the application.
type keyMap struct {
	// Global
	Quit               key.Binding
	Help               key.Binding
	CycleTheme         key.Binding
	ToggleTransparency key.Binding
	Tab                key.Binding
	ShiftTab           key.Binding
	Escape             key.Binding

	// Page switching
	PageDashboard   key.Binding
	PageAccounts    key.Binding
	PageAPIKeys     key.Binding
	PageRequestLogs key.Binding

	// Actions
	RefreshAll   key.Binding
	RefreshUsage key.Binding
	Login        key.Binding
	CancelLogin  key.Binding
	UpdateCheck  key.Binding
	Filter       key.Binding
	StatusFilter key.Binding
	ClearLogs    key.Binding
	CopyPath     key.Binding
	ToggleKey    key.Binding
	ReadSecret   key.Binding
	CreateKey    key.Binding
	ChangeModel  key.Binding
	Import       key.Binding
	PinAccount   key.Binding
	DeleteRow    key.Binding
	MoveRowUp    key.Binding
	MoveRowDown  key.Binding

	// Navigation
	Up           key.Binding
	Down         key.Binding
	Top          key.Binding
	Bottom       key.Binding
	HalfPageUp   key.Binding
	HalfPageDown key.Binding

	// Input
	Confirm key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() keyMap {
	return keyMap{
		// Global
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c", "e"),
			key.WithHelp("e", "Quit"),
		),
		Help: key.NewBinding(
			key.WithKeys("h", "?"),
			key.WithHelp("h/?", "Toggle help"),
		),
		CycleTheme: key.NewBinding(
			key.WithKeys("T"),
			key.WithHelp("T", "Cycle theme"),
		),
		ToggleTransparency: key.NewBinding(
			key.WithKeys("t"),
			key.WithHelp("t", "Toggle low transparency"),
		),
		Tab: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "Next page"),
		),
		ShiftTab: key.NewBinding(
			key.WithKeys("shift+tab"),
			key.WithHelp("shift+tab", "Previous page"),
		),
		Escape: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "Close / back"),
		),

		// Page switching
		PageDashboard: key.NewBinding(
			key.WithKeys("1"),
			key.WithHelp("1", "Dashboard"),
		),
		PageAccounts: key.NewBinding(
			key.WithKeys("2"),
			key.WithHelp("2", "Accounts"),
		),
		PageAPIKeys: key.NewBinding(
			key.WithKeys("3"),
			key.WithHelp("3", "API keys"),
		),
		PageRequestLogs: key.NewBinding(
			key.WithKeys("4"),
			key.WithHelp("4", "Request logs"),
		),

		// Actions
		RefreshAll: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "Refresh all"),
		),
		RefreshUsage: key.NewBinding(
			key.WithKeys("U"),
			key.WithHelp("U", "Refresh usage per account"),
		),
		Login: key.NewBinding(
			key.WithKeys("L"),
			key.WithHelp("L", "Add account (login)"),
		),
		CancelLogin: key.NewBinding(
			key.WithKeys("ctrl+x"),
			key.WithHelp("ctrl+x", "Cancel login"),
		),
		UpdateCheck: key.NewBinding(
			key.WithKeys("u"),
			key.WithHelp("u", "Check update"),
		),
		Filter: key.NewBinding(
			key.WithKeys("/"),
			key.WithHelp("/", "Filter"),
		),
		StatusFilter: key.NewBinding(
			key.WithKeys("f"),
			key.WithHelp("f", "Cycle status filter"),
		),
		ClearLogs: key.NewBinding(
			key.WithKeys("D"),
			key.WithHelp("D", "Clear request logs"),
		),
		CopyPath: key.NewBinding(
			key.WithKeys("y"),
			key.WithHelp("y", "Copy request path"),
		),
		ToggleKey: key.NewBinding(
			key.WithKeys("x"),
			key.WithHelp("x", "Enable/disable key"),
		),
		ReadSecret: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "Show key secret"),
		),
		CreateKey: key.NewBinding(
			key.WithKeys("n"),
			key.WithHelp("n", "New API key"),
		),
		ChangeModel: key.NewBinding(
			key.WithKeys("m"),
			key.WithHelp("m", "Cycle key model"),
		),
		Import: key.NewBinding(
			key.WithKeys("i"),
			key.WithHelp("i", "Import account from auth file"),
		),
		PinAccount: key.NewBinding(
			key.WithKeys("p"),
			key.WithHelp("p", "Pin/unpin preferred account"),
		),
		DeleteRow: key.NewBinding(
			key.WithKeys("d"),
			key.WithHelp("d", "Delete (press twice)"),
		),
		MoveRowUp: key.NewBinding(
			key.WithKeys("K"),
			key.WithHelp("K", "Move account up"),
		),
		MoveRowDown: key.NewBinding(
			key.WithKeys("J"),
			key.WithHelp("J", "Move account down"),
		),

		// Navigation
		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/up", "Move up"),
		),
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/down", "Move down"),
		),
		Top: key.NewBinding(
			key.WithKeys("g", "home"),
			key.WithHelp("g", "Go to top"),
		),
		Bottom: key.NewBinding(
			key.WithKeys("G", "end"),
			key.WithHelp("G", "Go to bottom"),
		),
		HalfPageUp: key.NewBinding(
			key.WithKeys("ctrl+u"),
			key.WithHelp("ctrl+u", "Half page up"),
		),
		HalfPageDown: key.NewBinding(
			key.WithKeys("ctrl+d"),
			key.WithHelp("ctrl+d", "Half page down"),
		),

		// Input
		Confirm: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "Confirm / usage detail"),
		),
	}
}

// ShortHelp returns key bindings for the short help view.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Help, k.Quit}
}

// FullHelp returns key bindings for the full help view.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.PageDashboard, k.PageAccounts, k.PageAPIKeys, k.PageRequestLogs, k.Tab},
		{k.Up, k.Down, k.Top, k.Bottom, k.HalfPageUp, k.HalfPageDown},
		{k.RefreshAll, k.RefreshUsage, k.Filter, k.StatusFilter, k.ClearLogs},
		{k.ToggleKey, k.ReadSecret, k.CreateKey, k.ChangeModel, k.DeleteRow},
		{k.Import, k.PinAccount, k.Confirm, k.MoveRowUp, k.MoveRowDown},
		{k.Login, k.UpdateCheck, k.CycleTheme, k.ToggleTransparency},
		{k.Help, k.Quit},
	}
}
