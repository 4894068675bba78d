package ui

import (
	"fmt"
	"strings"

	"github.com/codexmanager/cmpanel/internal/models"
	"github.com/codexmanager/cmpanel/internal/state"
)

// visibleAccounts applies the search and filter settings to the cached
// account list. Matching is case-insensitive over label, note and group.
func (m Model) visibleAccounts() []models.Account {
	snap := m.snapshot
	search := strings.ToLower(strings.TrimSpace(snap.AccountSearch))
	usage := m.usageByAccount()

	out := make([]models.Account, 0, len(snap.Accounts))
	for _, a := range snap.Accounts {
		if search != "" &&
			!strings.Contains(strings.ToLower(a.Label), search) &&
			!strings.Contains(strings.ToLower(a.Note), search) &&
			!strings.Contains(strings.ToLower(a.GroupName), search) {
			continue
		}
		if snap.AccountGroupFilter != "" && a.GroupName != snap.AccountGroupFilter {
			continue
		}
		if snap.AccountFilter != "" {
			avail := string(models.AvailabilityUnknown)
			if u, ok := usage[a.ID]; ok {
				avail = string(u.Availability)
			}
			if avail != snap.AccountFilter {
				continue
			}
		}
		out = append(out, a)
	}
	return out
}

// usageByAccount indexes the usage snapshots for row joins.
func (m Model) usageByAccount() map[string]models.UsageSnapshot {
	out := make(map[string]models.UsageSnapshot, len(m.snapshot.Usage))
	for _, u := range m.snapshot.Usage {
		out[u.AccountID] = u
	}
	return out
}

// renderAccounts draws the account table and rebuilds the row-id lookup
// so selection actions resolve ids without rescanning the list.
func (m Model) renderAccounts() string {
	s := m.theme.Styles()
	accounts := m.visibleAccounts()
	usage := m.usageByAccount()
	sel := m.selected[state.PageAccounts]

	ids := make([]string, len(accounts))
	for i, a := range accounts {
		ids[i] = a.ID
	}
	m.rowIDs[state.PageAccounts] = ids

	var b strings.Builder
	header := fmt.Sprintf("  %s %s %s %s %s %s",
		padCell("账号", 20), padCell("分组", 10), padCell("状态", 8),
		padCell("5h", 6), padCell("周", 6), padCell("重置", 12))
	b.WriteString(s.MutedText.Render(header))
	b.WriteString("\n")

	if len(accounts) == 0 {
		if m.snapshot.AccountSearch != "" || m.snapshot.AccountFilter != "" || m.snapshot.AccountGroupFilter != "" {
			b.WriteString(s.FaintText.Render("  没有匹配的账号\n"))
		} else {
			b.WriteString(s.FaintText.Render("  暂无账号，按 L 登录添加\n"))
		}
		return b.String()
	}

	for i, a := range accounts {
		avail := models.AvailabilityUnknown
		primary, secondary := "--", "--"
		resets := "--"
		if u, ok := usage[a.ID]; ok {
			avail = u.Availability
			primary = formatPercent(u.UsedPercent)
			secondary = formatPercent(u.SecondaryUsedPercent)
			if !u.ResetsAt.IsZero() {
				resets = formatRelTime(u.ResetsAt)
			}
		}

		label := a.Label
		if a.ID == m.snapshot.ManualPreferredAccountID {
			label = "★ " + label
		}
		row := fmt.Sprintf("  %s %s %s %s %s %s",
			padCell(label, 20), padCell(a.GroupName, 10),
			padCell(string(avail), 8),
			padCell(primary, 6), padCell(secondary, 6), padCell(resets, 12))

		switch {
		case i == sel && m.currentPage == state.PageAccounts:
			b.WriteString(s.Selected.Render(row))
		default:
			b.WriteString(s.Text.Render("  " + padCell(label, 20) + " " + padCell(a.GroupName, 10) + " "))
			b.WriteString(s.StatusStyle(string(avail)).Render(padCell(string(avail), 8)))
			b.WriteString(s.Text.Render(" " + padCell(primary, 6) + " " + padCell(secondary, 6) + " "))
			b.WriteString(s.MutedText.Render(padCell(resets, 12)))
		}
		b.WriteString("\n")
	}

	if q := m.snapshot.AccountSearch; q != "" {
		b.WriteString(s.FaintText.Render(fmt.Sprintf("  筛选 %q · %d/%d\n", q, len(accounts), len(m.snapshot.Accounts))))
	}
	return b.String()
}
