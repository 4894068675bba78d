package ui

import (
	"fmt"
	"strings"

	"github.com/codexmanager/cmpanel/internal/state"
)

// pageTitles maps pages to the header tab labels.
var pageTitles = map[state.Page]string{
	state.PageDashboard:   "1 概览",
	state.PageAccounts:    "2 账号",
	state.PageAPIKeys:     "3 密钥",
	state.PageRequestLogs: "4 请求日志",
}

// renderTabs draws the header tab strip.
func (m Model) renderTabs() string {
	s := m.theme.Styles()
	parts := make([]string, 0, len(pageOrder))
	for _, p := range pageOrder {
		label := pageTitles[p]
		if p == m.currentPage {
			parts = append(parts, s.TabActive.Render("["+label+"]"))
		} else {
			parts = append(parts, s.TabInactive.Render(" "+label+" "))
		}
	}
	return s.Header.Render(strings.Join(parts, " "))
}

// renderStatusLine draws the bottom line: connection, refresh progress,
// flash message, and a key hint.
func (m Model) renderStatusLine() string {
	s := m.theme.Styles()
	var parts []string

	if m.snapshot.ServiceConnected {
		parts = append(parts, s.SuccessText.Render("● 已连接 ")+s.MutedText.Render(m.snapshot.ServiceAddr))
	} else {
		parts = append(parts, s.DangerText.Render("○ 未连接 ")+s.MutedText.Render(m.snapshot.ServiceAddr))
	}

	if m.progress.Active {
		parts = append(parts, s.InfoText.Render(fmt.Sprintf("刷新 %d/%d %s",
			m.progress.Completed, m.progress.Total, m.progress.LastTaskLabel)))
	}

	if m.filter.active {
		label := "筛选: "
		switch m.filter.mode {
		case inputImportPath:
			label = "导入: "
		case inputKeyName:
			label = "新密钥: "
		}
		parts = append(parts, s.AccentText.Render(label)+m.filter.input.View())
	} else if m.flash.text != "" {
		switch m.flash.level {
		case flashSuccess:
			parts = append(parts, s.SuccessText.Render(m.flash.text))
		case flashError:
			parts = append(parts, s.DangerText.Render(truncate(m.flash.text, max(m.width-30, 20))))
		default:
			parts = append(parts, s.InfoText.Render(m.flash.text))
		}
	} else {
		parts = append(parts, s.FaintText.Render("h 帮助 · r 刷新 · e 退出"))
	}

	return truncate(strings.Join(parts, s.FaintText.Render("  │  ")), max(m.width, 20))
}

// renderHelp draws the full-screen help overlay.
func (m Model) renderHelp() string {
	s := m.theme.Styles()
	var b strings.Builder
	b.WriteString(s.AccentText.Render("键位说明"))
	b.WriteString("\n\n")
	for _, col := range m.keys.FullHelp() {
		for _, binding := range col {
			b.WriteString("  ")
			b.WriteString(s.InfoText.Render(padCell(binding.Help().Key, 10)))
			b.WriteString(s.Text.Render(binding.Help().Desc))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	b.WriteString(s.FaintText.Render("按任意键返回"))
	return b.String()
}
