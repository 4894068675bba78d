package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/codexmanager/cmpanel/internal/models"
	"github.com/codexmanager/cmpanel/internal/state"
)

// renderRequestLogs draws the virtualized log table. Only the window's
// rendered slice is materialized; rows recycled off the top collapse
// into a single spacer line.
func (m Model) renderRequestLogs() string {
	s := m.theme.Styles()
	snap := m.snapshot
	logs := snap.RequestLogs
	start, end := m.logWindow.Visible()
	if end > len(logs) {
		end = len(logs)
	}
	sel := m.selected[state.PageRequestLogs]

	var b strings.Builder
	header := fmt.Sprintf("  %s %s %s %s %s %s",
		padCell("时间", 9), padCell("方法", 5), padCell("路径", 30),
		padCell("模型", 18), padCell("账号", 14), padCell("状态", 5))
	b.WriteString(s.MutedText.Render(header))
	b.WriteString("\n")

	if len(logs) == 0 {
		b.WriteString(s.FaintText.Render("  暂无请求日志\n"))
		return b.String()
	}

	if start > 0 {
		b.WriteString(s.FaintText.Render(fmt.Sprintf("  … %d 条较早记录已折叠\n", start)))
	}

	for i := start; i < end; i++ {
		e := logs[i]
		status := fmt.Sprintf("%d", e.StatusCode)
		if e.StatusCode == 0 {
			status = "--"
		}

		if i-start == sel && m.currentPage == state.PageRequestLogs {
			row := fmt.Sprintf("  %s %s %s %s %s %s",
				padCell(formatClock(e.CreatedAt), 9), padCell(e.Method, 5),
				padCell(e.RequestPath, 30), padCell(e.Model, 18),
				padCell(e.AccountLabel, 14), padCell(status, 5))
			b.WriteString(s.Selected.Render(row))
		} else {
			b.WriteString(s.FaintText.Render("  " + padCell(formatClock(e.CreatedAt), 9) + " "))
			b.WriteString(s.Text.Render(padCell(e.Method, 5) + " " + padCell(e.RequestPath, 30) + " "))
			b.WriteString(s.MutedText.Render(padCell(e.Model, 18) + " " + padCell(e.AccountLabel, 14) + " "))
			b.WriteString(statusCodeStyle(s, e).Render(padCell(status, 5)))
		}
		b.WriteString("\n")
	}

	if end < len(logs) {
		b.WriteString(s.FaintText.Render(fmt.Sprintf("  ↓ 还有 %d 条，向下滚动加载\n", len(logs)-end)))
	}

	var filters []string
	if snap.RequestLogQuery != "" {
		filters = append(filters, fmt.Sprintf("筛选 %q", snap.RequestLogQuery))
	}
	if snap.RequestLogStatusFilter != "" {
		filters = append(filters, "状态 "+snap.RequestLogStatusFilter)
	}
	filters = append(filters, fmt.Sprintf("%d 条", len(logs)))
	b.WriteString(s.FaintText.Render("  " + strings.Join(filters, " · ") + " · / 搜索 · f 状态 · D 清空 · y 路径\n"))

	return b.String()
}

// statusCodeStyle colors a status cell by outcome class.
func statusCodeStyle(s Styles, e models.RequestLogEntry) lipgloss.Style {
	switch {
	case e.Error != "" || e.StatusCode >= 500:
		return s.DangerText
	case e.StatusCode >= 400:
		return s.WarningText
	case e.StatusCode >= 200 && e.StatusCode < 300:
		return s.SuccessText
	default:
		return s.MutedText
	}
}
