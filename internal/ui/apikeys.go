package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/codexmanager/cmpanel/internal/state"
)

// renderAPIKeys draws the downstream key table.
func (m Model) renderAPIKeys() string {
	s := m.theme.Styles()
	keys := m.snapshot.APIKeys
	sel := m.selected[state.PageAPIKeys]

	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = k.ID
	}
	m.rowIDs[state.PageAPIKeys] = ids

	var b strings.Builder
	header := fmt.Sprintf("  %s %s %s %s %s",
		padCell("名称", 18), padCell("模型", 22), padCell("协议", 14),
		padCell("状态", 9), padCell("最近使用", 12))
	b.WriteString(s.MutedText.Render(header))
	b.WriteString("\n")

	if len(keys) == 0 {
		b.WriteString(s.FaintText.Render("  暂无密钥\n"))
		return b.String()
	}

	for i, k := range keys {
		model := k.ModelSlug
		if k.ReasoningEffort != "" {
			model += " (" + k.ReasoningEffort + ")"
		}
		lastUsed := "--"
		if k.LastUsedAt > 0 {
			lastUsed = formatRelTime(time.Unix(k.LastUsedAt, 0))
		}

		if i == sel && m.currentPage == state.PageAPIKeys {
			row := fmt.Sprintf("  %s %s %s %s %s",
				padCell(k.Name, 18), padCell(model, 22), padCell(string(k.Protocol), 14),
				padCell(string(k.Status), 9), padCell(lastUsed, 12))
			b.WriteString(s.Selected.Render(row))
		} else {
			b.WriteString(s.Text.Render("  " + padCell(k.Name, 18) + " " + padCell(model, 22) + " "))
			b.WriteString(s.MutedText.Render(padCell(string(k.Protocol), 14) + " "))
			b.WriteString(s.StatusStyle(string(k.Status)).Render(padCell(string(k.Status), 9)))
			b.WriteString(s.MutedText.Render(" " + padCell(lastUsed, 12)))
		}
		b.WriteString("\n")
	}

	b.WriteString(s.FaintText.Render("  x 启用/停用\n"))
	return b.String()
}
