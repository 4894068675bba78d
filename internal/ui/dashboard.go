package ui

import (
	"fmt"
	"strings"

	"github.com/guptarohit/asciigraph"

	"github.com/codexmanager/cmpanel/internal/version"
)

// renderDashboard draws the overview page: connection, today's traffic
// summary, a per-account usage sparkline, and the update state.
func (m Model) renderDashboard() string {
	s := m.theme.Styles()
	snap := m.snapshot
	var b strings.Builder

	b.WriteString(s.AccentText.Render("服务"))
	b.WriteString("\n")
	if snap.ServiceConnected {
		b.WriteString(fmt.Sprintf("  %s  %s  probe #%d\n",
			s.SuccessText.Render("在线"),
			s.Text.Render(snap.ServiceAddr),
			snap.ServiceProbeID))
	} else {
		b.WriteString("  " + s.DangerText.Render("离线") + "  " + s.MutedText.Render(snap.ServiceAddr) + "\n")
		if snap.ServiceLastError != "" {
			b.WriteString("  " + s.WarningText.Render(truncate(snap.ServiceLastError, max(m.width-4, 20))) + "\n")
		}
	}
	b.WriteString(s.FaintText.Render(fmt.Sprintf("  账号 %d · 密钥 %d · 最近更新 %s\n",
		len(snap.Accounts), len(snap.APIKeys), formatRelTime(snap.LastUpdated))))

	b.WriteString("\n")
	b.WriteString(s.AccentText.Render("今日流量"))
	b.WriteString("\n")
	sum := snap.TodaySummary
	b.WriteString(fmt.Sprintf("  tokens %s  缓存 %s  推理 %s  费用 $%.4f\n",
		s.Text.Render(formatTokens(sum.TodayTokens)),
		s.MutedText.Render(formatTokens(sum.CachedInputTokens)),
		s.MutedText.Render(formatTokens(sum.ReasoningOutputTokens)),
		sum.EstimatedCost))

	if graph := m.renderUsageGraph(); graph != "" {
		b.WriteString("\n")
		b.WriteString(s.AccentText.Render("各账号用量"))
		b.WriteString("\n")
		b.WriteString(graph)
		b.WriteString("\n")
	}

	if m.updateStatus != nil {
		b.WriteString("\n")
		b.WriteString(s.AccentText.Render("更新"))
		b.WriteString("\n")
		st := m.updateStatus
		if st.Available {
			b.WriteString("  " + s.WarningText.Render(fmt.Sprintf("发现新版本 v%s", st.Version)))
			b.WriteString(s.MutedText.Render("  按 u " + st.ActionLabel()))
			b.WriteString("\n")
		} else {
			b.WriteString("  " + s.SuccessText.Render("已是最新版本") + "\n")
		}
	}

	if snap.ActiveLoginID != "" {
		b.WriteString("\n  " + s.InfoText.Render("登录进行中，在浏览器完成授权 (ctrl+x 取消)") + "\n")
	}

	b.WriteString("\n")
	b.WriteString(s.FaintText.Render("  " + version.Info() + "\n"))

	return b.String()
}

// renderUsageGraph plots each account's primary usage percentage.
func (m Model) renderUsageGraph() string {
	var data []float64
	for _, u := range m.snapshot.Usage {
		if u.UsedPercent != nil {
			data = append(data, *u.UsedPercent)
		}
	}
	if len(data) < 2 {
		return ""
	}
	width := max(min(m.width-12, 60), 10)
	return asciigraph.Plot(data,
		asciigraph.Height(5),
		asciigraph.Width(width),
		asciigraph.Offset(4),
		asciigraph.Precision(0),
	)
}
