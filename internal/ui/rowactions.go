package ui

import (
	"encoding/json"
	"fmt"
	"slices"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/codexmanager/cmpanel/internal/models"
	"github.com/codexmanager/cmpanel/internal/state"
	"github.com/codexmanager/cmpanel/internal/transport"
)

// selectedRowID resolves the current selection through the row-id map.
func (m Model) selectedRowID(page state.Page) string {
	ids := m.rowIDs[page]
	sel := m.selected[page]
	if sel < 0 || sel >= len(ids) {
		return ""
	}
	return ids[sel]
}

// deleteSelected removes the selected account or key. The first press
// arms the deletion; only a second press on the same row executes it.
// The service owns the data, so the cached list is only updated after
// the call succeeds.
func (m Model) deleteSelected() (tea.Model, tea.Cmd) {
	page := m.currentPage
	if page != state.PageAccounts && page != state.PageAPIKeys {
		return m, nil
	}
	id := m.selectedRowID(page)
	if id == "" {
		return m, nil
	}
	if m.pendingDelete != id {
		m.pendingDelete = id
		m.setFlash("再按一次 d 确认删除", flashInfo)
		return m, flashExpireCmd()
	}
	m.pendingDelete = ""

	invoker := m.invoker
	store := m.store
	ctx := m.ctx
	snap := m.snapshot

	if page == state.PageAccounts {
		return m, func() tea.Msg {
			if _, err := invoker.Invoke(ctx, transport.OpAccountDelete, map[string]any{"id": id}, reqctlOptions()); err != nil {
				return actionDoneMsg{err: err}
			}
			store.SetAccounts(slices.DeleteFunc(slices.Clone(snap.Accounts),
				func(a models.Account) bool { return a.ID == id }))
			return actionDoneMsg{flash: "账号已删除", level: flashSuccess, refresh: true}
		}
	}
	return m, func() tea.Msg {
		if _, err := invoker.Invoke(ctx, transport.OpAPIKeyDelete, map[string]any{"key_id": id}, reqctlOptions()); err != nil {
			return actionDoneMsg{err: err}
		}
		store.SetAPIKeys(slices.DeleteFunc(slices.Clone(snap.APIKeys),
			func(k models.APIKey) bool { return k.ID == id }))
		return actionDoneMsg{flash: "密钥已删除", level: flashSuccess, refresh: true}
	}
}

// resortAccount swaps the selected account with its neighbor and pushes
// the new order. Disabled while a filter narrows the list, because the
// visible order is not the stored order then.
func (m Model) resortAccount(delta int) (tea.Model, tea.Cmd) {
	snap := m.snapshot
	if snap.AccountSearch != "" || snap.AccountFilter != "" || snap.AccountGroupFilter != "" {
		m.setFlash("清除筛选后才能排序", flashInfo)
		return m, flashExpireCmd()
	}
	sel := m.selected[state.PageAccounts]
	target := sel + delta
	if sel < 0 || sel >= len(snap.Accounts) || target < 0 || target >= len(snap.Accounts) {
		return m, nil
	}

	reordered := slices.Clone(snap.Accounts)
	reordered[sel], reordered[target] = reordered[target], reordered[sel]
	ids := make([]string, len(reordered))
	for i, a := range reordered {
		ids[i] = a.ID
	}
	m.selected[state.PageAccounts] = target

	invoker := m.invoker
	store := m.store
	ctx := m.ctx
	return m, func() tea.Msg {
		if _, err := invoker.Invoke(ctx, transport.OpAccountResort, map[string]any{"ids": ids}, reqctlOptions()); err != nil {
			return actionDoneMsg{err: err}
		}
		store.SetAccounts(reordered)
		return actionDoneMsg{}
	}
}

// importAccountCmd enrolls an account from an auth file on the service
// host, then reloads data.
func (m Model) importAccountCmd(path string) tea.Cmd {
	invoker := m.invoker
	ctx := m.ctx
	return func() tea.Msg {
		if _, err := invoker.Invoke(ctx, transport.OpAccountImport, map[string]any{"path": path}, reqctlOptions()); err != nil {
			return actionDoneMsg{err: err}
		}
		return actionDoneMsg{flash: "账号已导入", level: flashSuccess, refresh: true}
	}
}

// togglePreferredAccount pins the selected account as the manual
// preferred routing target, or unpins it when already pinned. The pin
// is a panel-side preference and never leaves the store.
func (m Model) togglePreferredAccount() (tea.Model, tea.Cmd) {
	id := m.selectedRowID(state.PageAccounts)
	if id == "" {
		return m, nil
	}
	if m.snapshot.ManualPreferredAccountID == id {
		m.store.SetManualPreferredAccount("")
		m.setFlash("已取消优先账号", flashInfo)
	} else {
		m.store.SetManualPreferredAccount(id)
		m.setFlash("已设为优先账号", flashSuccess)
	}
	return m, tea.Batch(fetchSnapshotCmd(m.store), flashExpireCmd())
}

// usageDetailCmd reads the selected account's usage from the service
// and surfaces the window percentages. The account is recorded as the
// one whose detail is open.
func (m Model) usageDetailCmd() tea.Cmd {
	id := m.selectedRowID(state.PageAccounts)
	if id == "" {
		return nil
	}
	invoker := m.invoker
	store := m.store
	ctx := m.ctx
	return func() tea.Msg {
		raw, err := invoker.Invoke(ctx, transport.OpUsageRead, map[string]any{"account_id": id}, reqctlOptions())
		if err != nil {
			return actionDoneMsg{err: err}
		}
		store.SetCurrentUsageAccount(id)

		var payload struct {
			Usage models.UsageSnapshot `json:"usage"`
		}
		var u models.UsageSnapshot
		if json.Unmarshal(raw, &payload) == nil && payload.Usage.AccountID != "" {
			u = payload.Usage
		} else {
			_ = json.Unmarshal(raw, &u)
		}
		u.Normalize()
		return actionDoneMsg{
			flash: fmt.Sprintf("用量：5h %s · 周 %s", formatPercent(u.UsedPercent), formatPercent(u.SecondaryUsedPercent)),
			level: flashInfo,
		}
	}
}

// createKeyCmd provisions a new API key under the given name. The first
// model option is sent along when one is known; otherwise the service
// assigns its default.
func (m Model) createKeyCmd(name string) tea.Cmd {
	params := map[string]any{"name": name}
	if len(m.snapshot.ModelOptions) > 0 {
		params["model_slug"] = m.snapshot.ModelOptions[0].Slug
	}
	invoker := m.invoker
	ctx := m.ctx
	return func() tea.Msg {
		if _, err := invoker.Invoke(ctx, transport.OpAPIKeyCreate, params, reqctlOptions()); err != nil {
			return actionDoneMsg{err: err}
		}
		return actionDoneMsg{flash: "密钥已创建：" + name, level: flashSuccess, refresh: true}
	}
}

// changeSelectedKeyModel cycles the selected key to the next model
// option and pushes the change to the service.
func (m Model) changeSelectedKeyModel() (tea.Model, tea.Cmd) {
	id := m.selectedRowID(state.PageAPIKeys)
	if id == "" {
		return m, nil
	}
	options := m.snapshot.ModelOptions
	if len(options) == 0 {
		m.setFlash("暂无可用模型", flashInfo)
		return m, flashExpireCmd()
	}
	current := ""
	for _, k := range m.snapshot.APIKeys {
		if k.ID == id {
			current = k.ModelSlug
			break
		}
	}
	next := options[0]
	for i, opt := range options {
		if opt.Slug == current {
			next = options[(i+1)%len(options)]
			break
		}
	}

	invoker := m.invoker
	ctx := m.ctx
	return m, func() tea.Msg {
		params := map[string]any{"key_id": id, "model_slug": next.Slug}
		if _, err := invoker.Invoke(ctx, transport.OpAPIKeyUpdateModel, params, reqctlOptions()); err != nil {
			return actionDoneMsg{err: err}
		}
		return actionDoneMsg{flash: "模型已切换：" + next.Label(), level: flashSuccess, refresh: true}
	}
}

// readSecretCmd fetches the selected key's secret and surfaces it in
// the status line. The secret never enters the store.
func (m Model) readSecretCmd() tea.Cmd {
	id := m.selectedRowID(state.PageAPIKeys)
	if id == "" {
		return nil
	}
	invoker := m.invoker
	ctx := m.ctx
	return func() tea.Msg {
		raw, err := invoker.Invoke(ctx, transport.OpAPIKeyReadSecret, map[string]any{"key_id": id}, reqctlOptions())
		if err != nil {
			return actionDoneMsg{err: err}
		}
		var payload struct {
			Secret string `json:"secret"`
			Key    string `json:"key"`
			Value  string `json:"value"`
		}
		_ = json.Unmarshal(raw, &payload)
		secret := payload.Secret
		if secret == "" {
			secret = payload.Key
		}
		if secret == "" {
			secret = payload.Value
		}
		if secret == "" {
			return actionDoneMsg{flash: "服务未返回密钥内容", level: flashError}
		}
		return actionDoneMsg{flash: "密钥：" + secret, level: flashInfo}
	}
}
