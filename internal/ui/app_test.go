package ui

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/codexmanager/cmpanel/internal/conn"
	"github.com/codexmanager/cmpanel/internal/models"
	"github.com/codexmanager/cmpanel/internal/reqctl"
	"github.com/codexmanager/cmpanel/internal/state"
	"github.com/codexmanager/cmpanel/internal/transport"
)

// fakeInvoker records command names and params, answering with {}.
type fakeInvoker struct {
	calls  []string
	params []any
}

func (f *fakeInvoker) Invoke(ctx context.Context, op transport.Op, params any, opts reqctl.Options) (json.RawMessage, error) {
	f.calls = append(f.calls, op.Command)
	f.params = append(f.params, params)
	return json.RawMessage(`{}`), nil
}

func (f *fakeInvoker) InvokeCommand(ctx context.Context, command string, params any, opts reqctl.Options) (json.RawMessage, error) {
	f.calls = append(f.calls, command)
	return json.RawMessage(`{}`), nil
}

func (f *fakeInvoker) Desktop() bool { return true }

func newTestModel(t *testing.T) Model {
	t.Helper()
	m := New(Options{Store: state.New(conn.DefaultAddr)})
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return updated.(Model)
}

func TestFilterDebounce_StaleGenerationDropped(t *testing.T) {
	t.Parallel()

	m := newTestModel(t)
	m.currentPage = state.PageAccounts
	m.filter.input.SetValue("work")
	m.filter.gen = 3

	updated, _ := m.Update(filterDebounceMsg{gen: 2})
	m = updated.(Model)
	if got := m.store.Snapshot().AccountSearch; got != "" {
		t.Fatalf("stale debounce applied filter %q", got)
	}

	updated, _ = m.Update(filterDebounceMsg{gen: 3})
	m = updated.(Model)
	if got := m.store.Snapshot().AccountSearch; got != "work" {
		t.Fatalf("AccountSearch = %q, want work", got)
	}
	if m.filter.applied != "work" {
		t.Fatalf("applied = %q, want work", m.filter.applied)
	}
}

func TestFilterUnchanged_ShortCircuits(t *testing.T) {
	t.Parallel()

	m := newTestModel(t)
	m.currentPage = state.PageAccounts
	m.filter.applied = "work"
	m.filter.input.SetValue("  work  ")
	m.filter.gen = 1

	_, cmd := m.Update(filterDebounceMsg{gen: 1})
	if cmd != nil {
		t.Fatal("unchanged trimmed value should not schedule work")
	}
}

func TestSwitchPage_RecordsPageAndMarksDirty(t *testing.T) {
	t.Parallel()

	m := newTestModel(t)
	m.sched.Flush(func(pageFlag) {}) // drain the resize frame

	updated, cmd := m.switchPage(state.PageAccounts)
	m = updated.(Model)
	if m.currentPage != state.PageAccounts {
		t.Fatalf("currentPage = %v", m.currentPage)
	}
	if got := m.store.Snapshot().CurrentPage; got != state.PageAccounts {
		t.Fatalf("store page = %v", got)
	}
	if cmd == nil {
		t.Fatal("expected a frame command")
	}
	if m.sched.Pending()&dirtyAccounts == 0 {
		t.Fatal("accounts page not marked dirty")
	}
}

func TestSwitchPage_SamePageNoop(t *testing.T) {
	t.Parallel()

	m := newTestModel(t)
	m.sched.Flush(func(pageFlag) {})

	_, cmd := m.switchPage(state.PageDashboard)
	if cmd != nil {
		t.Fatal("re-selecting the current page should be a noop")
	}
}

func TestApplySnapshot_ProbeChangeInvalidatesAll(t *testing.T) {
	t.Parallel()

	m := newTestModel(t)
	m.sched.Flush(func(pageFlag) {})

	snap := m.store.Snapshot()
	snap.ServiceConnected = true
	snap.ServiceProbeID = 1
	updated, cmd := m.applySnapshot(snap)
	m = updated.(Model)
	if cmd == nil {
		t.Fatal("expected a frame command")
	}
	if m.sched.Pending() != dirtyAll {
		t.Fatalf("Pending = %b, want all pages", m.sched.Pending())
	}
}

func TestApplySnapshot_AppendOnlyLogsKeepWindowStart(t *testing.T) {
	t.Parallel()

	m := newTestModel(t)
	m.sched.Flush(func(pageFlag) {})

	first := state.Snapshot{RequestLogs: []models.RequestLogEntry{
		{ID: "a"}, {ID: "b"},
	}}
	updated, _ := m.applySnapshot(first)
	m = updated.(Model)
	start, _ := m.logWindow.Visible()
	if start != 0 || m.logWindow.Buffered() != 2 {
		t.Fatalf("window = (%d, %d buffered)", start, m.logWindow.Buffered())
	}

	second := state.Snapshot{RequestLogs: []models.RequestLogEntry{
		{ID: "a"}, {ID: "b"}, {ID: "c"},
	}}
	updated, _ = m.applySnapshot(second)
	m = updated.(Model)
	if m.logWindow.Buffered() != 3 {
		t.Fatalf("Buffered = %d, want 3", m.logWindow.Buffered())
	}
	if got, _ := m.logWindow.Visible(); got != 0 {
		t.Fatalf("append-only growth moved the window start to %d", got)
	}
}

func TestCycleTheme_AdvancesAndWraps(t *testing.T) {
	t.Parallel()

	m := newTestModel(t)
	if m.theme.Name != "dracula" {
		t.Fatalf("default theme = %q", m.theme.Name)
	}

	for _, want := range []string{"slate", "light", "dracula"} {
		updated, _ := m.cycleTheme()
		m = updated.(Model)
		if m.theme.Name != want {
			t.Fatalf("theme = %q, want %q", m.theme.Name, want)
		}
	}
}

func TestToggleTransparency_ClearsBackgrounds(t *testing.T) {
	t.Parallel()

	m := newTestModel(t)
	if m.theme.Surface != "" {
		t.Fatalf("default theme should be transparent, Surface = %q", m.theme.Surface)
	}

	updated, _ := m.toggleTransparency()
	m = updated.(Model)
	if !m.lowTransparency || m.theme.Surface == "" {
		t.Fatal("low transparency should restore solid backgrounds")
	}
}

func TestRenderAccounts_BuildsRowIDLookup(t *testing.T) {
	t.Parallel()

	m := newTestModel(t)
	m.snapshot = state.Snapshot{Accounts: []models.Account{
		{ID: "acc-1", Label: "Work"},
		{ID: "acc-2", Label: "Personal"},
	}}

	_ = m.renderAccounts()
	ids := m.rowIDs[state.PageAccounts]
	if len(ids) != 2 || ids[0] != "acc-1" || ids[1] != "acc-2" {
		t.Fatalf("rowIDs = %v", ids)
	}
}

func TestRenderAccounts_SearchNarrowsRows(t *testing.T) {
	t.Parallel()

	m := newTestModel(t)
	m.snapshot = state.Snapshot{
		Accounts: []models.Account{
			{ID: "acc-1", Label: "Work", GroupName: "team"},
			{ID: "acc-2", Label: "Personal"},
		},
		AccountSearch: "work",
	}

	if got := m.visibleAccounts(); len(got) != 1 || got[0].ID != "acc-1" {
		t.Fatalf("visibleAccounts = %v", got)
	}
}

func TestDeleteSelected_ArmsBeforeExecuting(t *testing.T) {
	t.Parallel()

	inv := &fakeInvoker{}
	m := newTestModel(t)
	m.invoker = inv
	m.currentPage = state.PageAccounts
	m.snapshot = state.Snapshot{Accounts: []models.Account{{ID: "acc-1", Label: "Work"}}}
	_ = m.renderAccounts()

	updated, _ := m.deleteSelected()
	m = updated.(Model)
	if m.pendingDelete != "acc-1" {
		t.Fatalf("pendingDelete = %q, want acc-1", m.pendingDelete)
	}
	if len(inv.calls) != 0 {
		t.Fatalf("first press must not call the service, got %v", inv.calls)
	}
}

func TestDeleteSelected_DisarmsOnSelectionMove(t *testing.T) {
	t.Parallel()

	m := newTestModel(t)
	m.currentPage = state.PageAccounts
	m.snapshot = state.Snapshot{Accounts: []models.Account{
		{ID: "acc-1"}, {ID: "acc-2"},
	}}
	_ = m.renderAccounts()

	updated, _ := m.deleteSelected()
	m = updated.(Model)
	if m.pendingDelete == "" {
		t.Fatal("delete not armed")
	}

	updated, _ = m.handleNavKey(tea.KeyMsg{Type: tea.KeyDown})
	m = updated.(Model)
	if m.pendingDelete != "" {
		t.Fatal("moving the selection must disarm the pending delete")
	}
}

func TestResortAccount_BlockedWhileFiltered(t *testing.T) {
	t.Parallel()

	inv := &fakeInvoker{}
	m := newTestModel(t)
	m.invoker = inv
	m.currentPage = state.PageAccounts
	m.snapshot = state.Snapshot{
		Accounts:      []models.Account{{ID: "acc-1"}, {ID: "acc-2"}},
		AccountSearch: "acc",
	}

	updated, cmd := m.resortAccount(1)
	m = updated.(Model)
	if m.flash.text == "" {
		t.Fatal("expected a flash explaining the block")
	}
	if cmd != nil {
		cmd() // flash expiry only
	}
	if len(inv.calls) != 0 {
		t.Fatalf("filtered resort must not call the service, got %v", inv.calls)
	}
}

func TestResortAccount_SwapsAndPushesOrder(t *testing.T) {
	t.Parallel()

	inv := &fakeInvoker{}
	m := newTestModel(t)
	m.invoker = inv
	m.currentPage = state.PageAccounts
	m.snapshot = state.Snapshot{Accounts: []models.Account{
		{ID: "acc-1"}, {ID: "acc-2"},
	}}

	updated, cmd := m.resortAccount(1)
	m = updated.(Model)
	if m.selected[state.PageAccounts] != 1 {
		t.Fatalf("selection = %d, want 1", m.selected[state.PageAccounts])
	}
	if cmd == nil {
		t.Fatal("expected a service command")
	}
	cmd()
	if len(inv.calls) != 1 || inv.calls[0] != "service_account_resort" {
		t.Fatalf("calls = %v", inv.calls)
	}
	got := m.store.Snapshot().Accounts
	if len(got) != 2 || got[0].ID != "acc-2" || got[1].ID != "acc-1" {
		t.Fatalf("confirmed order not echoed into the store: %v", got)
	}
}

func TestTogglePreferredAccount_PinAndUnpin(t *testing.T) {
	t.Parallel()

	m := newTestModel(t)
	m.currentPage = state.PageAccounts
	m.snapshot = state.Snapshot{Accounts: []models.Account{{ID: "acc-1", Label: "Work"}}}
	_ = m.renderAccounts()

	updated, _ := m.togglePreferredAccount()
	m = updated.(Model)
	if got := m.store.Snapshot().ManualPreferredAccountID; got != "acc-1" {
		t.Fatalf("pinned = %q, want acc-1", got)
	}

	m.snapshot.ManualPreferredAccountID = "acc-1"
	updated, _ = m.togglePreferredAccount()
	m = updated.(Model)
	if got := m.store.Snapshot().ManualPreferredAccountID; got != "" {
		t.Fatalf("second press should unpin, got %q", got)
	}
}

func TestRenderAccounts_MarksPinnedAccount(t *testing.T) {
	t.Parallel()

	m := newTestModel(t)
	m.snapshot = state.Snapshot{
		Accounts:                 []models.Account{{ID: "acc-1", Label: "Work"}},
		ManualPreferredAccountID: "acc-1",
	}

	if out := m.renderAccounts(); !strings.Contains(out, "★ Work") {
		t.Fatal("pinned account row missing the star marker")
	}
}

func TestUsageDetail_ReadsSelectedAccount(t *testing.T) {
	t.Parallel()

	inv := &fakeInvoker{}
	m := newTestModel(t)
	m.invoker = inv
	m.currentPage = state.PageAccounts
	m.snapshot = state.Snapshot{Accounts: []models.Account{{ID: "acc-1", Label: "Work"}}}
	_ = m.renderAccounts()

	cmd := m.usageDetailCmd()
	if cmd == nil {
		t.Fatal("expected a usage read command")
	}
	msg := cmd()
	done, ok := msg.(actionDoneMsg)
	if !ok || done.err != nil {
		t.Fatalf("msg = %#v", msg)
	}
	if len(inv.calls) != 1 || inv.calls[0] != "service_usage_read" {
		t.Fatalf("calls = %v", inv.calls)
	}
	if got := m.store.Snapshot().CurrentUsageAccountID; got != "acc-1" {
		t.Fatalf("CurrentUsageAccountID = %q, want acc-1", got)
	}
	if !strings.Contains(done.flash, "用量") {
		t.Fatalf("flash = %q", done.flash)
	}
}

func TestCreateKey_PromptsForNameAndInvokes(t *testing.T) {
	t.Parallel()

	inv := &fakeInvoker{}
	m := newTestModel(t)
	m.invoker = inv
	m.currentPage = state.PageAPIKeys
	m.snapshot = state.Snapshot{ModelOptions: []models.ModelOption{{Slug: "gpt-5"}}}

	updated, _ := m.handleKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'n'}})
	m = updated.(Model)
	if !m.filter.active || m.filter.mode != inputKeyName {
		t.Fatalf("n should open the name prompt, active=%v mode=%v", m.filter.active, m.filter.mode)
	}

	m.filter.input.SetValue("ops")
	updated, cmd := m.handleFilterKey(tea.KeyMsg{Type: tea.KeyEnter})
	m = updated.(Model)
	if m.filter.active {
		t.Fatal("prompt should close on enter")
	}
	if cmd == nil {
		t.Fatal("expected a create command")
	}
	msg := cmd()
	done, ok := msg.(actionDoneMsg)
	if !ok || done.err != nil {
		t.Fatalf("msg = %#v", msg)
	}
	if !done.refresh {
		t.Fatal("create must schedule a refresh")
	}
	if len(inv.calls) != 1 || inv.calls[0] != "service_apikey_create" {
		t.Fatalf("calls = %v", inv.calls)
	}
	params, _ := inv.params[0].(map[string]any)
	if params["name"] != "ops" || params["model_slug"] != "gpt-5" {
		t.Fatalf("params = %v", params)
	}
}

func TestChangeModel_CyclesToNextOption(t *testing.T) {
	t.Parallel()

	inv := &fakeInvoker{}
	m := newTestModel(t)
	m.invoker = inv
	m.currentPage = state.PageAPIKeys
	m.snapshot = state.Snapshot{
		APIKeys: []models.APIKey{{ID: "key-1", Name: "ops", ModelSlug: "gpt-5"}},
		ModelOptions: []models.ModelOption{
			{Slug: "gpt-5"}, {Slug: "gpt-5-mini"},
		},
	}
	_ = m.renderAPIKeys()

	updated, cmd := m.changeSelectedKeyModel()
	m = updated.(Model)
	if cmd == nil {
		t.Fatal("expected an update command")
	}
	msg := cmd()
	done, ok := msg.(actionDoneMsg)
	if !ok || done.err != nil {
		t.Fatalf("msg = %#v", msg)
	}
	if !done.refresh {
		t.Fatal("model change must schedule a refresh")
	}
	if len(inv.calls) != 1 || inv.calls[0] != "service_apikey_update_model" {
		t.Fatalf("calls = %v", inv.calls)
	}
	params, _ := inv.params[0].(map[string]any)
	if params["key_id"] != "key-1" || params["model_slug"] != "gpt-5-mini" {
		t.Fatalf("params = %v", params)
	}
}

func TestChangeModel_NoOptionsFlashes(t *testing.T) {
	t.Parallel()

	inv := &fakeInvoker{}
	m := newTestModel(t)
	m.invoker = inv
	m.currentPage = state.PageAPIKeys
	m.snapshot = state.Snapshot{APIKeys: []models.APIKey{{ID: "key-1"}}}
	_ = m.renderAPIKeys()

	updated, _ := m.changeSelectedKeyModel()
	m = updated.(Model)
	if m.flash.text == "" {
		t.Fatal("expected a flash explaining there is no model to switch to")
	}
	if len(inv.calls) != 0 {
		t.Fatalf("no options must not call the service, got %v", inv.calls)
	}
}

func TestStatusLine_IdleHintMatchesQuitBinding(t *testing.T) {
	t.Parallel()

	m := newTestModel(t)
	line := m.renderStatusLine()
	if !strings.Contains(line, "e 退出") {
		t.Fatalf("idle hint missing the quit key: %q", line)
	}

	quits := m.keys.Quit.Keys()
	found := false
	for _, k := range quits {
		if k == "e" {
			found = true
		}
	}
	if !found {
		t.Fatalf("hint advertises e but Quit binds %v", quits)
	}
}

func TestAdvanceUpdate_PhaseSelection(t *testing.T) {
	t.Parallel()

	m := newTestModel(t)
	// Without a status the key must trigger a check, which needs the
	// flow; nil flow means the binding is inert.
	if _, cmd := m.advanceUpdate(); cmd != nil {
		t.Fatal("nil update flow should disable the binding")
	}
}
