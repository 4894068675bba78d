package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/codexmanager/cmpanel/internal/conn"
	"github.com/codexmanager/cmpanel/internal/loginflow"
	"github.com/codexmanager/cmpanel/internal/models"
	"github.com/codexmanager/cmpanel/internal/refresh"
	"github.com/codexmanager/cmpanel/internal/settings"
	"github.com/codexmanager/cmpanel/internal/state"
	"github.com/codexmanager/cmpanel/internal/transport"
	"github.com/codexmanager/cmpanel/internal/update"
)

const (
	defaultSnapshotTick = time.Second
	filterDebounce      = 220 * time.Millisecond
	flashDuration       = 3 * time.Second
)

// Options configures the UI.
type Options struct {
	Context      context.Context
	Store        *state.Store
	Orchestrator *refresh.Orchestrator
	Settings     *settings.Sync
	Conn         *conn.Manager
	Login        *loginflow.Flow
	Update       *update.Flow
	Invoker      transport.Invoker

	ThemeName       string
	LowTransparency bool
	SnapshotTick    time.Duration
}

// pageOrder drives tab cycling and the header tab strip.
var pageOrder = []state.Page{
	state.PageDashboard,
	state.PageAccounts,
	state.PageAPIKeys,
	state.PageRequestLogs,
}

// inputMode says what the shared text input is collecting.
type inputMode int

const (
	inputFilter inputMode = iota
	inputImportPath
	inputKeyName
)

// filterState holds the shared text input, its mode, and the filter
// debounce bookkeeping.
type filterState struct {
	input   textinput.Model
	active  bool
	mode    inputMode
	gen     int    // debounce generation; stale timers are dropped
	applied string // last effective value, for the unchanged short-circuit
}

// flashState is a transient status-line message.
type flashState struct {
	text  string
	level flashLevel
	until time.Time
}

type flashLevel int

const (
	flashInfo flashLevel = iota
	flashSuccess
	flashError
)

// Model is the root application state for Bubble Tea.
type Model struct {
	ctx      context.Context
	store    *state.Store
	orch     *refresh.Orchestrator
	settings *settings.Sync
	connMgr  *conn.Manager
	login    *loginflow.Flow
	update   *update.Flow
	invoker  transport.Invoker

	keys keyMap

	// UI state
	theme           Theme
	lowTransparency bool
	currentPage     state.Page
	width           int
	height          int
	ready           bool
	showHelp        bool

	// Data state
	snapshot     state.Snapshot
	lastUpdated  time.Time
	snapshotTick time.Duration

	// Frame scheduling: pages render into a cache, one flush per frame.
	sched    frameScheduler
	rendered map[state.Page]string

	// Per-page selection and row-id lookup rebuilt on render.
	selected map[state.Page]int
	rowIDs   map[state.Page][]string

	// Request-log page
	logWindow   *logWindow
	logViewport viewport.Model
	statusCycle int

	// Filter input (accounts + request logs)
	filter filterState

	// Action state
	pendingDelete string // armed row id for two-press delete
	flash         flashState
	progress      models.RefreshAllProgress
	updateStatus  *update.Status
	loginActive   bool
}

// New creates a new Bubble Tea model.
func New(opts Options) Model {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	tick := opts.SnapshotTick
	if tick == 0 {
		tick = defaultSnapshotTick
	}

	ti := textinput.New()
	ti.Placeholder = "筛选…"
	ti.CharLimit = 120

	m := Model{
		ctx:             ctx,
		store:           opts.Store,
		orch:            opts.Orchestrator,
		settings:        opts.Settings,
		connMgr:         opts.Conn,
		login:           opts.Login,
		update:          opts.Update,
		invoker:         opts.Invoker,
		keys:            DefaultKeyMap(),
		theme:           GetTheme(opts.ThemeName).Opaque(opts.LowTransparency),
		lowTransparency: opts.LowTransparency,
		currentPage:     state.PageDashboard,
		snapshotTick:    tick,
		rendered:        make(map[state.Page]string),
		selected:        make(map[state.Page]int),
		rowIDs:          make(map[state.Page][]string),
		logWindow:       newLogWindow(),
	}
	m.filter.input = ti
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tea.EnterAltScreen,
		tickCmd(m.snapshotTick),
		fetchSnapshotCmd(m.store),
	)
}

// Messages

type tickMsg time.Time

type snapshotMsg state.Snapshot

type flushMsg struct{}

type flashExpireMsg struct{}

type filterDebounceMsg struct {
	gen int
}

type actionDoneMsg struct {
	flash   string
	level   flashLevel
	err     error
	refresh bool // schedule a background refresh-all afterwards
}

type logsRefreshedMsg struct {
	applied bool
	err     error
}

type updatePhaseMsg struct {
	status update.Status
	err    error
}

type loginDoneMsg struct {
	err error
}

// ProgressMsg carries refresh-all progress from the orchestrator into
// the UI. The app layer forwards it via Program.Send.
type ProgressMsg models.RefreshAllProgress

// UpdateAvailableMsg announces a background update check hit.
type UpdateAvailableMsg update.Status

// Commands

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchSnapshotCmd(store *state.Store) tea.Cmd {
	return func() tea.Msg {
		return snapshotMsg(store.Snapshot())
	}
}

func frameCmd() tea.Msg {
	return flushMsg{}
}

// invalidate marks pages dirty and arms a frame when needed.
func (m *Model) invalidate(flags pageFlag) tea.Cmd {
	if m.sched.MarkDirty(flags) {
		return frameCmd
	}
	return nil
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if !m.ready {
			m.logViewport = viewport.New(msg.Width-2, msg.Height-5)
		} else {
			m.logViewport.Width = msg.Width - 2
			m.logViewport.Height = msg.Height - 5
		}
		m.ready = true
		return m, m.invalidate(dirtyAll)

	case tickMsg:
		return m, tea.Batch(fetchSnapshotCmd(m.store), tickCmd(m.snapshotTick))

	case snapshotMsg:
		return m.applySnapshot(state.Snapshot(msg))

	case flushMsg:
		rearmed := m.sched.Flush(func(flags pageFlag) {
			m.renderDirty(flags)
		})
		if rearmed {
			return m, frameCmdWrap()
		}
		return m, nil

	case ProgressMsg:
		m.progress = models.RefreshAllProgress(msg)
		return m, m.invalidate(dirtyDashboard)

	case UpdateAvailableMsg:
		st := update.Status(msg)
		m.updateStatus = &st
		m.setFlash(fmt.Sprintf("发现新版本 v%s", st.Version), flashInfo)
		return m, tea.Batch(m.invalidate(dirtyDashboard), flashExpireCmd())

	case actionDoneMsg:
		if msg.err != nil {
			m.setFlash(transport.DisplayError(msg.err), flashError)
		} else if msg.flash != "" {
			m.setFlash(msg.flash, msg.level)
		}
		cmds := []tea.Cmd{fetchSnapshotCmd(m.store), flashExpireCmd()}
		if msg.refresh && msg.err == nil {
			cmds = append(cmds, m.refreshAllCmd(false))
		}
		return m, tea.Batch(cmds...)

	case logsRefreshedMsg:
		if msg.err != nil {
			m.setFlash(transport.DisplayError(msg.err), flashError)
			return m, flashExpireCmd()
		}
		if !msg.applied {
			return m, nil // lost to a newer fetch
		}
		return m, fetchSnapshotCmd(m.store)

	case updatePhaseMsg:
		return m.applyUpdatePhase(msg)

	case loginDoneMsg:
		m.loginActive = false
		if msg.err != nil {
			m.setFlash(transport.DisplayError(msg.err), flashError)
			return m, flashExpireCmd()
		}
		m.setFlash("登录成功", flashSuccess)
		return m, tea.Batch(m.refreshAllCmd(false), flashExpireCmd())

	case filterDebounceMsg:
		return m.applyFilterDebounce(msg)

	case flashExpireMsg:
		if !m.flash.until.IsZero() && time.Now().After(m.flash.until) {
			m.flash = flashState{}
		}
		return m, nil
	}

	return m, nil
}

func frameCmdWrap() tea.Cmd {
	return frameCmd
}

func flashExpireCmd() tea.Cmd {
	return tea.Tick(flashDuration, func(time.Time) tea.Msg {
		return flashExpireMsg{}
	})
}

func (m *Model) setFlash(text string, level flashLevel) {
	m.flash = flashState{text: text, level: level, until: time.Now().Add(flashDuration)}
}

// applySnapshot adopts a new store snapshot and invalidates the pages
// whose data it feeds.
func (m Model) applySnapshot(snap state.Snapshot) (tea.Model, tea.Cmd) {
	prev := m.snapshot
	m.snapshot = snap
	m.lastUpdated = time.Now()

	var flags pageFlag
	if snap.ServiceConnected != prev.ServiceConnected || snap.ServiceProbeID != prev.ServiceProbeID {
		flags |= dirtyAll
	}
	if !snap.LastUpdated.Equal(prev.LastUpdated) {
		flags |= dirtyDashboard | dirtyAccounts | dirtyAPIKeys
	}
	if snap.ManualPreferredAccountID != prev.ManualPreferredAccountID {
		flags |= dirtyAccounts
	}

	// The log window detects append-only growth itself; a reset or an
	// append both need a re-render.
	ids := models.LogIdentities(snap.RequestLogs)
	appendOnly := m.logWindow.SetEntries(ids)
	if !appendOnly || m.logWindow.Buffered() != len(prev.RequestLogs) {
		flags |= dirtyRequestLogs
	}

	return m, m.invalidate(flags)
}

// renderDirty rebuilds the cached render of each dirty page.
func (m *Model) renderDirty(flags pageFlag) {
	if flags&dirtyDashboard != 0 {
		m.rendered[state.PageDashboard] = m.renderDashboard()
	}
	if flags&dirtyAccounts != 0 {
		m.rendered[state.PageAccounts] = m.renderAccounts()
	}
	if flags&dirtyAPIKeys != 0 {
		m.rendered[state.PageAPIKeys] = m.renderAPIKeys()
	}
	if flags&dirtyRequestLogs != 0 {
		m.rendered[state.PageRequestLogs] = m.renderRequestLogs()
	}
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "加载中…"
	}
	if m.showHelp {
		return m.renderHelp()
	}

	var b strings.Builder
	b.WriteString(m.renderTabs())
	b.WriteString("\n")
	content := m.rendered[m.currentPage]
	if content == "" {
		// Page never rendered yet (first frame still pending).
		content = m.renderPageNow(m.currentPage)
	}
	b.WriteString(content)
	b.WriteString("\n")
	b.WriteString(m.renderStatusLine())
	return b.String()
}

// renderPageNow renders a page synchronously, bypassing the cache.
func (m Model) renderPageNow(page state.Page) string {
	switch page {
	case state.PageAccounts:
		return m.renderAccounts()
	case state.PageAPIKeys:
		return m.renderAPIKeys()
	case state.PageRequestLogs:
		return m.renderRequestLogs()
	default:
		return m.renderDashboard()
	}
}

// handleKey processes keyboard input.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.showHelp {
		m.showHelp = false
		return m, nil
	}
	if m.filter.active {
		return m.handleFilterKey(msg)
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.showHelp = true
		return m, nil

	case key.Matches(msg, m.keys.CycleTheme):
		return m.cycleTheme()

	case key.Matches(msg, m.keys.ToggleTransparency):
		return m.toggleTransparency()

	case key.Matches(msg, m.keys.Tab):
		return m.switchPage(m.nextPage(1))

	case key.Matches(msg, m.keys.ShiftTab):
		return m.switchPage(m.nextPage(-1))

	case key.Matches(msg, m.keys.PageDashboard):
		return m.switchPage(state.PageDashboard)

	case key.Matches(msg, m.keys.PageAccounts):
		return m.switchPage(state.PageAccounts)

	case key.Matches(msg, m.keys.PageAPIKeys):
		return m.switchPage(state.PageAPIKeys)

	case key.Matches(msg, m.keys.PageRequestLogs):
		return m.switchPage(state.PageRequestLogs)

	case key.Matches(msg, m.keys.RefreshAll):
		m.setFlash("刷新中…", flashInfo)
		return m, tea.Batch(m.refreshAllCmd(true), flashExpireCmd())

	case key.Matches(msg, m.keys.RefreshUsage):
		return m, m.refreshUsageCmd()

	case key.Matches(msg, m.keys.Login):
		return m.startLogin()

	case key.Matches(msg, m.keys.CancelLogin):
		if m.loginActive {
			m.login.Cancel()
			m.setFlash("登录已取消", flashInfo)
			return m, flashExpireCmd()
		}
		return m, nil

	case key.Matches(msg, m.keys.UpdateCheck):
		return m.advanceUpdate()

	case key.Matches(msg, m.keys.Filter):
		if m.currentPage == state.PageAccounts || m.currentPage == state.PageRequestLogs {
			m.filter.active = true
			m.filter.mode = inputFilter
			m.filter.input.Placeholder = "筛选…"
			m.filter.input.Focus()
			m.filter.input.SetValue(m.filter.applied)
			return m, nil
		}
		return m, nil

	case key.Matches(msg, m.keys.Import):
		if m.currentPage == state.PageAccounts {
			m.filter.active = true
			m.filter.mode = inputImportPath
			m.filter.input.Placeholder = "认证文件路径…"
			m.filter.input.Focus()
			m.filter.input.SetValue("")
			return m, nil
		}
		return m, nil

	case key.Matches(msg, m.keys.StatusFilter):
		if m.currentPage == state.PageRequestLogs {
			return m.cycleStatusFilter()
		}
		return m, nil

	case key.Matches(msg, m.keys.ClearLogs):
		if m.currentPage == state.PageRequestLogs {
			return m, m.clearLogsCmd()
		}
		return m, nil

	case key.Matches(msg, m.keys.CopyPath):
		return m.copySelectedPath()

	case key.Matches(msg, m.keys.ToggleKey):
		if m.currentPage == state.PageAPIKeys {
			return m, m.toggleSelectedKeyCmd()
		}
		return m, nil

	case key.Matches(msg, m.keys.ReadSecret):
		if m.currentPage == state.PageAPIKeys {
			return m, m.readSecretCmd()
		}
		return m, nil

	case key.Matches(msg, m.keys.CreateKey):
		if m.currentPage == state.PageAPIKeys {
			m.filter.active = true
			m.filter.mode = inputKeyName
			m.filter.input.Placeholder = "密钥名称…"
			m.filter.input.Focus()
			m.filter.input.SetValue("")
			return m, nil
		}
		return m, nil

	case key.Matches(msg, m.keys.ChangeModel):
		if m.currentPage == state.PageAPIKeys {
			return m.changeSelectedKeyModel()
		}
		return m, nil

	case key.Matches(msg, m.keys.PinAccount):
		if m.currentPage == state.PageAccounts {
			return m.togglePreferredAccount()
		}
		return m, nil

	case key.Matches(msg, m.keys.Confirm):
		if m.currentPage == state.PageAccounts {
			return m, m.usageDetailCmd()
		}
		return m, nil

	case key.Matches(msg, m.keys.DeleteRow):
		return m.deleteSelected()

	case key.Matches(msg, m.keys.MoveRowUp):
		if m.currentPage == state.PageAccounts {
			return m.resortAccount(-1)
		}
		return m, nil

	case key.Matches(msg, m.keys.MoveRowDown):
		if m.currentPage == state.PageAccounts {
			return m.resortAccount(1)
		}
		return m, nil

	case key.Matches(msg, m.keys.Escape):
		return m.switchPage(state.PageDashboard)
	}

	return m.handleNavKey(msg)
}

// handleNavKey moves the selection on the current page's table.
func (m Model) handleNavKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	count := m.rowCount()
	if count == 0 {
		return m, nil
	}
	sel := m.selected[m.currentPage]

	switch {
	case key.Matches(msg, m.keys.Down):
		if sel < count-1 {
			sel++
		}
	case key.Matches(msg, m.keys.Up):
		if sel > 0 {
			sel--
		}
	case key.Matches(msg, m.keys.Top):
		sel = 0
	case key.Matches(msg, m.keys.Bottom):
		sel = count - 1
	case key.Matches(msg, m.keys.HalfPageDown):
		sel = min(sel+m.pageStride(), count-1)
	case key.Matches(msg, m.keys.HalfPageUp):
		sel = max(sel-m.pageStride(), 0)
	default:
		return m, nil
	}

	m.selected[m.currentPage] = sel
	m.pendingDelete = ""
	cmds := []tea.Cmd{m.invalidate(m.pageFlagFor(m.currentPage))}
	if m.currentPage == state.PageRequestLogs {
		if cmd := m.scrollLogsTo(sel); cmd != nil {
			cmds = append(cmds, cmd)
		}
	}
	return m, tea.Batch(cmds...)
}

func (m *Model) pageStride() int {
	if m.height > 10 {
		return (m.height - 6) / 2
	}
	return 5
}

// rowCount returns the row total for the current page's table.
func (m Model) rowCount() int {
	switch m.currentPage {
	case state.PageAccounts:
		return len(m.visibleAccounts())
	case state.PageAPIKeys:
		return len(m.snapshot.APIKeys)
	case state.PageRequestLogs:
		return m.logWindow.Rendered()
	default:
		return 0
	}
}

func (m Model) pageFlagFor(page state.Page) pageFlag {
	switch page {
	case state.PageAccounts:
		return dirtyAccounts
	case state.PageAPIKeys:
		return dirtyAPIKeys
	case state.PageRequestLogs:
		return dirtyRequestLogs
	default:
		return dirtyDashboard
	}
}

func (m Model) nextPage(step int) state.Page {
	idx := 0
	for i, p := range pageOrder {
		if p == m.currentPage {
			idx = i
			break
		}
	}
	idx = (idx + step + len(pageOrder)) % len(pageOrder)
	return pageOrder[idx]
}

func (m Model) switchPage(page state.Page) (tea.Model, tea.Cmd) {
	if page == m.currentPage {
		return m, nil
	}
	m.currentPage = page
	m.store.SetCurrentPage(page)
	m.pendingDelete = ""
	m.filter.active = false
	m.filter.applied = m.appliedFilterFor(page)
	return m, m.invalidate(m.pageFlagFor(page))
}

// appliedFilterFor restores the effective filter value when entering a
// page, so the unchanged short-circuit works across page switches.
func (m Model) appliedFilterFor(page state.Page) string {
	switch page {
	case state.PageAccounts:
		return m.snapshot.AccountSearch
	case state.PageRequestLogs:
		return m.snapshot.RequestLogQuery
	default:
		return ""
	}
}

func (m Model) cycleTheme() (tea.Model, tea.Cmd) {
	name := NextTheme(m.theme.Name)
	m.theme = GetTheme(name).Opaque(m.lowTransparency)
	if m.settings != nil {
		if _, err := m.settings.SetTheme(name); err != nil {
			m.setFlash(transport.DisplayError(err), flashError)
			return m, tea.Batch(m.invalidate(dirtyAll), flashExpireCmd())
		}
	}
	return m, m.invalidate(dirtyAll)
}

func (m Model) toggleTransparency() (tea.Model, tea.Cmd) {
	m.lowTransparency = !m.lowTransparency
	m.theme = GetTheme(m.theme.Name).Opaque(m.lowTransparency)
	if m.settings != nil {
		if err := m.settings.SetLowTransparency(m.lowTransparency); err != nil {
			m.setFlash(transport.DisplayError(err), flashError)
			return m, tea.Batch(m.invalidate(dirtyAll), flashExpireCmd())
		}
	}
	return m, m.invalidate(dirtyAll)
}

// Action commands

func (m Model) refreshAllCmd(manual bool) tea.Cmd {
	orch := m.orch
	ctx := m.ctx
	return func() tea.Msg {
		if err := orch.RefreshAll(ctx, manual); err != nil {
			return actionDoneMsg{err: err}
		}
		if manual {
			return actionDoneMsg{flash: "数据已刷新", level: flashSuccess}
		}
		return actionDoneMsg{}
	}
}

func (m Model) refreshUsageCmd() tea.Cmd {
	orch := m.orch
	ctx := m.ctx
	return func() tea.Msg {
		if err := orch.RefreshUsagePerAccount(ctx, nil); err != nil {
			return actionDoneMsg{err: err}
		}
		return actionDoneMsg{flash: "用量已刷新", level: flashSuccess}
	}
}

func (m Model) clearLogsCmd() tea.Cmd {
	orch := m.orch
	ctx := m.ctx
	return func() tea.Msg {
		if err := orch.ClearRequestLogs(ctx); err != nil {
			return actionDoneMsg{err: err}
		}
		return actionDoneMsg{flash: "请求日志已清空", level: flashSuccess}
	}
}

func (m Model) startLogin() (tea.Model, tea.Cmd) {
	if m.login == nil || m.loginActive {
		return m, nil
	}
	m.loginActive = true
	m.setFlash("登录中，请在浏览器完成授权…", flashInfo)
	login := m.login
	mgr := m.connMgr
	ctx := m.ctx
	return m, tea.Batch(func() tea.Msg {
		if mgr != nil && !mgr.EnsureConnected(ctx) {
			return loginDoneMsg{err: errors.New("服务未连接，无法登录")}
		}
		_, err := login.Run(ctx, loginflow.StartOptions{LoginType: "oauth"})
		return loginDoneMsg{err: err}
	}, flashExpireCmd())
}

// advanceUpdate moves the two-phase update along: check, then prepare,
// then install or restart depending on package type.
func (m Model) advanceUpdate() (tea.Model, tea.Cmd) {
	if m.update == nil {
		return m, nil
	}
	flow := m.update
	ctx := m.ctx

	st := m.updateStatus
	switch {
	case st == nil || !st.Available:
		return m, func() tea.Msg {
			status, err := flow.Check(ctx)
			return updatePhaseMsg{status: status, err: err}
		}
	case !st.Downloaded:
		return m, func() tea.Msg {
			status, err := flow.Prepare(ctx)
			return updatePhaseMsg{status: status, err: err}
		}
	case st.IsPortable:
		return m, func() tea.Msg {
			err := flow.Restart(ctx)
			return updatePhaseMsg{status: *st, err: err}
		}
	default:
		return m, func() tea.Msg {
			err := flow.LaunchInstaller(ctx)
			return updatePhaseMsg{status: *st, err: err}
		}
	}
}

func (m Model) applyUpdatePhase(msg updatePhaseMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		m.setFlash(transport.DisplayError(msg.err), flashError)
		return m, flashExpireCmd()
	}
	st := msg.status
	m.updateStatus = &st
	if st.Available {
		m.setFlash(st.ActionLabel(), flashInfo)
	} else {
		m.setFlash("已是最新版本", flashSuccess)
	}
	return m, tea.Batch(m.invalidate(dirtyDashboard), flashExpireCmd())
}

// copySelectedPath surfaces the selected request's path.
func (m Model) copySelectedPath() (tea.Model, tea.Cmd) {
	if m.currentPage != state.PageRequestLogs {
		return m, nil
	}
	entry := m.selectedLogEntry()
	if entry == nil {
		return m, nil
	}
	m.setFlash("路径："+entry.RequestPath, flashInfo)
	return m, flashExpireCmd()
}

func (m Model) selectedLogEntry() *models.RequestLogEntry {
	start, end := m.logWindow.Visible()
	idx := start + m.selected[state.PageRequestLogs]
	if idx < start || idx >= end || idx >= len(m.snapshot.RequestLogs) {
		return nil
	}
	entry := m.snapshot.RequestLogs[idx]
	return &entry
}

// toggleSelectedKeyCmd flips the selected API key between enabled and
// disabled, then reloads data.
func (m Model) toggleSelectedKeyCmd() tea.Cmd {
	ids := m.rowIDs[state.PageAPIKeys]
	sel := m.selected[state.PageAPIKeys]
	if sel < 0 || sel >= len(ids) {
		return nil
	}
	id := ids[sel]
	var current *models.APIKey
	for i := range m.snapshot.APIKeys {
		if m.snapshot.APIKeys[i].ID == id {
			current = &m.snapshot.APIKeys[i]
			break
		}
	}
	if current == nil {
		return nil
	}
	op := transport.OpAPIKeyDisable
	flash := "密钥已停用"
	if current.Status == models.KeyDisabled {
		op = transport.OpAPIKeyEnable
		flash = "密钥已启用"
	}

	invoker := m.invoker
	ctx := m.ctx
	return func() tea.Msg {
		if _, err := invoker.Invoke(ctx, op, map[string]any{"key_id": id}, reqctlOptions()); err != nil {
			return actionDoneMsg{err: err}
		}
		return actionDoneMsg{flash: flash, level: flashSuccess, refresh: true}
	}
}

// scrollLogsTo keeps the virtual window fed while the selection moves
// toward the bottom of the rendered rows.
func (m *Model) scrollLogsTo(sel int) tea.Cmd {
	scrollTop := (m.logWindow.TopSpacerRows() + sel) * logRowHeight
	if m.logWindow.OnScroll(scrollTop, m.logViewport.Height*logRowHeight) {
		return m.invalidate(dirtyRequestLogs)
	}
	return nil
}

// Filter handling

func (m Model) handleFilterKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Confirm):
		m.filter.active = false
		m.filter.input.Blur()
		value := strings.TrimSpace(m.filter.input.Value())
		switch m.filter.mode {
		case inputImportPath:
			m.filter.mode = inputFilter
			if value == "" {
				return m, nil
			}
			return m, m.importAccountCmd(value)
		case inputKeyName:
			m.filter.mode = inputFilter
			if value == "" {
				return m, nil
			}
			return m, m.createKeyCmd(value)
		}
		return m.applyFilterNow(value)

	case key.Matches(msg, m.keys.Escape):
		m.filter.active = false
		m.filter.mode = inputFilter
		m.filter.input.Blur()
		return m, nil
	}

	var cmd tea.Cmd
	m.filter.input, cmd = m.filter.input.Update(msg)

	if m.filter.mode != inputFilter {
		// Path and name entry have no live application; only enter submits.
		return m, cmd
	}

	// Debounce: arm a timer per keystroke; only the newest fires.
	m.filter.gen++
	gen := m.filter.gen
	debounce := tea.Tick(filterDebounce, func(time.Time) tea.Msg {
		return filterDebounceMsg{gen: gen}
	})
	return m, tea.Batch(cmd, debounce)
}

func (m Model) applyFilterDebounce(msg filterDebounceMsg) (tea.Model, tea.Cmd) {
	if msg.gen != m.filter.gen {
		return m, nil // superseded by a later keystroke
	}
	return m.applyFilterNow(strings.TrimSpace(m.filter.input.Value()))
}

// applyFilterNow applies the filter to the current page, skipping work
// when the effective value is unchanged.
func (m Model) applyFilterNow(value string) (tea.Model, tea.Cmd) {
	if value == m.filter.applied {
		return m, nil
	}
	m.filter.applied = value

	switch m.currentPage {
	case state.PageAccounts:
		m.store.SetAccountFilters(value, m.snapshot.AccountFilter, m.snapshot.AccountGroupFilter)
		m.selected[state.PageAccounts] = 0
		return m, tea.Batch(fetchSnapshotCmd(m.store), m.invalidate(dirtyAccounts))

	case state.PageRequestLogs:
		m.selected[state.PageRequestLogs] = 0
		return m, m.refreshLogsCmd(value, m.snapshot.RequestLogStatusFilter)
	}
	return m, nil
}

// statusFilters cycles "" → success → error on the request-log page.
var statusFilters = []string{"", "success", "error"}

func (m Model) cycleStatusFilter() (tea.Model, tea.Cmd) {
	m.statusCycle = (m.statusCycle + 1) % len(statusFilters)
	filter := statusFilters[m.statusCycle]
	m.selected[state.PageRequestLogs] = 0
	return m, m.refreshLogsCmd(m.snapshot.RequestLogQuery, filter)
}

func (m Model) refreshLogsCmd(query, statusFilter string) tea.Cmd {
	orch := m.orch
	ctx := m.ctx
	return func() tea.Msg {
		applied, err := orch.RefreshRequestLogs(ctx, query, statusFilter)
		return logsRefreshedMsg{applied: applied, err: err}
	}
}

// Run starts the Bubble Tea program and blocks until it exits.
func Run(opts Options) error {
	p := NewProgram(opts)
	_, err := p.Run()
	return err
}

// NewProgram builds the program without starting it.
func NewProgram(opts Options) *tea.Program {
	m := New(opts)
	return tea.NewProgram(m, tea.WithAltScreen())
}
