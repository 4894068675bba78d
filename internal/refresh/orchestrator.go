package refresh

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/codexmanager/cmpanel/internal/conn"
	"github.com/codexmanager/cmpanel/internal/logger"
	"github.com/codexmanager/cmpanel/internal/models"
	"github.com/codexmanager/cmpanel/internal/reqctl"
	"github.com/codexmanager/cmpanel/internal/settings"
	"github.com/codexmanager/cmpanel/internal/state"
	"github.com/codexmanager/cmpanel/internal/transport"
)

const (
	// Model options are cheap to cache; only go remote every six hours
	// unless forced or the cache is empty.
	modelCacheTTL = 6 * time.Hour

	requestLogFetchLimit = 500

	defaultAutoRefreshInterval = 30 * time.Second
)

// LogFetcher fetches request-log lists. In desktop mode this is the
// token-authenticated HTTP path; in browser mode the plain RPC transport.
type LogFetcher interface {
	FetchRequestLogs(ctx context.Context, params any) (json.RawMessage, error)
}

// Orchestrator coordinates all data refresh against the service.
type Orchestrator struct {
	invoker  transport.Invoker
	logs     LogFetcher
	conn     *conn.Manager
	store    *state.Store
	settings *settings.Sync

	// Concurrency for the refresh-all worker pool; bounded by RunTasks.
	Concurrency int
	// OnProgress, when set, observes refresh-all progress transitions.
	OnProgress func(models.RefreshAllProgress)

	flight   singleflight.Group
	tickBusy atomic.Bool
}

// New builds an orchestrator. logs may be nil, in which case request-log
// fetches go through the plain transport.
func New(invoker transport.Invoker, logs LogFetcher, manager *conn.Manager, store *state.Store, sync *settings.Sync) *Orchestrator {
	if logs == nil {
		logs = rpcLogFetcher{invoker: invoker}
	}
	return &Orchestrator{
		invoker:  invoker,
		logs:     logs,
		conn:     manager,
		store:    store,
		settings: sync,
	}
}

// rpcLogFetcher serves browser mode, where no token path exists.
type rpcLogFetcher struct {
	invoker transport.Invoker
}

func (f rpcLogFetcher) FetchRequestLogs(ctx context.Context, params any) (json.RawMessage, error) {
	return f.invoker.Invoke(ctx, transport.OpRequestLogList, params, reqctl.Options{Timeout: transport.LogListTimeout})
}

// PartialError reports tasks that failed inside an otherwise completed
// refresh cycle. Manual refreshes surface it; background ticks only log.
type PartialError struct {
	Failures [][2]string // task name, display message
}

func (e *PartialError) Error() string {
	names := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		names[i] = f[0]
	}
	return fmt.Sprintf("部分数据刷新失败：%s（示例错误：%s）", strings.Join(names, "、"), e.Failures[0][1])
}

// RefreshAll runs the full task list under single-flight: a re-entrant call
// joins the in-flight cycle and returns its result.
func (o *Orchestrator) RefreshAll(ctx context.Context, manual bool) error {
	_, err, _ := o.flight.Do("refresh-all", func() (any, error) {
		return nil, o.refreshAll(ctx, manual)
	})
	return err
}

func (o *Orchestrator) refreshAll(ctx context.Context, manual bool) error {
	if !o.conn.EnsureConnected(ctx) {
		hint := o.store.Snapshot().ServiceLastError
		if hint == "" {
			hint = "service 未连接"
		}
		return fmt.Errorf("service 不可达：%s", hint)
	}

	// A reconnect invalidates the settings sync markers; push local values
	// back before data refresh so routing and policy reflect the operator.
	probeID := o.store.ProbeID()
	if o.settings.NeedsReapply(probeID) {
		o.settings.ReapplyForProbe(ctx, probeID)
	}

	tasks := []Task{
		{Name: "accounts", Label: "账号列表", Run: o.refreshAccounts},
		{Name: "usage", Label: "用量", Run: o.refreshUsage},
		{Name: "api-models", Label: "模型列表", Run: func(ctx context.Context) error { return o.refreshModels(ctx, false) }},
		{Name: "api-keys", Label: "API 密钥", Run: o.refreshAPIKeys},
		{Name: "request-logs", Label: "请求日志", Run: o.refreshRequestLogsTask},
		{Name: "request-log-today-summary", Label: "今日统计", Run: o.refreshTodaySummary},
	}

	labels := map[string]string{}
	for _, t := range tasks {
		labels[t.Name] = t.Label
	}

	var completed atomic.Int64
	progress := func(active bool, lastTask string) {
		if o.OnProgress == nil {
			return
		}
		o.OnProgress(models.RefreshAllProgress{
			Active:        active,
			Manual:        manual,
			Total:         len(tasks),
			Completed:     int(completed.Load()),
			LastTaskLabel: lastTask,
		})
	}
	progress(true, "")

	wrapped := make([]Task, len(tasks))
	for i, t := range tasks {
		run := t.Run
		label := t.Label
		wrapped[i] = Task{Name: t.Name, Label: label, Run: func(ctx context.Context) error {
			err := run(ctx)
			completed.Add(1)
			progress(true, label)
			return err
		}}
	}

	var failures [][2]string
	results := RunTasks(ctx, wrapped, func(name string, err error) {
		failures = append(failures, [2]string{name, transport.DisplayError(err)})
	}, o.Concurrency)
	progress(false, "")

	for _, r := range results {
		if r.Err != nil && reqctl.IsCancelled(r.Err) {
			return r.Err
		}
	}
	if len(failures) == 0 {
		return nil
	}
	if manual {
		return &PartialError{Failures: failures}
	}
	for _, f := range failures {
		logger.Warn("background refresh task failed", "task", labels[f[0]], "error", f[1])
	}
	return nil
}

func (o *Orchestrator) refreshAccounts(ctx context.Context) error {
	raw, err := o.invoker.Invoke(ctx, transport.OpAccountList, nil, reqctl.Options{})
	if err != nil {
		return err
	}
	accounts, err := decodeList[models.Account](raw, "accounts", "items")
	if err != nil {
		return fmt.Errorf("decode accounts: %w", err)
	}
	o.store.SetAccounts(accounts)
	return nil
}

func (o *Orchestrator) refreshUsage(ctx context.Context) error {
	raw, err := o.invoker.Invoke(ctx, transport.OpUsageList, nil, reqctl.Options{})
	if err != nil {
		return err
	}
	usage, err := decodeList[models.UsageSnapshot](raw, "usage", "items")
	if err != nil {
		return fmt.Errorf("decode usage: %w", err)
	}
	for i := range usage {
		usage[i].Normalize()
	}
	o.store.SetUsage(usage)
	return nil
}

// refreshModels honors the six-hour cache unless forced or empty.
func (o *Orchestrator) refreshModels(ctx context.Context, force bool) error {
	cached := o.store.Snapshot().ModelOptions
	if !force && len(cached) > 0 {
		if last := o.settings.ModelsLastRefreshAt(); !last.IsZero() && time.Since(last) < modelCacheTTL {
			return nil
		}
	}
	raw, err := o.invoker.Invoke(ctx, transport.OpAPIKeyModels, nil, reqctl.Options{})
	if err != nil {
		return err
	}
	options, err := decodeList[models.ModelOption](raw, "models", "items")
	if err != nil {
		return fmt.Errorf("decode models: %w", err)
	}
	o.store.SetModelOptions(options)
	if err := o.settings.SetModelsLastRefreshAt(time.Now()); err != nil {
		logger.Warn("persist model refresh timestamp", "error", err)
	}
	return nil
}

// ForceModelRefresh bypasses the model cache, for the operator's refresh
// button next to the model picker.
func (o *Orchestrator) ForceModelRefresh(ctx context.Context) error {
	return o.refreshModels(ctx, true)
}

func (o *Orchestrator) refreshAPIKeys(ctx context.Context) error {
	raw, err := o.invoker.Invoke(ctx, transport.OpAPIKeyList, nil, reqctl.Options{})
	if err != nil {
		return err
	}
	keys, err := decodeList[models.APIKey](raw, "keys", "items")
	if err != nil {
		return fmt.Errorf("decode api keys: %w", err)
	}
	for i := range keys {
		keys[i].NormalizeStatus()
	}
	o.store.SetAPIKeys(keys)
	return nil
}

func (o *Orchestrator) refreshRequestLogsTask(ctx context.Context) error {
	snap := o.store.Snapshot()
	_, err := o.RefreshRequestLogs(ctx, snap.RequestLogQuery, snap.RequestLogStatusFilter)
	return err
}

// RefreshRequestLogs fetches the log list for the given filters and reports
// whether the result was applied. A fetch that lost to a newer one returns
// false with no error: its data is simply stale.
func (o *Orchestrator) RefreshRequestLogs(ctx context.Context, query, statusFilter string) (bool, error) {
	generation := o.store.BeginLogFetch(query, statusFilter)

	params := map[string]any{"limit": requestLogFetchLimit}
	if query != "" {
		params["query"] = query
	}
	if statusFilter != "" {
		params["status"] = statusFilter
	}

	raw, err := o.logs.FetchRequestLogs(ctx, params)
	if err != nil {
		return false, err
	}
	entries, err := decodeList[models.RequestLogEntry](raw, "logs", "items")
	if err != nil {
		return false, fmt.Errorf("decode request logs: %w", err)
	}
	return o.store.ApplyRequestLogs(generation, entries), nil
}

// ClearRequestLogs asks the service to drop its log history, then reloads.
func (o *Orchestrator) ClearRequestLogs(ctx context.Context) error {
	if _, err := o.invoker.Invoke(ctx, transport.OpRequestLogClear, nil, reqctl.Options{}); err != nil {
		return err
	}
	snap := o.store.Snapshot()
	_, err := o.RefreshRequestLogs(ctx, snap.RequestLogQuery, snap.RequestLogStatusFilter)
	return err
}

func (o *Orchestrator) refreshTodaySummary(ctx context.Context) error {
	raw, err := o.invoker.Invoke(ctx, transport.OpRequestLogToday, nil, reqctl.Options{})
	if err != nil {
		return err
	}
	var summary models.RequestLogTodaySummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return fmt.Errorf("decode today summary: %w", err)
	}
	summary.Normalize()
	o.store.SetTodaySummary(summary)
	return nil
}

// RefreshUsagePerAccount walks the cached account list sequentially,
// asking the service to re-poll each account's usage. Sequential on
// purpose: a burst of upstream usage probes trips rate limits.
func (o *Orchestrator) RefreshUsagePerAccount(ctx context.Context, onProgress func(done, total int, label string)) error {
	accounts := o.store.Snapshot().Accounts
	var failed []string
	for i, acc := range accounts {
		_, err := o.invoker.Invoke(ctx, transport.OpUsageRefresh,
			map[string]any{"account_id": acc.ID}, reqctl.Options{})
		if err != nil {
			if reqctl.IsCancelled(err) {
				return err
			}
			failed = append(failed, acc.Label)
		}
		if onProgress != nil {
			onProgress(i+1, len(accounts), acc.Label)
		}
	}
	if err := o.refreshUsage(ctx); err != nil {
		logger.Warn("reload usage after per-account refresh", "error", err)
	}
	if len(failed) > 0 {
		return fmt.Errorf("以下账号用量刷新失败：%s", strings.Join(failed, "、"))
	}
	return nil
}

// StartAutoRefresh launches the periodic refresh timer. At most one timer
// runs per store; a tick that lands while the previous cycle is still in
// flight is dropped.
func (o *Orchestrator) StartAutoRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultAutoRefreshInterval
	}
	tickCtx, cancel := context.WithCancel(ctx)
	o.store.SetAutoRefreshStop(cancel)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-tickCtx.Done():
				return
			case <-ticker.C:
			}
			if !o.tickBusy.CompareAndSwap(false, true) {
				continue // previous tick still running
			}
			go func() {
				defer o.tickBusy.Store(false)
				if err := o.RefreshAll(tickCtx, false); err != nil && !reqctl.IsCancelled(err) {
					logger.Warn("auto refresh failed", "error", err)
				}
			}()
		}
	}()
}

// decodeList accepts either a bare JSON array or an object wrapping the
// array under one of the given keys.
func decodeList[T any](raw json.RawMessage, keys ...string) ([]T, error) {
	var direct []T
	if err := json.Unmarshal(raw, &direct); err == nil {
		return direct, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	for _, key := range keys {
		value, ok := obj[key]
		if !ok || string(value) == "null" {
			continue
		}
		var out []T
		if err := json.Unmarshal(value, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, nil
}
