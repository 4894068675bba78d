package refresh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/codexmanager/cmpanel/internal/conn"
	"github.com/codexmanager/cmpanel/internal/prefs"
	"github.com/codexmanager/cmpanel/internal/reqctl"
	"github.com/codexmanager/cmpanel/internal/settings"
	"github.com/codexmanager/cmpanel/internal/state"
	"github.com/codexmanager/cmpanel/internal/transport"
)

func TestRunTasks_OrderAndContinuity(t *testing.T) {
	t.Parallel()

	tasks := []Task{
		{Name: "A", Run: func(ctx context.Context) error { return nil }},
		{Name: "B", Run: func(ctx context.Context) error { return errors.New("usage failed") }},
		{Name: "C", Run: func(ctx context.Context) error { return nil }},
	}

	var errNames []string
	var errMsgs []string
	results := RunTasks(context.Background(), tasks, func(name string, err error) {
		errNames = append(errNames, name)
		errMsgs = append(errMsgs, err.Error())
	}, 3)

	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	for i, want := range []string{"A", "B", "C"} {
		if results[i].Name != want {
			t.Fatalf("results[%d].Name = %q, want %q (input order)", i, results[i].Name, want)
		}
	}
	if results[0].Err != nil || results[2].Err != nil {
		t.Fatalf("peers failed: %v %v", results[0].Err, results[2].Err)
	}
	if results[1].Err == nil {
		t.Fatal("failing task reported no error")
	}
	if len(errNames) != 1 || errNames[0] != "B" || errMsgs[0] != "usage failed" {
		t.Fatalf("onError calls = %v/%v, want exactly B/usage failed", errNames, errMsgs)
	}
}

func TestRunTasks_BoundedConcurrency(t *testing.T) {
	t.Parallel()

	var inFlight, peak atomic.Int64
	var mu sync.Mutex
	task := func(ctx context.Context) error {
		n := inFlight.Add(1)
		mu.Lock()
		if n > peak.Load() {
			peak.Store(n)
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	}

	tasks := make([]Task, 20)
	for i := range tasks {
		tasks[i] = Task{Name: fmt.Sprintf("t%d", i), Run: task}
	}
	RunTasks(context.Background(), tasks, nil, 100) // capped to 8

	if peak.Load() > maxConcurrency {
		t.Fatalf("peak concurrency = %d, want <= %d", peak.Load(), maxConcurrency)
	}
}

// harness wires an orchestrator over a scriptable invoker.
type harness struct {
	invoker *mapInvoker
	store   *state.Store
	orch    *Orchestrator
}

type mapInvoker struct {
	mu       sync.Mutex
	handlers map[string]func(params any) (json.RawMessage, error)
	counts   map[string]int
}

func (m *mapInvoker) Invoke(ctx context.Context, op transport.Op, params any, opts reqctl.Options) (json.RawMessage, error) {
	return m.InvokeCommand(ctx, op.Command, params, opts)
}

func (m *mapInvoker) InvokeCommand(ctx context.Context, command string, params any, opts reqctl.Options) (json.RawMessage, error) {
	m.mu.Lock()
	m.counts[command]++
	h, ok := m.handlers[command]
	m.mu.Unlock()
	if !ok {
		return json.RawMessage(`{}`), nil
	}
	return h(params)
}

func (m *mapInvoker) Desktop() bool { return true }

func (m *mapInvoker) count(command string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[command]
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	inv := &mapInvoker{
		handlers: map[string]func(any) (json.RawMessage, error){},
		counts:   map[string]int{},
	}
	inv.handlers[transport.OpInitialize.Command] = func(any) (json.RawMessage, error) {
		return json.RawMessage(`{"server_name":"codexmanager-service"}`), nil
	}
	inv.handlers[transport.OpAccountList.Command] = func(any) (json.RawMessage, error) {
		return json.RawMessage(`{"accounts":[{"id":"a1","label":"one"},{"id":"a2","label":"two"}]}`), nil
	}

	kv, err := prefs.Open(filepath.Join(t.TempDir(), "prefs.toml"))
	if err != nil {
		t.Fatalf("prefs.Open: %v", err)
	}
	store := state.New(conn.DefaultAddr)
	sync := settings.New(inv, kv)
	manager := conn.NewManager(inv, store)
	orch := New(inv, nil, manager, store, sync)
	return &harness{invoker: inv, store: store, orch: orch}
}

func TestRefreshAll_SingleFlight(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	release := make(chan struct{})
	h.invoker.handlers[transport.OpUsageList.Command] = func(any) (json.RawMessage, error) {
		<-release
		return json.RawMessage(`{"usage":[]}`), nil
	}

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.orch.RefreshAll(context.Background(), false)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := h.invoker.count(transport.OpAccountList.Command); got != 1 {
		t.Fatalf("account list fetched %d times, want 1 (single-flight)", got)
	}
}

func TestRefreshAll_ManualSurfacesPartialFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.invoker.handlers[transport.OpUsageList.Command] = func(any) (json.RawMessage, error) {
		return nil, errors.New("usage failed")
	}

	err := h.orch.RefreshAll(context.Background(), true)
	var partial *PartialError
	if !errors.As(err, &partial) {
		t.Fatalf("err = %v, want PartialError", err)
	}
	if len(partial.Failures) != 1 || partial.Failures[0][0] != "usage" || partial.Failures[0][1] != "usage failed" {
		t.Fatalf("failures = %v", partial.Failures)
	}

	// Peers still landed.
	if len(h.store.Snapshot().Accounts) != 2 {
		t.Fatal("accounts not refreshed despite usage failure")
	}
}

func TestRefreshAll_BackgroundSwallowsPartialFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.invoker.handlers[transport.OpUsageList.Command] = func(any) (json.RawMessage, error) {
		return nil, errors.New("usage failed")
	}
	if err := h.orch.RefreshAll(context.Background(), false); err != nil {
		t.Fatalf("background refresh surfaced error: %v", err)
	}
}

func TestRefreshAll_ReappliesSettingsOnNewProbe(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	// Local value exists for route strategy only.
	kv, err := prefs.Open(filepath.Join(t.TempDir(), "prefs2.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if err := kv.Set(prefs.KeyRouteStrategy, "balanced"); err != nil {
		t.Fatal(err)
	}
	h.orch.settings = settings.New(h.invoker, kv)
	h.invoker.handlers[transport.OpRouteStrategySet.Command] = func(params any) (json.RawMessage, error) {
		return json.RawMessage(`{"strategy":"balanced"}`), nil
	}

	if err := h.orch.RefreshAll(context.Background(), false); err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}
	if got := h.invoker.count(transport.OpRouteStrategySet.Command); got != 1 {
		t.Fatalf("route strategy pushed %d times, want 1 on first probe", got)
	}

	// Second cycle on the same probe: no re-push.
	if err := h.orch.RefreshAll(context.Background(), false); err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}
	if got := h.invoker.count(transport.OpRouteStrategySet.Command); got != 1 {
		t.Fatalf("route strategy pushed %d times, want still 1", got)
	}

	// Reconnect: probe id advances, settings re-push silently.
	h.store.MarkDisconnected("service restarted")
	if err := h.orch.RefreshAll(context.Background(), false); err != nil {
		t.Fatalf("RefreshAll after reconnect: %v", err)
	}
	if got := h.invoker.count(transport.OpRouteStrategySet.Command); got != 2 {
		t.Fatalf("route strategy pushed %d times, want 2 after reconnect", got)
	}
}

func TestRefreshRequestLogs_StaleFetchSuppressed(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	releaseOld := make(chan struct{})
	var queries sync.Map
	h.orch.logs = logFetcherFunc(func(ctx context.Context, params any) (json.RawMessage, error) {
		q := params.(map[string]any)["query"]
		queries.Store(q, true)
		if q == "old" {
			<-releaseOld
		}
		return json.RawMessage(fmt.Sprintf(`{"logs":[{"method":"GET","request_path":"/%v"}]}`, q)), nil
	})

	oldDone := make(chan bool, 1)
	go func() {
		applied, err := h.orch.RefreshRequestLogs(context.Background(), "old", "")
		if err != nil {
			t.Errorf("old fetch error: %v", err)
		}
		oldDone <- applied
	}()
	time.Sleep(20 * time.Millisecond)

	applied, err := h.orch.RefreshRequestLogs(context.Background(), "new", "")
	if err != nil {
		t.Fatalf("new fetch error: %v", err)
	}
	if !applied {
		t.Fatal("newest fetch was not applied")
	}

	close(releaseOld)
	if <-oldDone {
		t.Fatal("stale fetch reported applied")
	}

	snap := h.store.Snapshot()
	if len(snap.RequestLogs) != 1 || snap.RequestLogs[0].RequestPath != "/new" {
		t.Fatalf("RequestLogs = %+v, want /new", snap.RequestLogs)
	}
}

type logFetcherFunc func(ctx context.Context, params any) (json.RawMessage, error)

func (f logFetcherFunc) FetchRequestLogs(ctx context.Context, params any) (json.RawMessage, error) {
	return f(ctx, params)
}

func TestAutoRefresh_TicksNeverOverlap(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	var inFlight, peak, cycles atomic.Int64
	h.invoker.handlers[transport.OpUsageList.Command] = func(any) (json.RawMessage, error) {
		n := inFlight.Add(1)
		if n > peak.Load() {
			peak.Store(n)
		}
		// Sleep well past the tick interval so ticks pile up.
		time.Sleep(80 * time.Millisecond)
		inFlight.Add(-1)
		cycles.Add(1)
		return json.RawMessage(`{"usage":[]}`), nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.orch.StartAutoRefresh(ctx, 20*time.Millisecond)

	time.Sleep(300 * time.Millisecond)
	h.store.StopAutoRefresh()

	if peak.Load() != 1 {
		t.Fatalf("max in-flight cycles = %d, want 1", peak.Load())
	}
	if cycles.Load() < 2 {
		t.Fatalf("cycles = %d, want at least 2 sequential ticks", cycles.Load())
	}
}

func TestModelRefresh_CacheTTL(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.invoker.handlers[transport.OpAPIKeyModels.Command] = func(any) (json.RawMessage, error) {
		return json.RawMessage(`{"models":[{"slug":"gpt-5.2"}]}`), nil
	}

	// Empty cache: goes remote.
	if err := h.orch.refreshModels(context.Background(), false); err != nil {
		t.Fatalf("refreshModels: %v", err)
	}
	if got := h.invoker.count(transport.OpAPIKeyModels.Command); got != 1 {
		t.Fatalf("model fetches = %d, want 1", got)
	}

	// Fresh cache: skipped.
	if err := h.orch.refreshModels(context.Background(), false); err != nil {
		t.Fatalf("refreshModels: %v", err)
	}
	if got := h.invoker.count(transport.OpAPIKeyModels.Command); got != 1 {
		t.Fatalf("model fetches = %d, want 1 (cache hit)", got)
	}

	// Forced: goes remote regardless.
	if err := h.orch.ForceModelRefresh(context.Background()); err != nil {
		t.Fatalf("ForceModelRefresh: %v", err)
	}
	if got := h.invoker.count(transport.OpAPIKeyModels.Command); got != 2 {
		t.Fatalf("model fetches = %d, want 2 after force", got)
	}
}

func TestRefreshUsagePerAccount_SequentialProgress(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if err := h.orch.refreshAccounts(context.Background()); err != nil {
		t.Fatal(err)
	}

	var order []string
	h.invoker.handlers[transport.OpUsageRefresh.Command] = func(params any) (json.RawMessage, error) {
		id, _ := params.(map[string]any)["account_id"].(string)
		order = append(order, id)
		return json.RawMessage(`{"ok":true}`), nil
	}

	var progress []int
	err := h.orch.RefreshUsagePerAccount(context.Background(), func(done, total int, label string) {
		progress = append(progress, done)
	})
	if err != nil {
		t.Fatalf("RefreshUsagePerAccount: %v", err)
	}
	if len(order) != 2 || order[0] != "a1" || order[1] != "a2" {
		t.Fatalf("refresh order = %v, want [a1 a2]", order)
	}
	if len(progress) != 2 || progress[0] != 1 || progress[1] != 2 {
		t.Fatalf("progress = %v, want [1 2]", progress)
	}
}

func TestDecodeList_Shapes(t *testing.T) {
	type item struct {
		ID string `json:"id"`
	}

	bare, err := decodeList[item](json.RawMessage(`[{"id":"x"}]`), "items")
	if err != nil || len(bare) != 1 {
		t.Fatalf("bare array: %v %v", bare, err)
	}
	wrapped, err := decodeList[item](json.RawMessage(`{"items":[{"id":"y"}]}`), "list", "items")
	if err != nil || len(wrapped) != 1 || wrapped[0].ID != "y" {
		t.Fatalf("wrapped: %v %v", wrapped, err)
	}
	empty, err := decodeList[item](json.RawMessage(`{"count":0}`), "items")
	if err != nil || empty != nil {
		t.Fatalf("missing key: %v %v", empty, err)
	}
}

func TestPartialError_Message(t *testing.T) {
	err := &PartialError{Failures: [][2]string{{"usage", "usage failed"}, {"accounts", "x"}}}
	want := "部分数据刷新失败：usage、accounts（示例错误：usage failed）"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}
