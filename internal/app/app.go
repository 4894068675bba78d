package app

import (
	"context"
	"fmt"
	"time"

	"github.com/codexmanager/cmpanel/internal/config"
	"github.com/codexmanager/cmpanel/internal/conn"
	"github.com/codexmanager/cmpanel/internal/logger"
	"github.com/codexmanager/cmpanel/internal/loginflow"
	"github.com/codexmanager/cmpanel/internal/models"
	"github.com/codexmanager/cmpanel/internal/prefs"
	"github.com/codexmanager/cmpanel/internal/refresh"
	"github.com/codexmanager/cmpanel/internal/settings"
	"github.com/codexmanager/cmpanel/internal/state"
	"github.com/codexmanager/cmpanel/internal/transport"
	"github.com/codexmanager/cmpanel/internal/ui"
	"github.com/codexmanager/cmpanel/internal/update"
)

// Options configure the control panel application.
type Options struct {
	ConfigPath     string
	PrefsPath      string // empty uses the config file's path
	AutoRefreshSec int    // seconds; zero uses the config value
}

const initialProbeRetries = 2

// Run boots the panel TUI until the context is cancelled.
func Run(ctx context.Context, opts Options) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	prefsPath := opts.PrefsPath
	if prefsPath == "" {
		prefsPath = cfg.PrefsPath
	}
	kv, err := prefs.Open(prefsPath)
	if err != nil {
		return fmt.Errorf("open prefs: %w", err)
	}

	store := state.New(conn.NormalizeAddr(cfg.ServiceAddr))
	invoker := buildInvoker(cfg, store)
	manager := conn.NewManager(invoker, store)
	sync := settings.New(invoker, kv)

	// In desktop mode the log list bypasses the command bridge and goes
	// over the token-authed HTTP path; browser mode falls back to RPC.
	var logs refresh.LogFetcher
	if invoker.Desktop() {
		logs = transport.NewTokenClient(invoker, store.ServiceAddr)
	}

	orch := refresh.New(invoker, logs, manager, store, sync)
	login := loginflow.New(invoker, store)
	upd := update.New(invoker)

	// Pre-flight probe. Failure is not fatal: the UI starts offline and
	// the auto-refresh loop keeps probing.
	if ok, err := manager.WaitForConnection(ctx, conn.WaitOptions{Retries: initialProbeRetries, Silent: true}); !ok {
		logger.Warn("service not reachable at startup", "addr", store.ServiceAddr(), "error", err)
	} else {
		if err := orch.RefreshAll(ctx, false); err != nil {
			logger.Warn("initial refresh failed", "error", err)
		}
	}

	interval := cfg.AutoRefreshSec
	if opts.AutoRefreshSec > 0 {
		interval = opts.AutoRefreshSec
	}
	orch.StartAutoRefresh(ctx, time.Duration(interval)*time.Second)

	// External edits to the prefs file flow back into the running panel.
	if err := kv.Watch(ctx, func() {
		logger.Info("prefs file changed on disk, reloaded")
	}); err != nil {
		logger.Warn("prefs watch unavailable", "error", err)
	}

	program := ui.NewProgram(ui.Options{
		Context:         ctx,
		Store:           store,
		Orchestrator:    orch,
		Settings:        sync,
		Conn:            manager,
		Login:           login,
		Update:          upd,
		Invoker:         invoker,
		ThemeName:       sync.Theme(),
		LowTransparency: sync.LowTransparency(),
	})

	// Refresh progress and update hits arrive from background
	// goroutines; Program.Send is the only safe channel into the model.
	orch.OnProgress = func(p models.RefreshAllProgress) {
		program.Send(ui.ProgressMsg(p))
	}
	if sync.UpdateAutoCheck() {
		go upd.AutoCheck(ctx, func(st update.Status) {
			program.Send(ui.UpdateAvailableMsg(st))
		})
	}

	_, err = program.Run()
	return err
}

// buildInvoker picks the transport: the desktop IPC socket when present,
// otherwise plain HTTP JSON-RPC. The HTTP transport takes the store's
// addr, which already passed NormalizeAddr, so bare-port configs reach
// localhost rather than being treated as a hostname.
func buildInvoker(cfg config.Config, store *state.Store) transport.Invoker {
	if transport.SocketAvailable(cfg.SocketPath) {
		t := transport.NewSocketTransport(cfg.SocketPath)
		t.AddrFunc = store.ServiceAddr
		return t
	}
	t, err := transport.NewHTTPTransport(store.ServiceAddr())
	if err != nil {
		// An addr the URL parser still rejects leaves only the default.
		t, _ = transport.NewHTTPTransport(conn.DefaultAddr)
	}
	return t
}
