// Package settings keeps operator settings consistent between the local
// prefs store and the service. Each setting follows one lifecycle: read
// local (normalize, default), push on change under single-flight, adopt the
// server's echo, and re-push after every reconnect.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/codexmanager/cmpanel/internal/logger"
	"github.com/codexmanager/cmpanel/internal/models"
	"github.com/codexmanager/cmpanel/internal/prefs"
	"github.com/codexmanager/cmpanel/internal/reqctl"
	"github.com/codexmanager/cmpanel/internal/transport"
)

// Theme ids the panel ships palettes for.
const (
	ThemeDracula = "dracula"
	ThemeSlate   = "slate"
	ThemeLight   = "light"

	DefaultTheme = ThemeDracula
)

// NormalizeTheme maps unknown palette ids to the default.
func NormalizeTheme(raw string) string {
	switch raw {
	case ThemeDracula, ThemeSlate, ThemeLight:
		return raw
	default:
		return DefaultTheme
	}
}

// Service-backed settings tracked by the probe-id guard.
const (
	settingRouteStrategy   = "route-strategy"
	settingHeaderPolicy    = "header-policy"
	settingBackgroundTasks = "background-tasks"
)

// Sync owns the settings lifecycle.
type Sync struct {
	invoker transport.Invoker
	kv      *prefs.Store

	mu          sync.Mutex
	syncedProbe map[string]uint64
	flight      singleflight.Group
}

// New builds a Sync over the given transport and prefs store.
func New(invoker transport.Invoker, kv *prefs.Store) *Sync {
	return &Sync{
		invoker:     invoker,
		kv:          kv,
		syncedProbe: map[string]uint64{},
	}
}

// --- local-only settings -------------------------------------------------

// UpdateAutoCheck reads the local flag, persisting the default on first use.
func (s *Sync) UpdateAutoCheck() bool {
	v, ok := s.kv.GetBool(prefs.KeyUpdateAutoCheck)
	if !ok {
		v = true
		if err := s.kv.SetBool(prefs.KeyUpdateAutoCheck, v); err != nil {
			logger.Warn("persist default auto-check", "error", err)
		}
	}
	return v
}

// SetUpdateAutoCheck persists the flag.
func (s *Sync) SetUpdateAutoCheck(v bool) error {
	return s.kv.SetBool(prefs.KeyUpdateAutoCheck, v)
}

// LowTransparency reads the local UI flag.
func (s *Sync) LowTransparency() bool {
	v, ok := s.kv.GetBool(prefs.KeyLowTransparency)
	if !ok {
		if err := s.kv.SetBool(prefs.KeyLowTransparency, false); err != nil {
			logger.Warn("persist default low-transparency", "error", err)
		}
	}
	return v
}

// SetLowTransparency persists the UI flag.
func (s *Sync) SetLowTransparency(v bool) error {
	return s.kv.SetBool(prefs.KeyLowTransparency, v)
}

// Theme reads the palette id, normalized.
func (s *Sync) Theme() string {
	raw, ok := s.kv.Get(prefs.KeyTheme)
	theme := NormalizeTheme(raw)
	if !ok || raw != theme {
		if err := s.kv.Set(prefs.KeyTheme, theme); err != nil {
			logger.Warn("persist theme", "error", err)
		}
	}
	return theme
}

// SetTheme persists a palette id, normalized.
func (s *Sync) SetTheme(raw string) (string, error) {
	theme := NormalizeTheme(raw)
	return theme, s.kv.Set(prefs.KeyTheme, theme)
}

// ModelsLastRefreshAt reads the epoch-ms timestamp of the last remote model
// refresh; zero when never refreshed.
func (s *Sync) ModelsLastRefreshAt() time.Time {
	ms, ok := s.kv.GetInt64(prefs.KeyModelsLastRefreshedAt)
	if !ok || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// SetModelsLastRefreshAt persists the refresh timestamp.
func (s *Sync) SetModelsLastRefreshAt(t time.Time) error {
	return s.kv.SetInt64(prefs.KeyModelsLastRefreshedAt, t.UnixMilli())
}

// --- route strategy ------------------------------------------------------

// RouteStrategy reads the local strategy, persisting the default when the
// store had none.
func (s *Sync) RouteStrategy() models.RouteStrategy {
	raw, ok := s.kv.Get(prefs.KeyRouteStrategy)
	strategy := models.NormalizeRouteStrategy(raw)
	if !ok {
		if err := s.kv.Set(prefs.KeyRouteStrategy, string(strategy)); err != nil {
			logger.Warn("persist default route strategy", "error", err)
		}
	}
	return strategy
}

// SetRouteStrategy normalizes, persists, and pushes the strategy, adopting
// the value the service echoes back.
func (s *Sync) SetRouteStrategy(ctx context.Context, raw string, probeID uint64) (models.RouteStrategy, error) {
	strategy := models.NormalizeRouteStrategy(raw)
	if err := s.kv.Set(prefs.KeyRouteStrategy, string(strategy)); err != nil {
		return strategy, err
	}
	echoed, err := s.pushRouteStrategy(ctx, strategy, probeID)
	if err != nil {
		return strategy, err
	}
	return echoed, nil
}

func (s *Sync) pushRouteStrategy(ctx context.Context, strategy models.RouteStrategy, probeID uint64) (models.RouteStrategy, error) {
	v, err, _ := s.flight.Do(settingRouteStrategy, func() (any, error) {
		raw, err := s.invoker.Invoke(ctx, transport.OpRouteStrategySet,
			map[string]any{"strategy": string(strategy)}, reqctl.Options{})
		if err != nil {
			return nil, err
		}
		var echo struct {
			Strategy string `json:"strategy"`
		}
		if err := json.Unmarshal(raw, &echo); err != nil || echo.Strategy == "" {
			return strategy, nil // no echo; keep what we pushed
		}
		return models.NormalizeRouteStrategy(echo.Strategy), nil
	})
	if err != nil {
		return strategy, err
	}
	echoed := v.(models.RouteStrategy)
	if echoed != strategy {
		if err := s.kv.Set(prefs.KeyRouteStrategy, string(echoed)); err != nil {
			logger.Warn("persist echoed route strategy", "error", err)
		}
	}
	s.markSynced(settingRouteStrategy, probeID)
	return echoed, nil
}

// --- header policy -------------------------------------------------------

// NoCookieHeaderMode reads the local header-policy flag.
func (s *Sync) NoCookieHeaderMode() bool {
	v, _ := s.kv.GetBool(prefs.KeyNoCookieHeaderMode)
	return v
}

// SetNoCookieHeaderMode persists and pushes the header-policy flag.
func (s *Sync) SetNoCookieHeaderMode(ctx context.Context, enabled bool, probeID uint64) (bool, error) {
	if err := s.kv.SetBool(prefs.KeyNoCookieHeaderMode, enabled); err != nil {
		return enabled, err
	}
	return s.pushHeaderPolicy(ctx, enabled, probeID)
}

func (s *Sync) pushHeaderPolicy(ctx context.Context, enabled bool, probeID uint64) (bool, error) {
	v, err, _ := s.flight.Do(settingHeaderPolicy, func() (any, error) {
		raw, err := s.invoker.Invoke(ctx, transport.OpHeaderPolicySet,
			map[string]any{"cpa_no_cookie_header_mode": enabled}, reqctl.Options{})
		if err != nil {
			return nil, err
		}
		var echo struct {
			Enabled *bool `json:"cpa_no_cookie_header_mode"`
		}
		if err := json.Unmarshal(raw, &echo); err != nil || echo.Enabled == nil {
			return enabled, nil
		}
		return *echo.Enabled, nil
	})
	if err != nil {
		return enabled, err
	}
	echoed := v.(bool)
	if echoed != enabled {
		if err := s.kv.SetBool(prefs.KeyNoCookieHeaderMode, echoed); err != nil {
			logger.Warn("persist echoed header policy", "error", err)
		}
	}
	s.markSynced(settingHeaderPolicy, probeID)
	return echoed, nil
}

// --- background tasks ----------------------------------------------------

// BackgroundTasks reads locally persisted background-task settings, nil
// when the operator never changed them.
func (s *Sync) BackgroundTasks() *models.BackgroundTasksSettings {
	raw, ok := s.kv.Get(prefs.KeyBackgroundTasks)
	if !ok {
		return nil
	}
	var parsed models.BackgroundTasksSettings
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil
	}
	parsed.Normalize()
	return &parsed
}

// SetBackgroundTasks validates, persists, and pushes background-task
// settings. The service's echo is authoritative, including the list of
// keys whose change needs a restart.
func (s *Sync) SetBackgroundTasks(ctx context.Context, cfg models.BackgroundTasksSettings, probeID uint64) (models.BackgroundTasksResult, error) {
	if err := validateBackgroundTasks(cfg); err != nil {
		return models.BackgroundTasksResult{Settings: cfg}, err
	}
	if err := s.persistBackgroundTasks(cfg); err != nil {
		return models.BackgroundTasksResult{Settings: cfg}, err
	}
	return s.pushBackgroundTasks(ctx, cfg, probeID)
}

func validateBackgroundTasks(cfg models.BackgroundTasksSettings) error {
	checks := []struct {
		label string
		value int
	}{
		{"用量轮询间隔", cfg.UsagePollIntervalSec},
		{"会话轮询间隔", cfg.SessionPollIntervalSec},
		{"日志压缩间隔", cfg.LogCompactIntervalSec},
		{"工作线程系数", cfg.WorkerFactor},
		{"最小工作线程数", cfg.WorkerMinimum},
	}
	for _, c := range checks {
		if c.value < 1 {
			return fmt.Errorf("%s必须为正整数", c.label)
		}
	}
	return nil
}

func (s *Sync) persistBackgroundTasks(cfg models.BackgroundTasksSettings) error {
	encoded, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return s.kv.Set(prefs.KeyBackgroundTasks, string(encoded))
}

func (s *Sync) pushBackgroundTasks(ctx context.Context, cfg models.BackgroundTasksSettings, probeID uint64) (models.BackgroundTasksResult, error) {
	v, err, _ := s.flight.Do(settingBackgroundTasks, func() (any, error) {
		raw, err := s.invoker.Invoke(ctx, transport.OpBackgroundTasksSet,
			map[string]any{"settings": cfg}, reqctl.Options{})
		if err != nil {
			return nil, err
		}
		var echo models.BackgroundTasksResult
		if err := json.Unmarshal(raw, &echo); err != nil {
			return models.BackgroundTasksResult{Settings: cfg}, nil
		}
		echo.Settings.Normalize()
		return echo, nil
	})
	if err != nil {
		return models.BackgroundTasksResult{Settings: cfg}, err
	}
	result := v.(models.BackgroundTasksResult)
	if err := s.persistBackgroundTasks(result.Settings); err != nil {
		logger.Warn("persist echoed background tasks", "error", err)
	}
	s.markSynced(settingBackgroundTasks, probeID)
	return result, nil
}

// RestartKeyLabel maps a requires-restart key to an operator label. Unknown
// keys are shown verbatim; the set is a display-only hint.
func RestartKeyLabel(key string) string {
	switch key {
	case "usage_poll_interval_sec":
		return "用量轮询间隔"
	case "session_poll_interval_sec":
		return "会话轮询间隔"
	case "log_compact_interval_sec":
		return "日志压缩间隔"
	case "worker_factor":
		return "工作线程系数"
	case "worker_minimum":
		return "最小工作线程数"
	default:
		return key
	}
}

// --- reconnect re-sync ---------------------------------------------------

// NeedsReapply reports whether any service-backed setting has not been
// synced to the given probe id.
func (s *Sync) NeedsReapply(probeID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range []string{settingRouteStrategy, settingHeaderPolicy, settingBackgroundTasks} {
		if s.syncedProbe[name] != probeID {
			return true
		}
	}
	return false
}

// ReapplyForProbe pushes every service-backed setting whose local value has
// not been synced to the given probe id. Settings without a local value
// adopt the service's current value instead. Failures are logged, not
// surfaced: the next cycle retries.
func (s *Sync) ReapplyForProbe(ctx context.Context, probeID uint64) {
	if s.probeFor(settingRouteStrategy) != probeID {
		if raw, ok := s.kv.Get(prefs.KeyRouteStrategy); ok {
			if _, err := s.pushRouteStrategy(ctx, models.NormalizeRouteStrategy(raw), probeID); err != nil {
				logger.Warn("re-push route strategy", "error", err)
			}
		} else {
			s.adoptRemoteRouteStrategy(ctx, probeID)
		}
	}
	if s.probeFor(settingHeaderPolicy) != probeID {
		if enabled, ok := s.kv.GetBool(prefs.KeyNoCookieHeaderMode); ok {
			if _, err := s.pushHeaderPolicy(ctx, enabled, probeID); err != nil {
				logger.Warn("re-push header policy", "error", err)
			}
		} else {
			s.adoptRemoteHeaderPolicy(ctx, probeID)
		}
	}
	if s.probeFor(settingBackgroundTasks) != probeID {
		if cfg := s.BackgroundTasks(); cfg != nil {
			if _, err := s.pushBackgroundTasks(ctx, *cfg, probeID); err != nil {
				logger.Warn("re-push background tasks", "error", err)
			}
		} else {
			s.adoptRemoteBackgroundTasks(ctx, probeID)
		}
	}
}

func (s *Sync) adoptRemoteRouteStrategy(ctx context.Context, probeID uint64) {
	raw, err := s.invoker.Invoke(ctx, transport.OpRouteStrategyGet, nil, reqctl.Options{})
	if err != nil {
		logger.Warn("read remote route strategy", "error", err)
		return
	}
	var remote struct {
		Strategy string `json:"strategy"`
	}
	if err := json.Unmarshal(raw, &remote); err != nil {
		return
	}
	strategy := models.NormalizeRouteStrategy(remote.Strategy)
	if err := s.kv.Set(prefs.KeyRouteStrategy, string(strategy)); err != nil {
		logger.Warn("persist adopted route strategy", "error", err)
	}
	s.markSynced(settingRouteStrategy, probeID)
}

func (s *Sync) adoptRemoteHeaderPolicy(ctx context.Context, probeID uint64) {
	raw, err := s.invoker.Invoke(ctx, transport.OpHeaderPolicyGet, nil, reqctl.Options{})
	if err != nil {
		logger.Warn("read remote header policy", "error", err)
		return
	}
	var remote struct {
		Enabled bool `json:"cpa_no_cookie_header_mode"`
	}
	if err := json.Unmarshal(raw, &remote); err != nil {
		return
	}
	if err := s.kv.SetBool(prefs.KeyNoCookieHeaderMode, remote.Enabled); err != nil {
		logger.Warn("persist adopted header policy", "error", err)
	}
	s.markSynced(settingHeaderPolicy, probeID)
}

func (s *Sync) adoptRemoteBackgroundTasks(ctx context.Context, probeID uint64) {
	raw, err := s.invoker.Invoke(ctx, transport.OpBackgroundTasksGet, nil, reqctl.Options{})
	if err != nil {
		logger.Warn("read remote background tasks", "error", err)
		return
	}
	var remote models.BackgroundTasksResult
	if err := json.Unmarshal(raw, &remote); err != nil {
		return
	}
	remote.Settings.Normalize()
	if err := s.persistBackgroundTasks(remote.Settings); err != nil {
		logger.Warn("persist adopted background tasks", "error", err)
	}
	s.markSynced(settingBackgroundTasks, probeID)
}

func (s *Sync) markSynced(name string, probeID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncedProbe[name] = probeID
}

func (s *Sync) probeFor(name string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncedProbe[name]
}
