// Package update drives the two-phase application update flow: check,
// prepare (download), then install or restart depending on package
// type. Older service builds expose the commands under different
// names, so every phase walks a list of command aliases.
package update

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gen2brain/beeep"
	"golang.org/x/sync/singleflight"

	"github.com/codexmanager/cmpanel/internal/logger"
	"github.com/codexmanager/cmpanel/internal/reqctl"
	"github.com/codexmanager/cmpanel/internal/transport"
)

const autoCheckDelay = 1200 * time.Millisecond

var (
	checkAliases         = []string{"app_update_check", "update_check", "check_update"}
	prepareAliases       = []string{"app_update_prepare", "update_prepare", "update_download"}
	launchAliases        = []string{"app_update_launch_installer", "update_launch_installer"}
	applyPortableAliases = []string{"app_update_apply_portable", "update_apply_portable"}
	statusAliases        = []string{"app_update_status", "update_status"}
)

// ErrUnsupported reports that no alias of an update command exists on
// the connected service.
var ErrUnsupported = errors.New("当前服务不支持更新功能")

// Status is the normalized shape of an update check or status reply.
// Service builds disagree on field names; ParseStatus reconciles them.
type Status struct {
	Available       bool
	Version         string
	IsPortable      bool
	HasPortableHint bool
	Downloaded      bool
	CanPrepare      bool
	Reason          string
}

// ActionLabel is the button label the UI shows for this status.
func (s Status) ActionLabel() string {
	switch {
	case !s.Available:
		return "检查更新"
	case s.Downloaded && s.IsPortable:
		return "重启以完成更新"
	case s.Downloaded:
		return "安装更新"
	case s.CanPrepare:
		return fmt.Sprintf("更新到 v%s", s.Version)
	default:
		return "检查更新"
	}
}

// Flow runs update phases against the desktop bridge. Each phase is
// idempotent under re-entry: a second call while one is in flight joins
// the first.
type Flow struct {
	invoker transport.Invoker

	// Notify emits a desktop notification. Defaults to beeep.
	Notify func(title, message string) error

	checkDelay time.Duration

	flight singleflight.Group
}

// New builds an update flow over the given transport.
func New(invoker transport.Invoker) *Flow {
	return &Flow{
		invoker: invoker,
		Notify: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
		checkDelay: autoCheckDelay,
	}
}

// Check asks the service whether a newer version exists.
func (f *Flow) Check(ctx context.Context) (Status, error) {
	return f.phase(ctx, "check", checkAliases)
}

// Prepare downloads the pending update.
func (f *Flow) Prepare(ctx context.Context) (Status, error) {
	return f.phase(ctx, "prepare", prepareAliases)
}

// LaunchInstaller hands off to the platform installer. Installer
// packages only; portable packages use Restart.
func (f *Flow) LaunchInstaller(ctx context.Context) error {
	_, err := f.phase(ctx, "install", launchAliases)
	return err
}

// Restart applies a downloaded portable package and restarts.
func (f *Flow) Restart(ctx context.Context) error {
	_, err := f.phase(ctx, "restart", applyPortableAliases)
	return err
}

// Query reads the current update state without triggering a check.
func (f *Flow) Query(ctx context.Context) (Status, error) {
	return f.phase(ctx, "status", statusAliases)
}

func (f *Flow) phase(ctx context.Context, name string, aliases []string) (Status, error) {
	v, err, _ := f.flight.Do(name, func() (any, error) {
		raw, err := f.invokeAliases(ctx, aliases)
		if err != nil {
			return Status{}, err
		}
		return ParseStatus(raw), nil
	})
	if err != nil {
		return Status{}, err
	}
	return v.(Status), nil
}

// invokeAliases tries each command name in order, moving on only when
// the service reports the command itself as unknown.
func (f *Flow) invokeAliases(ctx context.Context, aliases []string) (json.RawMessage, error) {
	if !f.invoker.Desktop() {
		return nil, transport.ErrDesktopOnly
	}
	for _, alias := range aliases {
		raw, err := f.invoker.InvokeCommand(ctx, alias, nil, reqctl.Options{Retries: 0})
		if err == nil {
			return raw, nil
		}
		if reqctl.IsCancelled(err) {
			return nil, err
		}
		if transport.IsCommandMissing(err) {
			continue
		}
		return nil, err
	}
	return nil, ErrUnsupported
}

// AutoCheck runs a delayed silent check and notifies only when an
// update is available. Failures are logged, never surfaced.
func (f *Flow) AutoCheck(ctx context.Context, onAvailable func(Status)) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(f.checkDelay):
	}

	st, err := f.Check(ctx)
	if err != nil {
		if !reqctl.IsCancelled(err) && !errors.Is(err, ErrUnsupported) {
			logger.Warn("update auto-check", "error", err)
		}
		return
	}
	if !st.Available {
		return
	}
	if err := f.Notify("CodexManager", fmt.Sprintf("发现新版本 v%s", st.Version)); err != nil {
		logger.Warn("update notification", "error", err)
	}
	if onAvailable != nil {
		onAvailable(st)
	}
}

// ParseStatus normalizes the many reply shapes the update commands
// produce across service versions. Each field is resolved by walking a
// prioritized list of JSON paths; the first present value wins.
func ParseStatus(raw json.RawMessage) Status {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Status{}
	}

	st := Status{
		Available: pickBool(doc, "available", "hasUpdate", "has_update", "updateAvailable", "update.available"),
		Version: pickString(doc,
			"version", "latestVersion", "latest_version", "newVersion", "new_version", "update.version", "tag"),
		Downloaded: pickBool(doc, "downloaded", "prepared", "ready", "update.downloaded"),
		Reason:     pickString(doc, "reason", "message", "error", "update.reason"),
	}

	packageType := strings.ToLower(pickString(doc,
		"packageType", "package_type", "package", "kind", "update.packageType"))
	portableField, portablePresent := lookupBool(doc, "isPortable", "is_portable", "portable")
	st.IsPortable = portableField || strings.Contains(packageType, "portable")
	st.HasPortableHint = portablePresent || strings.Contains(packageType, "portable")

	if can, ok := lookupBool(doc, "canPrepare", "can_prepare", "preparable"); ok {
		st.CanPrepare = can
	} else {
		st.CanPrepare = st.Available && !st.Downloaded
	}
	st.Version = strings.TrimPrefix(st.Version, "v")
	return st
}

func pickString(doc any, paths ...string) string {
	for _, p := range paths {
		if v, ok := lookupPath(doc, p); ok {
			switch s := v.(type) {
			case string:
				if s != "" {
					return s
				}
			case float64:
				return fmt.Sprintf("%v", s)
			}
		}
	}
	return ""
}

func pickBool(doc any, paths ...string) bool {
	b, _ := lookupBool(doc, paths...)
	return b
}

func lookupBool(doc any, paths ...string) (value, present bool) {
	for _, p := range paths {
		v, ok := lookupPath(doc, p)
		if !ok {
			continue
		}
		switch b := v.(type) {
		case bool:
			return b, true
		case string:
			return b == "true" || b == "1" || b == "yes", true
		case float64:
			return b != 0, true
		}
	}
	return false, false
}

// lookupPath walks a dotted path through nested JSON objects.
func lookupPath(doc any, path string) (any, bool) {
	cur := doc
	for _, key := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}
