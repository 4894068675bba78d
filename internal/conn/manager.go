// Package conn tracks service reachability and owns the initialize probe.
package conn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/codexmanager/cmpanel/internal/logger"
	"github.com/codexmanager/cmpanel/internal/reqctl"
	"github.com/codexmanager/cmpanel/internal/state"
	"github.com/codexmanager/cmpanel/internal/transport"
)

// DefaultAddr is used when the operator never configured a service address.
const DefaultAddr = "localhost:48760"

const (
	probeTimeout  = 4 * time.Second
	probeInterval = 500 * time.Millisecond
)

// Initialize failures the panel can explain to the operator.
var (
	ErrEmptyInitialize = errors.New("空响应 / 端口被占用")
	ErrNotThisService  = errors.New("端口已被占用或响应来源不是 CodexManager service")
)

// NormalizeAddr turns operator input into host:port form: a bare port gets
// a localhost host, anything else passes through trimmed. Empty input maps
// to the default address. The function is idempotent.
func NormalizeAddr(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return DefaultAddr
	}
	if isBarePort(trimmed) {
		return "localhost:" + trimmed
	}
	return trimmed
}

func isBarePort(s string) bool {
	if len(s) == 0 || len(s) > 5 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Manager probes the service and maintains the connection fields of the
// store, advancing the probe id on every successful handshake.
type Manager struct {
	invoker transport.Invoker
	store   *state.Store
}

// NewManager binds a manager to its transport and store.
func NewManager(invoker transport.Invoker, store *state.Store) *Manager {
	return &Manager{invoker: invoker, store: store}
}

// WaitOptions configure a connection wait.
type WaitOptions struct {
	// Retries is the number of probe attempts after the first.
	Retries int
	// Silent suppresses warn logging for intermediate failures.
	Silent bool
}

// Probe performs one initialize round-trip. On success the store's probe id
// advances and the new id is returned.
func (m *Manager) Probe(ctx context.Context) (uint64, error) {
	raw, err := m.invoker.Invoke(ctx, transport.OpInitialize, nil, reqctl.Options{Timeout: probeTimeout})
	if err == nil {
		err = checkInitialize(raw)
	}
	if err != nil {
		m.store.MarkDisconnected(transport.DisplayError(err))
		return 0, err
	}
	return m.store.MarkConnected(), nil
}

// WaitForConnection probes until a handshake succeeds or retries run out.
// Intermediate failures are hints at best; only the final one is returned.
func (m *Manager) WaitForConnection(ctx context.Context, opts WaitOptions) (bool, error) {
	var lastErr error
	for attempt := 0; attempt <= opts.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(probeInterval):
			}
		}
		_, err := m.Probe(ctx)
		if err == nil {
			return true, nil
		}
		lastErr = err
		if reqctl.IsCancelled(err) {
			return false, err
		}
		if !opts.Silent {
			logger.Warn("initialize probe failed", "attempt", attempt+1, "error", err)
		}
	}
	return false, lastErr
}

// EnsureConnected returns true when the service is reachable, performing at
// most one silent probe when the store says otherwise.
func (m *Manager) EnsureConnected(ctx context.Context) bool {
	if m.store.Connected() {
		return true
	}
	ok, _ := m.WaitForConnection(ctx, WaitOptions{Silent: true})
	return ok
}

// StartService asks the desktop runtime to launch the service, then waits
// for it to answer initialize. Browser mode cannot start the service.
func (m *Manager) StartService(ctx context.Context, retries int) error {
	if !m.invoker.Desktop() {
		return transport.ErrDesktopOnly
	}
	addr := m.store.ServiceAddr()
	if _, err := m.invoker.Invoke(ctx, transport.OpServiceStart, map[string]any{"addr": addr}, reqctl.Options{}); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	ok, err := m.WaitForConnection(ctx, WaitOptions{Retries: retries, Silent: true})
	if !ok {
		if err == nil {
			err = errors.New("service did not answer initialize")
		}
		return err
	}
	return nil
}

// initializeResult is the handshake payload; older services may wrap it in
// a JSON-RPC envelope, which the transport has already peeled.
type initializeResult struct {
	ServerName string `json:"server_name"`
	Version    string `json:"version,omitempty"`
}

// checkInitialize validates the handshake payload. Empty replies and
// replies without a server_name map to actionable operator hints: both mean
// something else answered on the configured port.
func checkInitialize(raw json.RawMessage) error {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" || trimmed == "{}" {
		return ErrEmptyInitialize
	}
	var result initializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return ErrNotThisService
	}
	if result.ServerName == "" {
		return ErrNotThisService
	}
	return nil
}
