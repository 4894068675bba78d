package conn

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/codexmanager/cmpanel/internal/reqctl"
	"github.com/codexmanager/cmpanel/internal/state"
	"github.com/codexmanager/cmpanel/internal/transport"
)

func TestNormalizeAddr(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"", "localhost:48760"},
		{"  ", "localhost:48760"},
		{"5050", "localhost:5050"},
		{"localhost:5050", "localhost:5050"},
		{"192.168.1.4:9000", "192.168.1.4:9000"},
		{"example.com:80", "example.com:80"},
	}
	for _, tt := range tests {
		if got := NormalizeAddr(tt.raw); got != tt.want {
			t.Errorf("NormalizeAddr(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestNormalizeAddr_Idempotent(t *testing.T) {
	for _, raw := range []string{"", "5050", "localhost:5050", "example.com:80"} {
		once := NormalizeAddr(raw)
		if twice := NormalizeAddr(once); twice != once {
			t.Errorf("NormalizeAddr not idempotent: %q -> %q -> %q", raw, once, twice)
		}
	}
}

// scriptInvoker returns queued responses for initialize-style probing.
type scriptInvoker struct {
	desktop  bool
	script   []func(command string) (json.RawMessage, error)
	commands []string
}

func (s *scriptInvoker) Invoke(ctx context.Context, op transport.Op, params any, opts reqctl.Options) (json.RawMessage, error) {
	return s.InvokeCommand(ctx, op.Command, params, opts)
}

func (s *scriptInvoker) InvokeCommand(ctx context.Context, command string, params any, opts reqctl.Options) (json.RawMessage, error) {
	s.commands = append(s.commands, command)
	if len(s.script) == 0 {
		return nil, errors.New("script exhausted")
	}
	step := s.script[0]
	s.script = s.script[1:]
	return step(command)
}

func (s *scriptInvoker) Desktop() bool { return s.desktop }

func okInitialize(string) (json.RawMessage, error) {
	return json.RawMessage(`{"server_name":"codexmanager-service","version":"1.3.0"}`), nil
}

func failProbe(string) (json.RawMessage, error) {
	return nil, errors.New("connection refused")
}

func TestStartService_RetriesThenConnects(t *testing.T) {
	inv := &scriptInvoker{desktop: true, script: []func(string) (json.RawMessage, error){
		func(string) (json.RawMessage, error) { return json.RawMessage(`{"ok":true}`), nil }, // service_start
		failProbe,
		failProbe,
		okInitialize,
	}}
	store := state.New(NormalizeAddr("5050"))
	m := NewManager(inv, store)

	if err := m.StartService(context.Background(), 2); err != nil {
		t.Fatalf("StartService returned error: %v", err)
	}
	if !store.Connected() {
		t.Fatal("store not marked connected")
	}

	initCalls := 0
	for _, cmd := range inv.commands {
		if cmd == transport.OpInitialize.Command {
			initCalls++
		}
	}
	if initCalls != 3 {
		t.Fatalf("initialize called %d times, want 3", initCalls)
	}
	if store.Snapshot().ServiceLastError != "" {
		t.Fatalf("lingering error hint: %q", store.Snapshot().ServiceLastError)
	}
}

func TestStartService_BrowserMode(t *testing.T) {
	inv := &scriptInvoker{desktop: false}
	m := NewManager(inv, state.New(DefaultAddr))
	if err := m.StartService(context.Background(), 1); !errors.Is(err, transport.ErrDesktopOnly) {
		t.Fatalf("err = %v, want ErrDesktopOnly", err)
	}
}

func TestProbe_AdvancesProbeID(t *testing.T) {
	inv := &scriptInvoker{desktop: true, script: []func(string) (json.RawMessage, error){okInitialize, okInitialize}}
	store := state.New(DefaultAddr)
	m := NewManager(inv, store)

	first, err := m.Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	second, err := m.Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if second != first+1 {
		t.Fatalf("probe ids %d,%d not monotone", first, second)
	}
}

func TestCheckInitialize_Hints(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"empty", ``, ErrEmptyInitialize},
		{"null", `null`, ErrEmptyInitialize},
		{"empty object", `{}`, ErrEmptyInitialize},
		{"foreign server", `{"name":"nginx"}`, ErrNotThisService},
		{"not json", `<html>`, ErrNotThisService},
		{"valid", `{"server_name":"codexmanager-service"}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkInitialize(json.RawMessage(tt.raw))
			if !errors.Is(err, tt.want) {
				t.Fatalf("checkInitialize = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestEnsureConnected_UsesSilentProbe(t *testing.T) {
	inv := &scriptInvoker{desktop: true, script: []func(string) (json.RawMessage, error){okInitialize}}
	store := state.New(DefaultAddr)
	m := NewManager(inv, store)

	if !m.EnsureConnected(context.Background()) {
		t.Fatal("EnsureConnected = false, want true")
	}
	// Already connected: no further probe issued.
	if !m.EnsureConnected(context.Background()) {
		t.Fatal("EnsureConnected on connected store = false")
	}
	if len(inv.commands) != 1 {
		t.Fatalf("probe commands = %v, want exactly one", inv.commands)
	}
}
