package loginflow

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/codexmanager/cmpanel/internal/conn"
	"github.com/codexmanager/cmpanel/internal/reqctl"
	"github.com/codexmanager/cmpanel/internal/state"
	"github.com/codexmanager/cmpanel/internal/transport"
)

type loginInvoker struct {
	mu       sync.Mutex
	statuses []json.RawMessage // consumed in order, last one repeats
	started  []map[string]any
	complete []map[string]any
	desktop  bool
}

func (i *loginInvoker) Invoke(ctx context.Context, op transport.Op, params any, opts reqctl.Options) (json.RawMessage, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	switch op.Command {
	case transport.OpLoginStart.Command:
		i.started = append(i.started, params.(map[string]any))
		return json.RawMessage(`{"authUrl":"https://auth.example/device","loginId":"lg-1"}`), nil
	case transport.OpLoginStatus.Command:
		if len(i.statuses) == 0 {
			return json.RawMessage(`{"status":"pending"}`), nil
		}
		next := i.statuses[0]
		if len(i.statuses) > 1 {
			i.statuses = i.statuses[1:]
		}
		return next, nil
	case transport.OpLoginComplete.Command:
		i.complete = append(i.complete, params.(map[string]any))
		return json.RawMessage(`{"ok":true}`), nil
	}
	return json.RawMessage(`{}`), nil
}

func (i *loginInvoker) InvokeCommand(ctx context.Context, command string, params any, opts reqctl.Options) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func (i *loginInvoker) Desktop() bool { return i.desktop }

func newFlow(inv *loginInvoker) (*Flow, *state.Store) {
	store := state.New(conn.DefaultAddr)
	f := New(inv, store)
	f.pollEvery = 5 * time.Millisecond
	f.deadline = time.Second
	f.OpenURL = func(ctx context.Context, rawURL string) error { return nil }
	return f, store
}

func TestRun_SuccessAfterPending(t *testing.T) {
	t.Parallel()

	inv := &loginInvoker{statuses: []json.RawMessage{
		json.RawMessage(`{"status":"pending"}`),
		json.RawMessage(`{"status":"pending"}`),
		json.RawMessage(`{"status":"success"}`),
	}}
	f, store := newFlow(inv)

	res, err := f.Run(context.Background(), StartOptions{LoginType: "oauth", Note: "work"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.LoginID != "lg-1" {
		t.Fatalf("LoginID = %q", res.LoginID)
	}
	if f.Phase() != PhaseSuccess {
		t.Fatalf("phase = %q, want success", f.Phase())
	}
	if store.ActiveLoginID() != "" {
		t.Fatal("active login id not cleared after terminal state")
	}

	params := inv.started[0]
	if got, ok := params["openBrowser"].(bool); !ok || got {
		t.Fatalf("openBrowser = %v, want false", params["openBrowser"])
	}
	if params["loginType"] != "oauth" || params["note"] != "work" {
		t.Fatalf("start params = %v", params)
	}
}

func TestRun_FailurePropagatesReason(t *testing.T) {
	t.Parallel()

	inv := &loginInvoker{statuses: []json.RawMessage{
		json.RawMessage(`{"status":"failed","reason":"access denied by workspace"}`),
	}}
	f, _ := newFlow(inv)

	_, err := f.Run(context.Background(), StartOptions{LoginType: "oauth"})
	if err == nil || err.Error() != "access denied by workspace" {
		t.Fatalf("err = %v, want service reason", err)
	}
	if f.Phase() != PhaseFailed {
		t.Fatalf("phase = %q, want failed", f.Phase())
	}
}

func TestRun_CancelClearsActiveLogin(t *testing.T) {
	t.Parallel()

	// Status never reaches a terminal state; the attempt only ends
	// because Cancel aborts polling.
	inv := &loginInvoker{}
	f, store := newFlow(inv)

	done := make(chan error, 1)
	go func() {
		_, err := f.Run(context.Background(), StartOptions{LoginType: "oauth"})
		done <- err
	}()

	deadline := time.After(time.Second)
	for store.ActiveLoginID() == "" {
		select {
		case <-deadline:
			t.Fatal("attempt never became active")
		case <-time.After(time.Millisecond):
		}
	}

	f.Cancel()
	err := <-done
	if err == nil || !reqctl.IsCancelled(err) {
		t.Fatalf("err = %v, want cancellation", err)
	}
	if f.Phase() != PhaseCancelled {
		t.Fatalf("phase = %q, want cancelled", f.Phase())
	}
	if store.ActiveLoginID() != "" {
		t.Fatal("active login id not cleared after cancel")
	}
}

func TestRun_TimeoutWhenNeverTerminal(t *testing.T) {
	t.Parallel()

	inv := &loginInvoker{}
	f, _ := newFlow(inv)
	f.deadline = 50 * time.Millisecond

	_, err := f.Run(context.Background(), StartOptions{LoginType: "oauth"})
	if !errors.Is(err, ErrLoginTimeout) {
		t.Fatalf("err = %v, want ErrLoginTimeout", err)
	}
	if f.Phase() != PhaseTimeout {
		t.Fatalf("phase = %q, want timeout", f.Phase())
	}
}

func TestRun_ConcurrentCallersShareAttempt(t *testing.T) {
	t.Parallel()

	inv := &loginInvoker{statuses: []json.RawMessage{
		json.RawMessage(`{"status":"pending"}`),
		json.RawMessage(`{"status":"pending"}`),
		json.RawMessage(`{"status":"pending"}`),
		json.RawMessage(`{"status":"pending"}`),
		json.RawMessage(`{"status":"success"}`),
	}}
	f, _ := newFlow(inv)

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.Run(context.Background(), StartOptions{LoginType: "oauth"})
		}()
	}
	wg.Wait()

	if len(inv.started) != 1 {
		t.Fatalf("login started %d times, want 1", len(inv.started))
	}
}

func TestParseCallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		code     string
		state    string
		redirect string
		wantErr  bool
	}{
		{
			name:     "full url",
			input:    "https://localhost:1455/auth/callback?code=abc&state=xyz",
			code:     "abc",
			state:    "xyz",
			redirect: "https://localhost:1455/auth/callback",
		},
		{
			name:     "scheme-less",
			input:    "localhost:1455/auth/callback?code=abc&state=xyz",
			code:     "abc",
			state:    "xyz",
			redirect: "http://localhost:1455/auth/callback",
		},
		{
			name:     "fragment stripped",
			input:    "https://h/cb?code=a&state=s#frag",
			code:     "a",
			state:    "s",
			redirect: "https://h/cb",
		},
		{name: "missing code", input: "https://h/cb?state=s", wantErr: true},
		{name: "missing state", input: "https://h/cb?code=a", wantErr: true},
		{name: "empty", input: "   ", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, stateParam, redirect, err := ParseCallback(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCallback(%q): %v", tc.input, err)
			}
			if code != tc.code || stateParam != tc.state || redirect != tc.redirect {
				t.Fatalf("got (%q, %q, %q), want (%q, %q, %q)",
					code, stateParam, redirect, tc.code, tc.state, tc.redirect)
			}
		})
	}
}

func TestCompleteManual_SendsParsedFields(t *testing.T) {
	t.Parallel()

	inv := &loginInvoker{}
	f, _ := newFlow(inv)

	err := f.CompleteManual(context.Background(), "localhost:1455/auth/callback?code=abc&state=xyz")
	if err != nil {
		t.Fatalf("CompleteManual: %v", err)
	}
	if len(inv.complete) != 1 {
		t.Fatalf("complete called %d times, want 1", len(inv.complete))
	}
	p := inv.complete[0]
	if p["code"] != "abc" || p["state"] != "xyz" || p["redirectUri"] != "http://localhost:1455/auth/callback" {
		t.Fatalf("complete params = %v", p)
	}
}
