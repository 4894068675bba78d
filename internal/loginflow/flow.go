// Package loginflow drives OAuth-style account logins against the
// service: start, open the external browser, poll status until a
// terminal state, or accept a manually pasted callback URL.
package loginflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/codexmanager/cmpanel/internal/logger"
	"github.com/codexmanager/cmpanel/internal/reqctl"
	"github.com/codexmanager/cmpanel/internal/state"
	"github.com/codexmanager/cmpanel/internal/transport"
)

const (
	pollInterval    = 1500 * time.Millisecond
	statusTimeout   = 6 * time.Second
	overallDeadline = 2 * time.Minute
)

// Phase is the lifecycle of a single login attempt.
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseStarting        Phase = "starting"
	PhaseAwaitingBrowser Phase = "awaiting-browser"
	PhasePolling         Phase = "polling"
	PhaseSuccess         Phase = "success"
	PhaseFailed          Phase = "failed"
	PhaseTimeout         Phase = "timeout"
	PhaseCancelled       Phase = "cancelled"
)

// ErrLoginTimeout reports that polling exhausted the overall deadline
// without the service reaching a terminal state.
var ErrLoginTimeout = errors.New("登录超时，请重试")

// StartOptions carries the operator's inputs for a new login attempt.
type StartOptions struct {
	LoginType   string
	Note        string
	Tags        []string
	GroupName   string
	WorkspaceID string
}

// Result is the outcome of a completed attempt.
type Result struct {
	LoginID string
	Warning string
}

// Flow owns at most one login attempt at a time. A Run call while an
// attempt is active joins the in-flight attempt and returns its result.
type Flow struct {
	invoker transport.Invoker
	store   *state.Store

	// OpenURL opens the auth URL in the operator's browser. Defaults to
	// the desktop open_external_url command, falling back to the
	// platform opener.
	OpenURL func(ctx context.Context, rawURL string) error

	flight singleflight.Group

	pollEvery time.Duration
	deadline  time.Duration

	mu     sync.Mutex
	phase  Phase
	cancel context.CancelFunc
}

// New builds a login flow bound to the given transport and store.
func New(invoker transport.Invoker, store *state.Store) *Flow {
	f := &Flow{
		invoker:   invoker,
		store:     store,
		phase:     PhaseIdle,
		pollEvery: pollInterval,
		deadline:  overallDeadline,
	}
	f.OpenURL = f.openExternal
	return f
}

// Phase reports the current attempt phase.
func (f *Flow) Phase() Phase {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.phase
}

func (f *Flow) setPhase(p Phase) {
	f.mu.Lock()
	f.phase = p
	f.mu.Unlock()
}

// Run starts a login attempt and blocks until it reaches a terminal
// state. Concurrent callers share one attempt.
func (f *Flow) Run(ctx context.Context, opts StartOptions) (Result, error) {
	v, err, _ := f.flight.Do("login", func() (any, error) {
		return f.run(ctx, opts)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (f *Flow) run(ctx context.Context, opts StartOptions) (Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, f.deadline)
	defer cancel()

	f.mu.Lock()
	f.cancel = cancel
	f.phase = PhaseStarting
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.cancel = nil
		f.mu.Unlock()
		f.store.SetActiveLoginID("")
	}()

	started, err := f.start(runCtx, opts)
	if err != nil {
		f.setPhase(PhaseFailed)
		return Result{}, err
	}
	f.store.SetActiveLoginID(started.LoginID)
	if started.Warning != "" {
		logger.Warn("login start warning", "warning", started.Warning)
	}

	f.setPhase(PhaseAwaitingBrowser)
	if started.AuthURL != "" {
		if err := f.OpenURL(runCtx, started.AuthURL); err != nil {
			// The operator can still paste the callback URL by hand.
			logger.Warn("open auth url", "error", err)
		}
	}

	f.setPhase(PhasePolling)
	if err := f.poll(runCtx, started.LoginID); err != nil {
		switch {
		case errors.Is(err, ErrLoginTimeout):
			f.setPhase(PhaseTimeout)
		case reqctl.IsCancelled(err) && ctx.Err() == nil:
			// runCtx was cancelled by Cancel, not by the caller.
			f.setPhase(PhaseCancelled)
		default:
			f.setPhase(PhaseFailed)
		}
		return Result{}, err
	}

	f.setPhase(PhaseSuccess)
	return Result{LoginID: started.LoginID, Warning: started.Warning}, nil
}

// Cancel aborts the active attempt, if any. Safe to call at any time.
func (f *Flow) Cancel() {
	f.mu.Lock()
	cancel := f.cancel
	f.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	f.store.SetActiveLoginID("")
}

type startReply struct {
	AuthURL string
	LoginID string
	Warning string
}

func (f *Flow) start(ctx context.Context, opts StartOptions) (startReply, error) {
	params := map[string]any{
		"loginType":   opts.LoginType,
		"openBrowser": false,
	}
	if opts.Note != "" {
		params["note"] = opts.Note
	}
	if len(opts.Tags) > 0 {
		params["tags"] = opts.Tags
	}
	if opts.GroupName != "" {
		params["groupName"] = opts.GroupName
	}
	if opts.WorkspaceID != "" {
		params["workspaceId"] = opts.WorkspaceID
	}

	raw, err := f.invoker.Invoke(ctx, transport.OpLoginStart, params, reqctl.Options{})
	if err != nil {
		return startReply{}, err
	}

	var body struct {
		AuthURL      string `json:"authUrl"`
		AuthURLSnake string `json:"auth_url"`
		LoginID      string `json:"loginId"`
		LoginIDSnake string `json:"login_id"`
		Warning      string `json:"warning"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return startReply{}, fmt.Errorf("decode login start: %w", err)
	}
	reply := startReply{AuthURL: body.AuthURL, LoginID: body.LoginID, Warning: body.Warning}
	if reply.AuthURL == "" {
		reply.AuthURL = body.AuthURLSnake
	}
	if reply.LoginID == "" {
		reply.LoginID = body.LoginIDSnake
	}
	if reply.LoginID == "" {
		return startReply{}, errors.New("登录启动失败：服务未返回 loginId")
	}
	return reply, nil
}

func (f *Flow) poll(ctx context.Context, loginID string) error {
	ticker := time.NewTicker(f.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrLoginTimeout
			}
			return ctx.Err()
		case <-ticker.C:
		}

		raw, err := f.invoker.Invoke(ctx, transport.OpLoginStatus,
			map[string]any{"loginId": loginID},
			reqctl.Options{Timeout: statusTimeout, Retries: 0})
		if err != nil {
			if reqctl.IsCancelled(err) {
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return ErrLoginTimeout
				}
				return err
			}
			// Transient status failures do not end the attempt.
			logger.Warn("login status poll", "error", err)
			continue
		}

		status, reason := decodeStatus(raw)
		switch status {
		case "success", "ok", "completed":
			return nil
		case "failed", "error", "denied":
			if reason == "" {
				reason = "登录失败"
			}
			return errors.New(reason)
		}
	}
}

func decodeStatus(raw json.RawMessage) (status, reason string) {
	var body struct {
		Status  string `json:"status"`
		State   string `json:"state"`
		Reason  string `json:"reason"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", ""
	}
	status = strings.ToLower(body.Status)
	if status == "" {
		status = strings.ToLower(body.State)
	}
	reason = body.Reason
	if reason == "" {
		reason = body.Message
	}
	if reason == "" {
		reason = body.Error
	}
	return status, reason
}

// CompleteManual finishes an attempt from a pasted callback URL. It
// accepts scheme-less input and extracts the code and state query
// parameters.
func (f *Flow) CompleteManual(ctx context.Context, rawURL string) error {
	code, stateParam, redirect, err := ParseCallback(rawURL)
	if err != nil {
		return err
	}
	raw, err := f.invoker.Invoke(ctx, transport.OpLoginComplete, map[string]any{
		"state":       stateParam,
		"code":        code,
		"redirectUri": redirect,
	}, reqctl.Options{})
	if err != nil {
		return err
	}
	var body struct {
		OK *bool `json:"ok"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.OK != nil && !*body.OK {
		return errors.New("登录回调未被服务接受")
	}
	f.store.SetActiveLoginID("")
	return nil
}

// ParseCallback extracts code, state and the redirect URI (the pasted
// URL without its query) from an OAuth callback URL.
func ParseCallback(rawURL string) (code, stateParam, redirectURI string, err error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return "", "", "", errors.New("请输入回调链接")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", "", "", fmt.Errorf("回调链接无法解析: %w", err)
	}
	q := u.Query()
	code = q.Get("code")
	stateParam = q.Get("state")
	if code == "" || stateParam == "" {
		return "", "", "", errors.New("回调链接缺少 code 或 state 参数")
	}
	redirect := *u
	redirect.RawQuery = ""
	redirect.Fragment = ""
	return code, stateParam, redirect.String(), nil
}

// openExternal opens a URL through the desktop bridge when available,
// otherwise through the platform opener.
func (f *Flow) openExternal(ctx context.Context, rawURL string) error {
	if f.invoker.Desktop() {
		_, err := f.invoker.InvokeCommand(ctx, transport.OpOpenExternal.Command,
			map[string]any{"url": rawURL}, reqctl.Options{Retries: 0})
		if err == nil {
			return nil
		}
		if !transport.IsCommandMissing(err) {
			return err
		}
	}
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", rawURL)
	case "windows":
		cmd = exec.CommandContext(ctx, "rundll32", "url.dll,FileProtocolHandler", rawURL)
	default:
		cmd = exec.CommandContext(ctx, "xdg-open", rawURL)
	}
	return cmd.Start()
}
