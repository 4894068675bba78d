// Package transport exposes one logical call surface for the service API
// across the local socket transport and HTTP JSON-RPC.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/codexmanager/cmpanel/internal/reqctl"
)

// Op binds a logical operation to both wire forms: the socket command
// (snake_case) and the JSON-RPC method (dotted).
type Op struct {
	Command string
	Method  string
}

// The full operation table. Ops whose Method is empty are desktop-only.
var (
	OpInitialize = Op{"service_initialize", "initialize"}

	OpAccountList   = Op{"service_account_list", "account/list"}
	OpAccountImport = Op{"service_account_import", "account/import"}
	OpAccountResort = Op{"service_account_resort", "account/resort"}
	OpAccountDelete = Op{"service_account_delete", "account/delete"}

	OpUsageRead    = Op{"service_usage_read", "account/usage/read"}
	OpUsageList    = Op{"service_usage_list", "account/usage/list"}
	OpUsageRefresh = Op{"service_usage_refresh", "account/usage/refresh"}

	OpRequestLogList  = Op{"service_requestlog_list", "requestlog/list"}
	OpRequestLogClear = Op{"service_requestlog_clear", "requestlog/clear"}
	OpRequestLogToday = Op{"service_requestlog_today_summary", "requestlog/today_summary"}

	OpRouteStrategyGet   = Op{"service_gateway_route_strategy_get", "gateway/routeStrategy/get"}
	OpRouteStrategySet   = Op{"service_gateway_route_strategy_set", "gateway/routeStrategy/set"}
	OpHeaderPolicyGet    = Op{"service_gateway_header_policy_get", "gateway/headerPolicy/get"}
	OpHeaderPolicySet    = Op{"service_gateway_header_policy_set", "gateway/headerPolicy/set"}
	OpBackgroundTasksGet = Op{"service_gateway_background_tasks_get", "gateway/backgroundTasks/get"}
	OpBackgroundTasksSet = Op{"service_gateway_background_tasks_set", "gateway/backgroundTasks/set"}

	OpLoginStart    = Op{"service_login_start", "account/login/start"}
	OpLoginStatus   = Op{"service_login_status", "account/login/status"}
	OpLoginComplete = Op{"service_login_complete", "account/login/complete"}

	OpAPIKeyList        = Op{"service_apikey_list", "apikey/list"}
	OpAPIKeyCreate      = Op{"service_apikey_create", "apikey/create"}
	OpAPIKeyUpdateModel = Op{"service_apikey_update_model", "apikey/update_model"}
	OpAPIKeyEnable      = Op{"service_apikey_enable", "apikey/enable"}
	OpAPIKeyDisable     = Op{"service_apikey_disable", "apikey/disable"}
	OpAPIKeyDelete      = Op{"service_apikey_delete", "apikey/delete"}
	OpAPIKeyModels      = Op{"service_apikey_models", "apikey/models"}
	OpAPIKeyReadSecret  = Op{"service_apikey_read_secret", "apikey/read_secret"}

	OpServiceStart = Op{"service_start", ""}
	OpRPCToken     = Op{"service_rpc_token", ""}
	OpOpenExternal = Op{"open_external_url", ""}
)

// DefaultRPCTimeout applies to calls without an explicit per-call timeout.
const DefaultRPCTimeout = 8 * time.Second

// ErrDesktopOnly is returned for commands that need the local socket
// transport when only HTTP is available.
var ErrDesktopOnly = errors.New("该操作仅在桌面模式可用（未检测到本地 service 套接字）")

// Invoker is the single logical call surface both transports implement.
type Invoker interface {
	// Invoke calls a logical operation and returns the unwrapped result.
	Invoke(ctx context.Context, op Op, params any, opts reqctl.Options) (json.RawMessage, error)
	// InvokeCommand calls a raw socket command; used by flows that probe a
	// sequence of command aliases. HTTP mode returns ErrDesktopOnly.
	InvokeCommand(ctx context.Context, command string, params any, opts reqctl.Options) (json.RawMessage, error)
	// Desktop reports whether the local socket transport is in use.
	Desktop() bool
}

// BusinessError is a failure the service reported inside a well-formed
// response envelope.
type BusinessError struct {
	Message string
}

func (e *BusinessError) Error() string {
	return e.Message
}

// envelope matches the response shapes the service and its older versions
// emit: {result}, {ok,error}, a solitary {error}, or a bare payload.
type envelope struct {
	OK     *bool           `json:"ok,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

// Unwrap peels response envelopes until a bare result remains, converting
// any embedded failure into a BusinessError.
func Unwrap(raw json.RawMessage) (json.RawMessage, error) {
	for range 3 { // {result:{ok:false,error}} is the deepest known nesting
		if len(raw) == 0 || raw[0] != '{' {
			return raw, nil
		}
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return raw, nil
		}
		if len(env.Error) > 0 && !bytes.Equal(env.Error, nullLiteral) {
			return nil, &BusinessError{Message: errorMessage(env.Error)}
		}
		if env.OK != nil && !*env.OK {
			return nil, &BusinessError{Message: "operation failed"}
		}
		if len(env.Result) == 0 {
			return raw, nil
		}
		raw = env.Result
	}
	return raw, nil
}

var nullLiteral = json.RawMessage("null")

// errorMessage renders a JSON-RPC error value, which may be a plain string
// or a {code,message} object.
func errorMessage(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}

var missingCommandHints = []string{
	"not found",
	"unknown command",
	"no such command",
	"not managed",
	"does not exist",
}

// IsCommandMissing reports whether err looks like the service rejecting an
// unrecognized command name, which callers treat as "try the next alias".
func IsCommandMissing(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range missingCommandHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return strings.Contains(msg, "invalid args") && strings.Contains(msg, "for command")
}

// DisplayError truncates an error message to 120 characters for operator
// display. The cut lands on a rune boundary so multibyte messages stay
// valid UTF-8.
func DisplayError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if runes := []rune(msg); len(runes) > 120 {
		msg = string(runes[:120])
	}
	return msg
}

// mergeParams renders params as a JSON object with addr injected when the
// transport carries one.
func mergeParams(params any, addr string) (map[string]any, error) {
	merged := map[string]any{}
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode params: %w", err)
		}
		if err := json.Unmarshal(encoded, &merged); err != nil {
			return nil, fmt.Errorf("params must encode to an object: %w", err)
		}
	}
	if addr != "" {
		if _, exists := merged["addr"]; !exists {
			merged["addr"] = addr
		}
	}
	return merged, nil
}
