package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/codexmanager/cmpanel/internal/reqctl"
)

const (
	rpcPath          = "/api/rpc"
	defaultUserAgent = "cmpanel/0.1"
	httpRetries      = 2
	httpRetryDelay   = 400 * time.Millisecond
)

// HTTPTransport speaks JSON-RPC 2.0 to the service over HTTP. It is the
// browser-mode transport: no socket, no desktop-only commands.
type HTTPTransport struct {
	baseURL   *url.URL
	http      *http.Client
	userAgent string
	nextID    atomic.Int64
}

var _ Invoker = (*HTTPTransport)(nil)

// NewHTTPTransport builds a transport for the given host:port service addr.
func NewHTTPTransport(addr string) (*HTTPTransport, error) {
	base, err := parseBaseURL(addr)
	if err != nil {
		return nil, err
	}
	return &HTTPTransport{
		baseURL:   base,
		http:      &http.Client{},
		userAgent: defaultUserAgent,
	}, nil
}

// Desktop reports false: HTTP mode has no local socket.
func (t *HTTPTransport) Desktop() bool { return false }

// Invoke posts a JSON-RPC request for op's dotted method, retrying 429 and
// 5xx responses with exponential backoff.
func (t *HTTPTransport) Invoke(ctx context.Context, op Op, params any, opts reqctl.Options) (json.RawMessage, error) {
	if op.Method == "" {
		return nil, ErrDesktopOnly
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultRPCTimeout
	}
	if opts.Retries == 0 {
		opts.Retries = httpRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = httpRetryDelay
	}
	if opts.ShouldRetryStatus == nil {
		opts.ShouldRetryStatus = RetryableStatus
	}
	if opts.ShouldRetry == nil {
		// Business failures are terminal; only transport-level errors retry.
		opts.ShouldRetry = func(err error) bool {
			var business *BusinessError
			return !errors.As(err, &business)
		}
	}
	return reqctl.Do(ctx, opts, func(ctx context.Context) (json.RawMessage, error) {
		return t.call(ctx, op.Method, params)
	})
}

// InvokeCommand always fails: raw socket commands need desktop mode.
func (t *HTTPTransport) InvokeCommand(ctx context.Context, command string, params any, opts reqctl.Options) (json.RawMessage, error) {
	return nil, ErrDesktopOnly
}

// RetryableStatus is the default HTTP retry predicate: 429 and 5xx.
func RetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

func (t *HTTPTransport) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      t.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	reqURL := t.baseURL.ResolveReference(&url.URL{Path: rpcPath})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", t.userAgent)

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &reqctl.StatusError{Code: resp.StatusCode, Body: string(snippet)}
	}

	var parsed rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Error) > 0 && !bytes.Equal(parsed.Error, nullLiteral) {
		return nil, &BusinessError{Message: errorMessage(parsed.Error)}
	}
	return Unwrap(parsed.Result)
}

// parseBaseURL normalizes a host:port (or full URL) into a clean base URL.
func parseBaseURL(addr string) (*url.URL, error) {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return nil, fmt.Errorf("service addr is empty")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse service addr %q: %w", addr, err)
	}
	u.Path = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}
