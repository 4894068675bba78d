package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/codexmanager/cmpanel/internal/reqctl"
)

const (
	tokenHeader       = "X-CodexManager-Rpc-Token"
	tokenFetchTimeout = 2500 * time.Millisecond
	// Request-log lists can be large; give them more room than plain RPC.
	LogListTimeout = 8 * time.Second
)

// TokenClient is the auxiliary token-authenticated HTTP path used for
// request-log fetches in desktop mode. The token comes from the socket
// transport once and is cached; any non-cancel failure clears the cache
// before the error is re-raised.
type TokenClient struct {
	invoker  Invoker
	addrFunc func() string
	http     *http.Client
	nextID   atomic.Int64

	mu    sync.Mutex
	token string
	fetch singleflight.Group
}

// NewTokenClient builds a token client on top of the desktop invoker.
func NewTokenClient(invoker Invoker, addrFunc func() string) *TokenClient {
	return &TokenClient{
		invoker:  invoker,
		addrFunc: addrFunc,
		http:     &http.Client{},
	}
}

// FetchRequestLogs posts a requestlog/list call to http://<addr>/rpc with
// the cached RPC token.
func (c *TokenClient) FetchRequestLogs(ctx context.Context, params any) (json.RawMessage, error) {
	raw, err := c.post(ctx, OpRequestLogList.Method, params)
	if err != nil && !reqctl.IsCancelled(err) {
		c.clearToken()
	}
	return raw, err
}

func (c *TokenClient) post(ctx context.Context, method string, params any) (json.RawMessage, error) {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, LogListTimeout)
	defer cancel()

	addr := c.addrFunc()
	reqURL := fmt.Sprintf("http://%s/rpc", addr)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(tokenHeader, token)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
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

// ensureToken returns the cached token, fetching it once via the socket
// transport under single-flight when empty.
func (c *TokenClient) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		return token, nil
	}

	v, err, _ := c.fetch.Do("rpc-token", func() (any, error) {
		raw, err := c.invoker.Invoke(ctx, OpRPCToken, nil, reqctl.Options{Timeout: tokenFetchTimeout})
		if err != nil {
			return "", err
		}
		return decodeToken(raw)
	})
	if err != nil {
		return "", fmt.Errorf("fetch rpc token: %w", err)
	}

	token = v.(string)
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	return token, nil
}

func (c *TokenClient) clearToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// decodeToken accepts either a bare string or a {token} object.
func decodeToken(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return s, nil
	}
	var obj struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Token != "" {
		return obj.Token, nil
	}
	return "", fmt.Errorf("rpc token response has no token")
}
