package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/codexmanager/cmpanel/internal/reqctl"
)

// SocketTransport is the desktop-mode transport: newline-delimited JSON
// command envelopes over the service's unix domain socket. It carries the
// service addr so commands that proxy to a remote service can inject it.
type SocketTransport struct {
	socketPath string
	// AddrFunc supplies the current service addr for injection into command
	// params. Nil means no injection.
	AddrFunc func() string

	dial func(ctx context.Context, path string) (net.Conn, error)
}

var _ Invoker = (*SocketTransport)(nil)

// NewSocketTransport builds a transport for the given socket path.
func NewSocketTransport(socketPath string) *SocketTransport {
	return &SocketTransport{
		socketPath: socketPath,
		dial: func(ctx context.Context, path string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", path)
		},
	}
}

// SocketAvailable reports whether a desktop runtime socket is present.
func SocketAvailable(socketPath string) bool {
	if socketPath == "" {
		return false
	}
	_, err := os.Stat(socketPath)
	return err == nil
}

// Desktop reports true: the socket transport is the desktop bridge.
func (t *SocketTransport) Desktop() bool { return true }

// Invoke sends op's snake_case command over the socket.
func (t *SocketTransport) Invoke(ctx context.Context, op Op, params any, opts reqctl.Options) (json.RawMessage, error) {
	return t.InvokeCommand(ctx, op.Command, params, opts)
}

type commandEnvelope struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

// InvokeCommand sends a raw command envelope and unwraps the reply.
func (t *SocketTransport) InvokeCommand(ctx context.Context, command string, params any, opts reqctl.Options) (json.RawMessage, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultRPCTimeout
	}
	if opts.ShouldRetry == nil {
		// Local socket round-trips either work or fail fast. The command
		// loop in flows handles retries where they make sense.
		opts.ShouldRetry = func(error) bool { return false }
	}

	addr := ""
	if t.AddrFunc != nil {
		addr = t.AddrFunc()
	}
	merged, err := mergeParams(params, addr)
	if err != nil {
		return nil, err
	}

	return reqctl.Do(ctx, opts, func(ctx context.Context) (json.RawMessage, error) {
		return t.roundTrip(ctx, commandEnvelope{Command: command, Params: merged})
	})
}

func (t *SocketTransport) roundTrip(ctx context.Context, env commandEnvelope) (json.RawMessage, error) {
	conn, err := t.dial(ctx, t.socketPath)
	if err != nil {
		return nil, fmt.Errorf("dial service socket: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.SetDeadline(time.Unix(1, 0)) // unblock reader
		case <-done:
		}
	}()

	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode command: %w", err)
	}
	payload = append(payload, '\n')
	if _, err := conn.Write(payload); err != nil {
		return nil, fmt.Errorf("write command %s: %w", env.Command, err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("read reply for %s: %w", env.Command, err)
	}
	return Unwrap(json.RawMessage(line))
}
