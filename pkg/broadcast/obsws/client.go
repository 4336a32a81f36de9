// Package obsws is a client for the OBS Studio WebSocket v5 protocol,
// implementing [broadcast.Backend].
//
// Only the request/response subset of the protocol is used: the client
// identifies with no event subscriptions, sends requests tagged with a random
// requestId and matches each RequestResponse by that id. Any number of
// requests may be in flight concurrently.
//
// Usage:
//
//	c, err := obsws.Dial(ctx, "localhost", 4455, password)
//	if err != nil { ... }
//	defer c.Close()
//	err = c.SetInputMute(ctx, "Mic/Aux", true)
package obsws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/censorbot/pkg/broadcast"
)

const (
	defaultRequestTimeout = 5 * time.Second
	defaultKeepalive      = 20 * time.Second
	readLimit             = 8 << 20
)

var errClosed = errors.New("obsws: client closed")

// Option is a functional option for [Dial].
type Option func(*Client)

// WithRequestTimeout bounds every request that has no earlier deadline.
// Defaults to 5 s.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithKeepalive sets the WebSocket ping interval. Zero disables pings.
// Defaults to 20 s.
func WithKeepalive(d time.Duration) Option {
	return func(c *Client) { c.keepalive = d }
}

// WithRequestObserver registers fn to be called after every request with its
// type, latency and outcome.
func WithRequestObserver(fn func(requestType string, latency time.Duration, err error)) Option {
	return func(c *Client) { c.observe = fn }
}

// Client is a connected OBS WebSocket session. It is safe for concurrent use.
type Client struct {
	conn      *websocket.Conn
	timeout   time.Duration
	keepalive time.Duration
	observe   func(string, time.Duration, error)

	serverVersion string

	mu      sync.Mutex
	pending map[string]chan responseMsg
	errVal  error

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	failOnce  sync.Once
}

var _ broadcast.Backend = (*Client)(nil)

// Dial connects to OBS at host:port and completes the Hello/Identify
// handshake, authenticating with password when the server requires it. Every
// failure wraps [broadcast.ErrConnection].
func Dial(ctx context.Context, host string, port int, password string, opts ...Option) (*Client, error) {
	url := "ws://" + net.JoinHostPort(host, strconv.Itoa(port))

	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		Subprotocols: []string{Subprotocol},
	})
	if err != nil {
		return nil, fmt.Errorf("obsws: dial %s: %w: %w", url, broadcast.ErrConnection, err)
	}
	conn.SetReadLimit(readLimit)

	cctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:      conn,
		timeout:   defaultRequestTimeout,
		keepalive: defaultKeepalive,
		pending:   make(map[string]chan responseMsg),
		ctx:       cctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}

	if err := c.handshake(ctx, password); err != nil {
		cancel()
		conn.Close(websocket.StatusPolicyViolation, "handshake failed")
		return nil, fmt.Errorf("obsws: handshake with %s: %w: %w", url, broadcast.ErrConnection, err)
	}

	go c.receiveLoop()
	if c.keepalive > 0 {
		go c.keepaliveLoop()
	}
	return c, nil
}

// ServerVersion returns the obs-websocket version announced in Hello.
func (c *Client) ServerVersion() string { return c.serverVersion }

func (c *Client) handshake(ctx context.Context, password string) error {
	var hello helloMsg
	if err := c.readOp(ctx, opHello, &hello); err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	c.serverVersion = hello.OBSWebSocketVersion
	if hello.RPCVersion < rpcVersion {
		return fmt.Errorf("server rpc version %d is not supported", hello.RPCVersion)
	}

	id := identifyMsg{RPCVersion: rpcVersion}
	if hello.Authentication != nil {
		if password == "" {
			return errors.New("server requires a password")
		}
		id.Authentication = authResponse(password, hello.Authentication.Salt, hello.Authentication.Challenge)
	}
	if err := c.writeOp(ctx, opIdentify, id); err != nil {
		return fmt.Errorf("send identify: %w", err)
	}

	var ok identifiedMsg
	if err := c.readOp(ctx, opIdentified, &ok); err != nil {
		switch websocket.CloseStatus(err) {
		case closeAuthenticationFailed:
			return errors.New("authentication failed: check the OBS WebSocket password")
		case closeUnsupportedRPC:
			return errors.New("rpc version rejected by server")
		}
		return fmt.Errorf("read identified: %w", err)
	}
	return nil
}

// readOp reads one message during the handshake and decodes its payload.
func (c *Client) readOp(ctx context.Context, want int, v any) error {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return err
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if env.Op != want {
		return fmt.Errorf("unexpected op %d, want %d", env.Op, want)
	}
	if err := json.Unmarshal(env.D, v); err != nil {
		return fmt.Errorf("decode op %d: %w", env.Op, err)
	}
	return nil
}

func (c *Client) writeOp(ctx context.Context, op int, v any) error {
	d, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data, err := json.Marshal(envelope{Op: op, D: d})
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// receiveLoop dispatches RequestResponse messages to waiting callers until
// the connection fails or the client is closed.
func (c *Client) receiveLoop() {
	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			c.fail(err)
			return
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Warn("obsws: dropping malformed message", "err", err)
			continue
		}
		if env.Op != opRequestResponse {
			continue
		}
		var resp responseMsg
		if err := json.Unmarshal(env.D, &resp); err != nil {
			slog.Warn("obsws: dropping malformed response", "err", err)
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.RequestID]
		delete(c.pending, resp.RequestID)
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (c *Client) keepaliveLoop() {
	ticker := time.NewTicker(c.keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.Ping(c.ctx); err != nil {
				if c.ctx.Err() != nil {
					return
				}
				slog.Warn("obsws: keepalive ping failed", "err", err)
			}
		}
	}
}

// fail records the terminal error and releases every waiting request.
func (c *Client) fail(err error) {
	c.failOnce.Do(func() {
		c.mu.Lock()
		if c.ctx.Err() != nil {
			c.errVal = errClosed
		} else {
			c.errVal = err
		}
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *Client) err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errVal
}

// Ping round-trips a WebSocket ping. It fails once the session is gone.
func (c *Client) Ping(ctx context.Context) error {
	select {
	case <-c.done:
		return fmt.Errorf("obsws: %w: %w", broadcast.ErrConnection, c.err())
	default:
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.conn.Ping(ctx); err != nil {
		return fmt.Errorf("obsws: ping: %w", err)
	}
	return nil
}

// Request sends a raw request and decodes responseData into out, which may be
// nil. A failed request status is returned as a [*RequestError].
func (c *Client) Request(ctx context.Context, requestType string, data, out any) (err error) {
	start := time.Now()
	if c.observe != nil {
		defer func() { c.observe(requestType, time.Since(start), err) }()
	}

	select {
	case <-c.done:
		return fmt.Errorf("obsws: %s: %w: %w", requestType, broadcast.ErrConnection, c.err())
	default:
	}

	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	id := uuid.NewString()
	ch := make(chan responseMsg, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	msg := requestMsg{RequestType: requestType, RequestID: id, RequestData: data}
	if err := c.writeOp(ctx, opRequest, msg); err != nil {
		return fmt.Errorf("obsws: send %s: %w", requestType, err)
	}

	select {
	case resp := <-ch:
		if !resp.RequestStatus.Result {
			return &RequestError{Type: requestType, Code: resp.RequestStatus.Code, Comment: resp.RequestStatus.Comment}
		}
		if out != nil && len(resp.ResponseData) > 0 {
			if err := json.Unmarshal(resp.ResponseData, out); err != nil {
				return fmt.Errorf("obsws: decode %s response: %w", requestType, err)
			}
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("obsws: %s: %w", requestType, ctx.Err())
	case <-c.done:
		return fmt.Errorf("obsws: %s: %w: %w", requestType, broadcast.ErrConnection, c.err())
	}
}

// Close ends the session. It is idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.conn.Close(websocket.StatusNormalClosure, "client closed")
	})
	return nil
}
