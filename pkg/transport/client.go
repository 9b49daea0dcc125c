// Package transport owns the WebSocket lifecycle for a voice session:
// connect, send, receive, close, and automatic reconnection with capped
// exponential backoff.
//
// The client never surfaces transport failures as errors crossing the engine
// boundary; they appear only as [Status] transitions. In-flight audio sent
// during a reconnect gap is dropped, not buffered; real-time semantics win
// over completeness.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Status describes the connection state surfaced to the caller.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnected
	StatusReconnecting
)

// String returns the human-readable name of the status.
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "DISCONNECTED"
	case StatusConnected:
		return "CONNECTED"
	case StatusReconnecting:
		return "RECONNECTING"
	default:
		return "UNKNOWN"
	}
}

// Frame is one inbound wire frame. Binary frames carry raw PCM audio; text
// frames carry JSON for the protocol decoder.
type Frame struct {
	Binary bool
	Data   []byte
}

// Conn is the minimal WebSocket surface the client needs. *websocket.Conn
// from coder/websocket satisfies it directly; tests supply fakes.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, data []byte) error
	Ping(ctx context.Context) error
	Close(code websocket.StatusCode, reason string) error
}

// Dialer opens a connection to a session endpoint URL.
type Dialer func(ctx context.Context, endpoint string) (Conn, error)

// ErrNotConnected is returned by Send when no socket is open. Callers must
// not retry: the dropped payload is lost by design.
var ErrNotConnected = errors.New("transport: not connected")

const (
	defaultBackoffBase = 250 * time.Millisecond
	defaultBackoffCap  = 5 * time.Second
	defaultPingPeriod  = 20 * time.Second
	dialTimeout        = 10 * time.Second
)

// ReconnectDelay computes the backoff delay for the given attempt (starting
// at 1): min(cap, base * 2^(attempt-1)).
func ReconnectDelay(attempt int, base, cap time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	if d > cap {
		return cap
	}
	return d
}

// Option configures a [Client] during construction.
type Option func(*Client)

// WithBackoff sets the reconnect backoff base delay and cap.
func WithBackoff(base, cap time.Duration) Option {
	return func(c *Client) {
		c.backoffBase = base
		c.backoffCap = cap
	}
}

// WithPingPeriod sets the keepalive ping interval. Zero disables pings.
func WithPingPeriod(d time.Duration) Option {
	return func(c *Client) { c.pingPeriod = d }
}

// WithDialer overrides the WebSocket dialer. Primarily used in tests to
// supply a fake connection without a live server.
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dial = d }
}

// Client manages the socket for one logical session. A session reset must
// create a new Client; the session id is fixed at Start.
//
// All exported methods are safe for concurrent use.
type Client struct {
	baseURL     string
	backoffBase time.Duration
	backoffCap  time.Duration
	pingPeriod  time.Duration
	dial        Dialer

	onMessage func(Frame)
	onStatus  func(Status)

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	conn      Conn
	endpoint  string
	started   bool
	reconnect bool
	attempt   int
	timer     *time.Timer
}

// New creates a Client for the given backend base URL (e.g.
// "wss://voice.example.com/ws").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		backoffBase: defaultBackoffBase,
		backoffCap:  defaultBackoffCap,
		pingPeriod:  defaultPingPeriod,
		dial:        dialWebSocket,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// dialWebSocket is the production [Dialer] backed by coder/websocket.
func dialWebSocket(ctx context.Context, endpoint string) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}
	// Inbound audio bursts can exceed the library's 32 KiB default.
	conn.SetReadLimit(1 << 22)
	return conn, nil
}

// OnMessage registers the inbound frame callback. It must be set before
// Start and is invoked from the receive goroutine; the handler must not
// block.
func (c *Client) OnMessage(fn func(Frame)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = fn
}

// OnStatus registers the status transition callback. Invoked from internal
// goroutines; the handler must not block or call back into the Client.
func (c *Client) OnStatus(fn func(Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStatus = fn
}

// Start opens the socket for sessionID. The first dial happens synchronously;
// if it fails the failure is treated like an unexpected close and a reconnect
// is scheduled. Transient transport failures surface as status transitions,
// not as returned errors.
//
// Returns an error only on misuse (already started).
func (c *Client) Start(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("transport: already started")
	}
	c.started = true
	c.reconnect = true
	c.attempt = 0
	c.endpoint = c.baseURL + "/session/" + url.PathEscape(sessionID)
	c.ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	c.mu.Unlock()

	c.connect()
	return nil
}

// connect dials the endpoint and installs the resulting connection. On
// failure it schedules the next reconnect attempt.
func (c *Client) connect() {
	c.mu.Lock()
	if !c.reconnect {
		c.mu.Unlock()
		return
	}
	ctx := c.ctx
	endpoint := c.endpoint
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, err := c.dial(dialCtx, endpoint)
	cancel()

	c.mu.Lock()
	if !c.reconnect || ctx.Err() != nil {
		c.mu.Unlock()
		if err == nil {
			conn.Close(websocket.StatusNormalClosure, "session stopped")
		}
		return
	}

	if err != nil {
		delay := c.nextDelayLocked()
		attempt := c.attempt
		c.mu.Unlock()
		slog.Warn("transport: dial failed", "endpoint", endpoint, "attempt", attempt, "err", err)
		c.emit(StatusReconnecting)
		c.armReconnect(delay)
		return
	}

	// Successful open resets the backoff counter.
	c.conn = conn
	c.attempt = 0
	c.mu.Unlock()

	c.emit(StatusConnected)
	go c.readLoop(conn)
	if c.pingPeriod > 0 {
		go c.pingLoop(conn)
	}
}

// nextDelayLocked advances the attempt counter and returns the backoff delay
// for it. Caller must hold c.mu.
func (c *Client) nextDelayLocked() time.Duration {
	c.attempt++
	return ReconnectDelay(c.attempt, c.backoffBase, c.backoffCap)
}

// armReconnect arms the single pending reconnect timer, replacing any
// previous one. Callers emit StatusReconnecting before arming, so the next
// connect's StatusConnected can never overtake this cycle's transition.
// A no-op when reconnection was disabled in the meantime.
func (c *Client) armReconnect(delay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.reconnect {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(delay, c.connect)
	slog.Debug("transport: reconnect scheduled", "attempt", c.attempt, "delay", delay)
}

// readLoop reads frames from conn and dispatches them until the connection
// fails or the session is stopped.
func (c *Client) readLoop(conn Conn) {
	c.mu.Lock()
	ctx := c.ctx
	onMessage := c.onMessage
	c.mu.Unlock()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			c.handleClose(conn, err)
			return
		}
		if onMessage != nil {
			onMessage(Frame{Binary: typ == websocket.MessageBinary, Data: data})
		}
	}
}

// pingLoop sends keepalive pings until the connection dies or is replaced.
func (c *Client) pingLoop(conn Conn) {
	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()

	ticker := time.NewTicker(c.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.Ping(ctx); err != nil {
				return
			}
		}
	}
}

// handleClose reacts to a connection failure. Closes from a connection that
// has already been replaced are ignored, so a late read error from an old
// socket can never race a fresh one; there is only ever one live socket per
// session.
func (c *Client) handleClose(conn Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	if c.ctx.Err() == nil {
		slog.Debug("transport: connection closed", "err", err)
	}
	if c.reconnect {
		delay := c.nextDelayLocked()
		c.mu.Unlock()
		c.emit(StatusReconnecting)
		c.armReconnect(delay)
		return
	}
	c.mu.Unlock()
	c.emit(StatusDisconnected)
}

// Send transmits one binary frame. When no socket is open the payload is
// dropped and [ErrNotConnected] returned; the client never buffers across a
// reconnect gap.
func (c *Client) Send(ctx context.Context, data []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.Write(ctx, websocket.MessageBinary, data); err != nil {
		return fmt.Errorf("transport: send: %w", err)
	}
	return nil
}

// Connected reports whether a socket is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// DisableReconnect clears the should-reconnect flag and cancels any pending
// reconnect timer. Used when the server signals a terminal handoff: the
// socket may still close afterwards, but no reconnection will follow.
func (c *Client) DisableReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnect = false
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// Close performs a client-initiated stop: reconnection is disabled first,
// then the socket is closed with the given code and reason. Safe to call
// multiple times.
func (c *Client) Close(code websocket.StatusCode, reason string) {
	c.mu.Lock()
	c.reconnect = false
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn := c.conn
	c.conn = nil
	cancel := c.cancel
	c.mu.Unlock()

	if conn != nil {
		conn.Close(code, reason)
	}
	if cancel != nil {
		cancel()
	}
	c.emit(StatusDisconnected)
}

// emit invokes the status callback if one is registered.
func (c *Client) emit(s Status) {
	c.mu.Lock()
	fn := c.onStatus
	c.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}
