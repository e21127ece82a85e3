// Package client implements the PICORadar client driver: connect and
// authenticate, stream poses up, receive roster snapshots down.
//
// The driver is callback-based so a render loop can consume rosters
// without polling. SendPose is fire-and-forget; the server coalesces
// stale poses, so there is nothing useful to do with a send error beyond
// reconnecting.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/picoradar/picoradar/internal/discovery"
	"github.com/picoradar/picoradar/internal/protocol"
)

// connectTimeout is the cumulative budget for dial plus the auth
// round-trip. A server that accepts the socket but never answers the
// handshake still fails within this window.
const connectTimeout = 5 * time.Second

// writeTimeout bounds each outbound frame write.
const writeTimeout = 5 * time.Second

// Sentinel errors returned by the driver.
var (
	// ErrConnectInProgress indicates a concurrent Connect on the same client.
	ErrConnectInProgress = errors.New("connect already in progress")

	// ErrAlreadyConnected indicates Connect on a live connection.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrNotConnected indicates an operation that requires a live connection.
	ErrNotConnected = errors.New("not connected")
)

// AuthError reports a handshake rejected by the server.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication rejected: %s", e.Reason)
}

// connection states.
const (
	stateIdle uint32 = iota
	stateConnecting
	stateConnected
)

// Client is a single-connection PICORadar client. Zero value is not
// usable; construct with New. Callbacks must be registered before
// Connect.
type Client struct {
	logger *slog.Logger

	// state gates Connect exclusivity.
	state atomic.Uint32

	mu       sync.Mutex
	conn     *websocket.Conn
	readDone chan struct{}

	// writeMu serialises frame writes; gorilla allows one writer at a time.
	writeMu sync.Mutex

	cbMu           sync.RWMutex
	onRoster       func([]protocol.PlayerEntry)
	onDisconnected func(error)
}

// New creates a disconnected client.
func New(logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		logger: logger.With("component", "client"),
	}
}

// SetOnRoster registers the roster callback. Called from the read
// goroutine; keep it fast or hand off.
func (c *Client) SetOnRoster(fn func([]protocol.PlayerEntry)) {
	c.cbMu.Lock()
	c.onRoster = fn
	c.cbMu.Unlock()
}

// SetOnDisconnected registers the disconnect callback. The error is nil
// after a local Disconnect, non-nil when the server or network dropped us.
func (c *Client) SetOnDisconnected(fn func(error)) {
	c.cbMu.Lock()
	c.onDisconnected = fn
	c.cbMu.Unlock()
}

// Connected reports whether the client holds an authenticated connection.
func (c *Client) Connected() bool {
	return c.state.Load() == stateConnected
}

// Connect dials addr (host:port), authenticates as playerID, and starts
// the roster reader. The whole sequence shares one 5 second budget; ctx
// can shorten it further. Concurrent Connects fail with
// ErrConnectInProgress rather than queueing.
func (c *Client) Connect(ctx context.Context, addr, playerID, token string) error {
	switch {
	case c.state.CompareAndSwap(stateIdle, stateConnecting):
	case c.state.Load() == stateConnected:
		return ErrAlreadyConnected
	default:
		return ErrConnectInProgress
	}

	conn, err := c.handshake(ctx, addr, playerID, token)
	if err != nil {
		c.state.Store(stateIdle)
		return err
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.readDone = done
	c.mu.Unlock()

	c.state.Store(stateConnected)
	c.logger.Info("connected", "addr", addr, "player_id", playerID)

	go c.readLoop(conn, done)
	return nil
}

// DiscoverAndConnect finds a server via UDP discovery on udpPort and then
// connects to it. The discovery wait is bounded only by ctx.
func (c *Client) DiscoverAndConnect(ctx context.Context, udpPort int, playerID, token string) (string, error) {
	addr, err := discovery.Discover(ctx, udpPort)
	if err != nil {
		return "", fmt.Errorf("discover server: %w", err)
	}
	if err := c.Connect(ctx, addr, playerID, token); err != nil {
		return "", err
	}
	return addr, nil
}

// handshake dials and runs the auth exchange under the connect budget.
func (c *Client) handshake(ctx context.Context, addr, playerID, token string) (*websocket.Conn, error) {
	deadline := time.Now().Add(connectTimeout)

	dialCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws"}
	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.String(), err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	data, err := protocol.Marshal(protocol.AuthRequest{PlayerID: playerID, Token: token})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("marshal auth request: %w", err)
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send auth request: %w", err)
	}

	// The auth reply shares the remaining budget.
	if err := conn.SetReadDeadline(deadline); err != nil {
		conn.Close()
		return nil, err
	}
	_, frame, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read auth response: %w", err)
	}

	msg, err := protocol.Unmarshal(frame)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("decode auth response: %w", err)
	}
	authResp, ok := msg.(protocol.AuthResponse)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("unexpected first message %s", msg.Type())
	}
	if !authResp.OK {
		conn.Close()
		return nil, &AuthError{Reason: authResp.Reason}
	}

	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetReadLimit(protocol.MaxMessageSize)

	return conn, nil
}

// SendPose streams one pose to the server. Fire-and-forget: the server
// never acknowledges poses. Returns ErrNotConnected when called on a
// disconnected client.
func (c *Client) SendPose(pose protocol.Pose) error {
	if c.state.Load() != stateConnected {
		return ErrNotConnected
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := protocol.Marshal(protocol.PoseUpdate{Pose: pose})
	if err != nil {
		return fmt.Errorf("marshal pose: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("send pose: %w", err)
	}
	return nil
}

// Disconnect closes the connection and joins the read goroutine. Safe to
// call in any state and more than once; the disconnect callback fires
// with a nil error for a local close.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	done := c.readDone
	c.conn = nil
	c.readDone = nil
	c.mu.Unlock()

	if conn == nil {
		return
	}

	// Best-effort close frame so the server logs a clean disconnect.
	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()

	conn.Close()
	if done != nil {
		<-done
	}
}

// readLoop pumps roster frames until the connection dies.
func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	var readErr error
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if !isLocalClose(err) && !websocket.IsCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				readErr = err
			}
			break
		}

		msg, err := protocol.Unmarshal(frame)
		if err != nil {
			c.logger.Warn("undecodable frame from server", "error", err)
			continue
		}

		switch m := msg.(type) {
		case protocol.RosterUpdate:
			c.cbMu.RLock()
			onRoster := c.onRoster
			c.cbMu.RUnlock()
			if onRoster != nil {
				onRoster(m.Players)
			}
		default:
			c.logger.Debug("ignoring unexpected message", "type", msg.Type().String())
		}
	}

	// A server-initiated close races a local Disconnect; only the first
	// transition out of connected fires the callback.
	wasConnected := c.state.CompareAndSwap(stateConnected, stateIdle)

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.readDone = nil
	}
	c.mu.Unlock()
	conn.Close()

	if !wasConnected {
		return
	}

	if readErr != nil {
		c.logger.Warn("connection lost", "error", readErr)
	} else {
		c.logger.Info("disconnected")
	}

	c.cbMu.RLock()
	onDisconnected := c.onDisconnected
	c.cbMu.RUnlock()
	if onDisconnected != nil {
		onDisconnected(readErr)
	}
}

// isLocalClose matches the error a read returns after our own Close.
func isLocalClose(err error) bool {
	return errors.Is(err, websocket.ErrCloseSent) ||
		strings.Contains(err.Error(), "use of closed network connection")
}
