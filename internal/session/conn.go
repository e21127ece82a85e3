package session

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"
)

// Transport errors surfaced by Conn implementations.
var (
	// ErrFrameTooLarge indicates the peer sent a frame over the read limit.
	ErrFrameTooLarge = errors.New("inbound frame exceeds size limit")

	// ErrNonBinaryFrame indicates the peer sent a text frame; the protocol
	// is binary only.
	ErrNonBinaryFrame = errors.New("non-binary frame")
)

// Conn is the message-oriented transport a session reads and writes.
// The production implementation wraps a WebSocket connection; tests use
// an in-memory pipe.
type Conn interface {
	// ReadMessage returns the next inbound binary message. Blocks until a
	// message arrives, the read deadline passes, or the connection fails.
	ReadMessage() ([]byte, error)

	// WriteMessage sends one binary message.
	WriteMessage(data []byte) error

	// SetReadLimit caps the size of inbound messages. Larger frames fail
	// the read with ErrFrameTooLarge.
	SetReadLimit(limit int64)

	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error

	// Close tears the connection down; pending reads and writes unblock
	// with an error.
	Close() error

	// RemoteAddr returns the peer endpoint for diagnostics.
	RemoteAddr() string
}

// wsConn adapts a gorilla WebSocket connection to Conn.
type wsConn struct {
	ws *websocket.Conn
}

// NewWSConn wraps ws as a session transport.
func NewWSConn(ws *websocket.Conn) Conn {
	return &wsConn{ws: ws}
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	mt, data, err := c.ws.ReadMessage()
	if err != nil {
		if errors.Is(err, websocket.ErrReadLimit) {
			return nil, ErrFrameTooLarge
		}
		return nil, err
	}
	if mt != websocket.BinaryMessage {
		return nil, ErrNonBinaryFrame
	}
	return data, nil
}

func (c *wsConn) WriteMessage(data []byte) error {
	return c.ws.WriteMessage(websocket.BinaryMessage, data)
}

func (c *wsConn) SetReadLimit(limit int64) { c.ws.SetReadLimit(limit) }

func (c *wsConn) SetReadDeadline(t time.Time) error { return c.ws.SetReadDeadline(t) }

func (c *wsConn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }

func (c *wsConn) Close() error { return c.ws.Close() }

func (c *wsConn) RemoteAddr() string { return c.ws.RemoteAddr().String() }

// isPeerClosed reports whether err is a normal peer-initiated close.
func isPeerClosed(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}
