package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net"
	"os"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/picoradar/picoradar/internal/protocol"
	"github.com/picoradar/picoradar/internal/registry"
)

// Default session parameters, overridable via Config.
const (
	// DefaultAuthTimeout is how long a connection may stay unauthenticated.
	DefaultAuthTimeout = 5 * time.Second

	// DefaultDrainTimeout bounds the outbound queue flush before close.
	DefaultDrainTimeout = 1 * time.Second

	// DefaultQueueCapacity is the outbound queue size in messages.
	DefaultQueueCapacity = 16

	// writeTimeout bounds a single message write on an open session. A
	// peer that stops reading trips this before it can stall the writer
	// for long; slow-consumer eviction handles the common case first.
	writeTimeout = 10 * time.Second
)

// playerIDPattern is the accepted player id character set: ASCII letters,
// digits, underscore, hyphen, and dot, 1-64 bytes.
var playerIDPattern = regexp.MustCompile(`^[A-Za-z0-9_\-.]{1,64}$`)

// ValidPlayerID reports whether id is acceptable at authentication.
func ValidPlayerID(id string) bool {
	return playerIDPattern.MatchString(id)
}

// Config carries the per-session policy knobs.
type Config struct {
	// Token is the shared authentication secret.
	Token string

	// AuthTimeout is the deadline for the first AuthRequest.
	AuthTimeout time.Duration

	// DrainTimeout bounds the queue flush when the session closes.
	DrainTimeout time.Duration

	// QueueCapacity is the outbound queue size in messages.
	QueueCapacity int
}

func (c *Config) applyDefaults() {
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = DefaultAuthTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = DefaultQueueCapacity
	}
}

// Session is the server-side per-peer object: the connection, its state
// machine, and its outbound queue. Create with New, drive with Run.
type Session struct {
	id   string
	conn Conn
	cfg  Config
	reg  *registry.Registry

	state  atomic.Uint32
	reason atomic.Uint32

	// pid is set once, just before the transition to Authenticated, and
	// read from other goroutines during takeover and shutdown.
	pid atomic.Pointer[string]

	queue      *outQueue
	drainOnce  sync.Once
	drainCh    chan struct{}
	writerDone chan struct{}
	done       chan struct{}

	peer    string
	logger  *slog.Logger
	metrics MetricsReporter
}

// Option configures optional Session parameters.
type Option func(*Session)

// WithMetrics sets the MetricsReporter. nil keeps the no-op default.
func WithMetrics(mr MetricsReporter) Option {
	return func(s *Session) {
		if mr != nil {
			s.metrics = mr
		}
	}
}

// New creates a session over an already-upgraded connection. The session
// does not read or write until Run is called.
func New(conn Conn, cfg Config, reg *registry.Registry, logger *slog.Logger, opts ...Option) *Session {
	cfg.applyDefaults()

	id := uuid.NewString()
	s := &Session{
		id:         id,
		conn:       conn,
		cfg:        cfg,
		reg:        reg,
		queue:      newOutQueue(cfg.QueueCapacity),
		drainCh:    make(chan struct{}),
		writerDone: make(chan struct{}),
		done:       make(chan struct{}),
		peer:       conn.RemoteAddr(),
		metrics:    noopMetrics{},
		logger: logger.With(
			slog.String("component", "session"),
			slog.String("session_id", id),
			slog.String("peer", conn.RemoteAddr()),
		),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.state.Store(uint32(StateHandshaking))
	return s
}

// -------------------------------------------------------------------------
// Accessors
// -------------------------------------------------------------------------

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state (atomic read).
func (s *Session) State() State { return State(s.state.Load()) }

// Reason returns the close reason, ReasonNone while running.
func (s *Session) Reason() CloseReason { return CloseReason(s.reason.Load()) }

// PlayerID returns the authenticated player id, empty before auth.
func (s *Session) PlayerID() string {
	if p := s.pid.Load(); p != nil {
		return *p
	}
	return ""
}

// RemoteAddr returns the peer endpoint captured at accept time.
func (s *Session) RemoteAddr() string { return s.peer }

// Done returns a channel closed when the session reaches Closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// -------------------------------------------------------------------------
// Lifecycle
// -------------------------------------------------------------------------

// Run drives the session to completion: authenticate, stream, drain,
// close. It blocks until the session is Closed. Cancelling ctx initiates
// a graceful drain.
func (s *Session) Run(ctx context.Context) {
	s.metrics.SessionOpened()
	s.state.Store(uint32(StateAuthenticating))
	s.conn.SetReadLimit(protocol.MaxMessageSize)

	go s.writeLoop()

	stop := context.AfterFunc(ctx, func() { s.Drain(ReasonShutdown) })
	defer stop()

	s.readLoop()

	<-s.writerDone
	s.state.Store(uint32(StateClosed))
	s.metrics.SessionClosed(s.Reason())
	s.logger.Debug("session closed", slog.String("reason", s.Reason().String()))
	close(s.done)
}

// Supersede implements registry.Owner: another session authenticated with
// the same player id. Non-blocking.
func (s *Session) Supersede() {
	s.Drain(ReasonSuperseded)
}

// Drain moves the session to Draining exactly once: the registry record
// is detached, the writer flushes the queue within the drain timeout, and
// the connection is closed. Safe to call from any goroutine.
func (s *Session) Drain(reason CloseReason) {
	s.drainOnce.Do(func() {
		s.reason.Store(uint32(reason))
		if pid := s.PlayerID(); pid != "" {
			s.reg.Detach(pid, s)
		}
		s.state.Store(uint32(StateDraining))
		close(s.drainCh)
		s.logDrain(reason)
	})
}

// logDrain logs the transition out of service at the level §7 of the
// protocol's error taxonomy calls for. The auth token never appears here.
func (s *Session) logDrain(reason CloseReason) {
	attrs := []any{slog.String("reason", reason.String())}
	if pid := s.PlayerID(); pid != "" {
		attrs = append(attrs, slog.String("player_id", pid))
	}
	switch reason {
	case ReasonProtocolViolation:
		s.logger.Warn("session draining", attrs...)
	case ReasonSlowConsumer:
		// The eviction WARN fired when the episode started; the drain
		// itself is the terminal event.
		s.logger.Warn("session draining", attrs...)
	default:
		s.logger.Info("session draining", attrs...)
	}
}

// -------------------------------------------------------------------------
// Read side
// -------------------------------------------------------------------------

func (s *Session) readLoop() {
	if !s.authenticate() {
		return
	}

	for {
		data, err := s.conn.ReadMessage()
		if err != nil {
			s.drainOnReadError(err)
			return
		}

		msg, err := protocol.Unmarshal(data)
		if err != nil {
			s.logger.Warn("undecodable message", slog.String("error", err.Error()))
			s.Drain(ReasonProtocolViolation)
			return
		}

		switch m := msg.(type) {
		case protocol.PoseUpdate:
			if s.State() != StateAuthenticated {
				// Draining (e.g. superseded); a late pose must not
				// resurrect the registry record.
				return
			}
			s.reg.UpsertOwned(s.PlayerID(), m.Pose, s)
			s.metrics.PoseReceived()

		case protocol.AuthRequest:
			s.logger.Warn("duplicate auth request")
			s.Drain(ReasonProtocolViolation)
			return

		default:
			s.logger.Warn("unexpected message", slog.String("type", msg.Type().String()))
			s.Drain(ReasonProtocolViolation)
			return
		}
	}
}

// authenticate runs the Authenticating phase. Returns true when the
// session reached Authenticated; false means a drain was initiated.
func (s *Session) authenticate() bool {
	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.AuthTimeout))

	data, err := s.conn.ReadMessage()
	if err != nil {
		if isTimeout(err) {
			s.rejectAuth("authentication timed out", ReasonAuthTimeout)
			return false
		}
		s.drainOnReadError(err)
		return false
	}

	msg, err := protocol.Unmarshal(data)
	if err != nil {
		s.logger.Warn("undecodable first message", slog.String("error", err.Error()))
		s.Drain(ReasonProtocolViolation)
		return false
	}

	req, ok := msg.(protocol.AuthRequest)
	if !ok {
		s.logger.Warn("first message is not an auth request",
			slog.String("type", msg.Type().String()))
		s.Drain(ReasonProtocolViolation)
		return false
	}

	if !ValidPlayerID(req.PlayerID) {
		s.rejectAuth("malformed player_id", ReasonAuthFailed)
		return false
	}
	if subtle.ConstantTimeCompare([]byte(req.Token), []byte(s.cfg.Token)) != 1 {
		s.rejectAuth("invalid token", ReasonAuthFailed)
		return false
	}

	pid := req.PlayerID
	s.pid.Store(&pid)

	// The AuthResponse is queued ahead of any roster so it is first on
	// the wire.
	s.enqueueControl(protocol.AuthResponse{OK: true})

	// Registered with a zero pose; the first PoseUpdate overwrites it.
	if prev := s.reg.Attach(pid, protocol.Pose{}, s); prev != nil {
		prev.Supersede()
		s.metrics.Takeover()
	}

	_ = s.conn.SetReadDeadline(time.Time{})
	s.metrics.AuthSucceeded()
	s.logger.Info("player authenticated", slog.String("player_id", pid))

	// A drain landing between Attach and here (takeover, shutdown) must
	// win; its Draining state is never overwritten.
	return s.state.CompareAndSwap(uint32(StateAuthenticating), uint32(StateAuthenticated))
}

// rejectAuth sends a negative AuthResponse while the connection is still
// writeable, then drains. The token itself is never logged.
func (s *Session) rejectAuth(reason string, close CloseReason) {
	s.metrics.AuthFailed()
	s.logger.Info("authentication rejected", slog.String("detail", reason))
	s.enqueueControl(protocol.AuthResponse{OK: false, Reason: reason})
	s.Drain(close)
}

// drainOnReadError classifies a transport read failure.
func (s *Session) drainOnReadError(err error) {
	switch {
	case errors.Is(err, ErrFrameTooLarge), errors.Is(err, ErrNonBinaryFrame):
		s.logger.Warn("policy violation on read", slog.String("error", err.Error()))
		s.Drain(ReasonProtocolViolation)
	case isPeerClosed(err):
		s.Drain(ReasonPeerClosed)
	default:
		// Transient transport errors stay at or below INFO.
		s.Drain(ReasonTransportError)
	}
}

// isTimeout reports whether err is a read deadline expiry.
func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}

// -------------------------------------------------------------------------
// Write side
// -------------------------------------------------------------------------

// EnqueueRoster offers pre-encoded roster bytes to the session without
// blocking. The broadcaster is the only caller. Overflow follows the
// slow-consumer policy: evict the oldest roster, or drain the session if
// nothing is evictable.
func (s *Session) EnqueueRoster(data []byte) {
	if s.State() != StateAuthenticated {
		return
	}
	s.push(kindRoster, data)
}

// enqueueControl encodes and queues a non-evictable message.
func (s *Session) enqueueControl(msg protocol.Message) {
	data, err := protocol.Marshal(msg)
	if err != nil {
		// Control messages are small and fixed-shape; failing to encode
		// one is a bug, not a peer problem.
		s.logger.Error("encode control message", slog.String("error", err.Error()))
		s.Drain(ReasonTransportError)
		return
	}
	s.push(kindControl, data)
}

func (s *Session) push(kind queueKind, data []byte) {
	res, firstEviction := s.queue.push(kind, data)
	switch res {
	case pushEvictedRoster:
		s.metrics.RosterDropped()
		if firstEviction {
			s.logger.Warn("slow consumer, evicting oldest roster")
		}
	case pushOverflow:
		s.metrics.RosterDropped()
		s.Drain(ReasonSlowConsumer)
	}
}

// writeLoop is the single writer for the connection. It runs until the
// session drains, flushing the queue within the drain timeout, and then
// closes the connection, which also unblocks the reader.
func (s *Session) writeLoop() {
	defer close(s.writerDone)

	for {
		select {
		case <-s.queue.notify:
			if !s.writePending() {
				s.conn.Close()
				return
			}
		case <-s.drainCh:
			s.flushAndClose()
			return
		}
	}
}

// writePending writes everything currently queued. Returns false on a
// write failure, after initiating a drain.
func (s *Session) writePending() bool {
	for {
		it, ok := s.queue.pop()
		if !ok {
			return true
		}
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := s.conn.WriteMessage(it.data); err != nil {
			s.Drain(ReasonTransportError)
			return false
		}
		s.metrics.MessageSent()
	}
}

// flushAndClose empties the queue within the drain timeout and closes the
// connection. Messages that miss the deadline are abandoned.
func (s *Session) flushAndClose() {
	deadline := time.Now().Add(s.cfg.DrainTimeout)
	for time.Now().Before(deadline) {
		it, ok := s.queue.pop()
		if !ok {
			break
		}
		_ = s.conn.SetWriteDeadline(deadline)
		if err := s.conn.WriteMessage(it.data); err != nil {
			break
		}
		s.metrics.MessageSent()
	}
	s.queue.close()
	s.conn.Close()
}
