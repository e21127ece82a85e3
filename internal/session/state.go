// Package session implements the server-side per-connection state machine.
//
// A session owns its transport connection, its bounded outbound queue, and
// the registry record for its player once authenticated. Errors are handled
// at the session boundary; a failure in one session never affects another.
package session

// State is the session lifecycle state. Stored atomically; the broadcaster
// reads it from outside the session's own goroutines.
type State uint32

const (
	// StateHandshaking covers the transport handshake. Sessions are
	// constructed after the WebSocket upgrade, so this state is left as
	// soon as Run starts and reads can begin.
	StateHandshaking State = iota

	// StateAuthenticating waits for the first (and only) AuthRequest.
	StateAuthenticating

	// StateAuthenticated streams pose updates in and rosters out.
	StateAuthenticated

	// StateDraining flushes the outbound queue before closing.
	StateDraining

	// StateClosed is terminal.
	StateClosed
)

// String returns the human-readable state name.
func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "Handshaking"
	case StateAuthenticating:
		return "Authenticating"
	case StateAuthenticated:
		return "Authenticated"
	case StateDraining:
		return "Draining"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// CloseReason records why a session left the Authenticated (or
// Authenticating) state. Set once, on the transition to Draining.
type CloseReason uint32

const (
	// ReasonNone means the session has not started draining.
	ReasonNone CloseReason = iota

	// ReasonPeerClosed means the peer closed the connection normally.
	ReasonPeerClosed

	// ReasonTransportError covers resets, timeouts, and write failures.
	ReasonTransportError

	// ReasonProtocolViolation covers decode errors, oversized frames,
	// wrong message for the current state, and duplicate AuthRequests.
	ReasonProtocolViolation

	// ReasonAuthFailed means the token or player id was rejected.
	ReasonAuthFailed

	// ReasonAuthTimeout means authentication missed its deadline.
	ReasonAuthTimeout

	// ReasonSuperseded means another session authenticated with the same
	// player id and took the record over.
	ReasonSuperseded

	// ReasonSlowConsumer means the outbound queue overflowed with no
	// roster message left to evict.
	ReasonSlowConsumer

	// ReasonShutdown means the server is shutting down.
	ReasonShutdown
)

// String returns the human-readable close reason.
func (r CloseReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonPeerClosed:
		return "peer-closed"
	case ReasonTransportError:
		return "transport-error"
	case ReasonProtocolViolation:
		return "protocol-violation"
	case ReasonAuthFailed:
		return "auth-failed"
	case ReasonAuthTimeout:
		return "auth-timeout"
	case ReasonSuperseded:
		return "superseded"
	case ReasonSlowConsumer:
		return "slow-consumer"
	case ReasonShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}
