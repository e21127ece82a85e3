package session

// MetricsReporter receives session-level events. The Prometheus collector
// in internal/metrics implements it; a no-op reporter is the default.
type MetricsReporter interface {
	// SessionOpened is called when a session starts running.
	SessionOpened()

	// SessionClosed is called once, when a session reaches Closed.
	SessionClosed(reason CloseReason)

	// AuthSucceeded is called on the transition to Authenticated.
	AuthSucceeded()

	// AuthFailed is called on token, player-id, or deadline failures.
	AuthFailed()

	// Takeover is called when an incumbent session is superseded.
	Takeover()

	// PoseReceived is called per accepted inbound PoseUpdate.
	PoseReceived()

	// MessageSent is called per message written to the wire.
	MessageSent()

	// RosterDropped is called per roster message evicted from a full
	// outbound queue.
	RosterDropped()
}

// noopMetrics is the default MetricsReporter.
type noopMetrics struct{}

func (noopMetrics) SessionOpened()             {}
func (noopMetrics) SessionClosed(CloseReason)  {}
func (noopMetrics) AuthSucceeded()             {}
func (noopMetrics) AuthFailed()                {}
func (noopMetrics) Takeover()                  {}
func (noopMetrics) PoseReceived()              {}
func (noopMetrics) MessageSent()               {}
func (noopMetrics) RosterDropped()             {}
