package radarmetrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/picoradar/picoradar/internal/broadcast"
	"github.com/picoradar/picoradar/internal/session"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "picoradar"

	subsystemSession   = "session"
	subsystemBroadcast = "broadcast"
	subsystemRegistry  = "registry"
)

// Label names.
const (
	labelReason = "reason"
)

// -------------------------------------------------------------------------
// Collector — Prometheus Service Metrics
// -------------------------------------------------------------------------

// Collector holds all PICORadar Prometheus metrics.
//
// Designed for LAN deployment monitoring:
//   - Session gauges track currently open connections.
//   - Close counters are labeled by reason so slow consumers and protocol
//     violations stand out from clean disconnects.
//   - Pose and message counters track ingest and fan-out volume.
//   - Roster drop counters flag clients that cannot keep up.
type Collector struct {
	// SessionsOpen tracks the number of currently open sessions, including
	// those still authenticating.
	SessionsOpen prometheus.Gauge

	// SessionsClosed counts closed sessions labeled by close reason.
	SessionsClosed *prometheus.CounterVec

	// AuthSuccesses counts successful authentications.
	AuthSuccesses prometheus.Counter

	// AuthFailures counts rejected authentication attempts.
	AuthFailures prometheus.Counter

	// Takeovers counts sessions superseded by a reconnect with the same
	// player ID.
	Takeovers prometheus.Counter

	// PosesReceived counts pose updates accepted into the registry.
	PosesReceived prometheus.Counter

	// MessagesSent counts frames written to clients.
	MessagesSent prometheus.Counter

	// RostersDropped counts roster frames evicted from slow session queues.
	RostersDropped prometheus.Counter

	// BroadcastsSent counts non-idle broadcast ticks.
	BroadcastsSent prometheus.Counter

	// BroadcastRecipients counts roster frames enqueued across all
	// recipients, summed over ticks.
	BroadcastRecipients prometheus.Counter

	// RosterSize tracks the player count of the most recent roster frame.
	RosterSize prometheus.Gauge
}

// Compile-time interface checks.
var (
	_ session.MetricsReporter   = (*Collector)(nil)
	_ broadcast.MetricsReporter = (*Collector)(nil)
)

// NewCollector creates a Collector with all metrics registered against the
// provided prometheus.Registerer. If reg is nil, prometheus.DefaultRegisterer
// is used.
//
// All metrics carry the "picoradar_" namespace prefix to avoid collisions
// with other exporters.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.SessionsOpen,
		c.SessionsClosed,
		c.AuthSuccesses,
		c.AuthFailures,
		c.Takeovers,
		c.PosesReceived,
		c.MessagesSent,
		c.RostersDropped,
		c.BroadcastsSent,
		c.BroadcastRecipients,
		c.RosterSize,
	)

	return c
}

// newMetrics creates all Prometheus metrics without registering them.
func newMetrics() *Collector {
	return &Collector{
		SessionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSession,
			Name:      "open",
			Help:      "Number of currently open sessions.",
		}),

		SessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemSession,
			Name:      "closed_total",
			Help:      "Total closed sessions by close reason.",
		}, []string{labelReason}),

		AuthSuccesses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemSession,
			Name:      "auth_success_total",
			Help:      "Total successful authentications.",
		}),

		AuthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemSession,
			Name:      "auth_failure_total",
			Help:      "Total rejected authentication attempts.",
		}),

		Takeovers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemSession,
			Name:      "takeovers_total",
			Help:      "Total sessions superseded by a reconnect with the same player ID.",
		}),

		PosesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemSession,
			Name:      "poses_received_total",
			Help:      "Total pose updates accepted into the registry.",
		}),

		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemSession,
			Name:      "messages_sent_total",
			Help:      "Total frames written to clients.",
		}),

		RostersDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemSession,
			Name:      "rosters_dropped_total",
			Help:      "Total roster frames evicted from slow session queues.",
		}),

		BroadcastsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemBroadcast,
			Name:      "ticks_total",
			Help:      "Total broadcast ticks that produced a roster frame.",
		}),

		BroadcastRecipients: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemBroadcast,
			Name:      "recipients_total",
			Help:      "Total roster frames enqueued across all recipients.",
		}),

		RosterSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemBroadcast,
			Name:      "roster_size",
			Help:      "Player count of the most recent roster frame.",
		}),
	}
}

// RegisterPlayerGauge registers a gauge that reports the current registry
// population via count. Called once at startup with registry.Count.
func (c *Collector) RegisterPlayerGauge(reg prometheus.Registerer, count func() int) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystemRegistry,
		Name:      "players",
		Help:      "Number of players currently in the registry.",
	}, func() float64 {
		return float64(count())
	}))
}

// -------------------------------------------------------------------------
// Session Lifecycle
// -------------------------------------------------------------------------

// SessionOpened increments the open sessions gauge. Called when a session
// starts running, before authentication.
func (c *Collector) SessionOpened() {
	c.SessionsOpen.Inc()
}

// SessionClosed decrements the open sessions gauge and records the close
// reason.
func (c *Collector) SessionClosed(reason session.CloseReason) {
	c.SessionsOpen.Dec()
	c.SessionsClosed.WithLabelValues(reason.String()).Inc()
}

// AuthSucceeded increments the successful authentication counter.
func (c *Collector) AuthSucceeded() {
	c.AuthSuccesses.Inc()
}

// AuthFailed increments the rejected authentication counter.
func (c *Collector) AuthFailed() {
	c.AuthFailures.Inc()
}

// Takeover increments the supersede counter. Called when a new session
// claims a player ID held by a live session.
func (c *Collector) Takeover() {
	c.Takeovers.Inc()
}

// -------------------------------------------------------------------------
// Traffic Counters
// -------------------------------------------------------------------------

// PoseReceived increments the accepted pose counter.
func (c *Collector) PoseReceived() {
	c.PosesReceived.Inc()
}

// MessageSent increments the transmitted frame counter.
func (c *Collector) MessageSent() {
	c.MessagesSent.Inc()
}

// RosterDropped increments the evicted roster counter. Called when a slow
// session queue sheds a stale roster to make room for a newer one.
func (c *Collector) RosterDropped() {
	c.RostersDropped.Inc()
}

// -------------------------------------------------------------------------
// Broadcast
// -------------------------------------------------------------------------

// BroadcastSent records a non-idle broadcast tick that enqueued a roster of
// players entries to recipients sessions.
func (c *Collector) BroadcastSent(players, recipients int) {
	c.BroadcastsSent.Inc()
	c.BroadcastRecipients.Add(float64(recipients))
	c.RosterSize.Set(float64(players))
}
