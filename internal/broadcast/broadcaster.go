// Package broadcast turns registry mutations into roster fan-out.
//
// The broadcaster is a single periodic task. Coalescing on a fixed tick
// bounds egress to O(players) per tick regardless of inbound pose rate;
// an event-driven push would emit O(players^2) messages per second.
package broadcast

import (
	"context"
	"log/slog"
	"time"

	"github.com/picoradar/picoradar/internal/protocol"
	"github.com/picoradar/picoradar/internal/registry"
)

// DefaultInterval is the broadcast period (20 Hz).
const DefaultInterval = 50 * time.Millisecond

// Recipient is an authenticated session's enqueue surface. EnqueueRoster
// must not block; sessions that are not Authenticated ignore the call.
type Recipient interface {
	EnqueueRoster(data []byte)
}

// RecipientSource lists the sessions eligible for the current tick.
// The server's session hub implements it.
type RecipientSource interface {
	AuthenticatedRecipients() []Recipient
}

// MetricsReporter receives broadcaster events.
type MetricsReporter interface {
	// BroadcastSent is called once per non-idle tick with the roster
	// size and recipient count.
	BroadcastSent(players, recipients int)
}

type noopMetrics struct{}

func (noopMetrics) BroadcastSent(int, int) {}

// Broadcaster periodically snapshots the registry and pushes the encoded
// roster to every authenticated session.
type Broadcaster struct {
	reg      *registry.Registry
	source   RecipientSource
	interval time.Duration
	logger   *slog.Logger
	metrics  MetricsReporter

	// lastVersion is the registry version at the previous broadcast.
	// Ticks with an unchanged version are no-ops; session arrivals bump
	// the version through Attach, so a fresh roster always goes out.
	lastVersion uint64
}

// Option configures optional Broadcaster parameters.
type Option func(*Broadcaster)

// WithMetrics sets the MetricsReporter. nil keeps the no-op default.
func WithMetrics(mr MetricsReporter) Option {
	return func(b *Broadcaster) {
		if mr != nil {
			b.metrics = mr
		}
	}
}

// New creates a Broadcaster with the given tick interval. interval <= 0
// selects DefaultInterval.
func New(reg *registry.Registry, source RecipientSource, interval time.Duration, logger *slog.Logger, opts ...Option) *Broadcaster {
	if interval <= 0 {
		interval = DefaultInterval
	}
	b := &Broadcaster{
		reg:      reg,
		source:   source,
		interval: interval,
		metrics:  noopMetrics{},
		logger:   logger.With(slog.String("component", "broadcaster")),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run ticks until ctx is cancelled. Always returns nil; the broadcaster
// has no failure mode of its own.
func (b *Broadcaster) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	b.logger.Info("broadcaster started", slog.Duration("interval", b.interval))
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("broadcaster stopped")
			return nil
		case <-ticker.C:
			b.Tick()
		}
	}
}

// Tick performs one broadcast cycle. Exported so tests can drive the
// broadcaster without waiting on the wall clock.
func (b *Broadcaster) Tick() {
	version := b.reg.Version()
	if version == b.lastVersion {
		return
	}
	b.lastVersion = version

	snapshot := b.reg.Snapshot()
	data, err := protocol.Marshal(protocol.RosterUpdate{Players: snapshot})
	if err != nil {
		// Only reachable when the roster outgrows the wire ceiling,
		// which the session count in a LAN deployment cannot reach.
		b.logger.Error("encode roster", slog.String("error", err.Error()))
		return
	}

	// One encode per tick; every recipient shares the same bytes.
	recipients := b.source.AuthenticatedRecipients()
	for _, r := range recipients {
		r.EnqueueRoster(data)
	}
	b.metrics.BroadcastSent(len(snapshot), len(recipients))
}
