package server

import (
	"log/slog"
	"sync"

	"github.com/picoradar/picoradar/internal/broadcast"
	"github.com/picoradar/picoradar/internal/session"
)

// Hub tracks every live session so the broadcaster can reach them and
// shutdown can drain them.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
	logger   *slog.Logger
}

// Compile-time check: the hub feeds the broadcaster.
var _ broadcast.RecipientSource = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		sessions: make(map[string]*session.Session),
		logger:   logger.With("component", "hub"),
	}
}

// add registers a session for the duration of its Run.
func (h *Hub) add(s *session.Session) {
	h.mu.Lock()
	h.sessions[s.ID()] = s
	h.mu.Unlock()
}

// remove forgets a finished session.
func (h *Hub) remove(s *session.Session) {
	h.mu.Lock()
	delete(h.sessions, s.ID())
	h.mu.Unlock()
}

// Len returns the number of live sessions, authenticated or not.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// AuthenticatedRecipients returns the sessions eligible for roster fan-out.
func (h *Hub) AuthenticatedRecipients() []broadcast.Recipient {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]broadcast.Recipient, 0, len(h.sessions))
	for _, s := range h.sessions {
		if s.State() == session.StateAuthenticated {
			out = append(out, s)
		}
	}
	return out
}

// DrainAll asks every live session to drain with the given reason and
// returns channels that close as each session finishes. Used on shutdown.
func (h *Hub) DrainAll(reason session.CloseReason) []<-chan struct{} {
	h.mu.RLock()
	all := make([]*session.Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		all = append(all, s)
	}
	h.mu.RUnlock()

	done := make([]<-chan struct{}, 0, len(all))
	for _, s := range all {
		s.Drain(reason)
		done = append(done, s.Done())
	}
	return done
}
