// Package registry maintains the live mapping of player id to latest pose.
//
// The registry is the only mutable state shared across the server's
// goroutines. All operations are short critical sections under one RWMutex;
// the registry never blocks and never calls out while holding the lock.
package registry

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/picoradar/picoradar/internal/protocol"
)

// MaxPlayerIDLen is the maximum byte length of a player id.
const MaxPlayerIDLen = 64

// Owner is the advisory back-reference from a player record to the session
// that owns it. The registry uses it only to supersede an incumbent on a
// duplicate login; it never extends the session's lifetime.
type Owner interface {
	// Supersede asks the owning session to drain because another session
	// authenticated with the same player id. Must not block.
	Supersede()
}

// playerRecord is the registry's per-player state.
type playerRecord struct {
	pose  protocol.Pose
	owner Owner
}

// Registry is the concurrent player-id -> latest-pose map.
//
// Every mutation bumps a monotonic version counter; the broadcaster polls
// the counter to suppress idle ticks.
type Registry struct {
	mu      sync.RWMutex
	players map[string]*playerRecord
	version atomic.Uint64
	logger  *slog.Logger
}

// New creates an empty Registry.
func New(logger *slog.Logger) *Registry {
	return &Registry{
		players: make(map[string]*playerRecord),
		logger:  logger.With(slog.String("component", "registry")),
	}
}

// Version returns the monotonic mutation counter. Any Attach, Detach,
// Upsert, or effective Remove increments it.
func (r *Registry) Version() uint64 {
	return r.version.Load()
}

// Attach registers playerID under the given owner with an initial pose,
// replacing any existing record, and returns the superseded incumbent's
// owner (nil when the id was free or the record had the same owner).
//
// The caller is responsible for invoking Supersede on the returned owner
// outside the registry; the registry never calls into sessions itself.
func (r *Registry) Attach(playerID string, pose protocol.Pose, owner Owner) Owner {
	r.mu.Lock()
	var prev Owner
	if rec, ok := r.players[playerID]; ok && rec.owner != owner {
		prev = rec.owner
	}
	r.players[playerID] = &playerRecord{pose: pose, owner: owner}
	r.version.Add(1)
	r.mu.Unlock()

	if prev != nil {
		r.logger.Info("player takeover", slog.String("player_id", playerID))
	}
	return prev
}

// Detach removes playerID only while it is still bound to owner. A session
// that was superseded must not remove its successor's record; Detach makes
// that race safe. Idempotent.
func (r *Registry) Detach(playerID string, owner Owner) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.players[playerID]
	if !ok || rec.owner != owner {
		return
	}
	delete(r.players, playerID)
	r.version.Add(1)
}

// Upsert stores the latest pose for playerID. Last writer wins; partial
// updates are never merged. Upserting an unknown id creates an unowned
// record (used by tests and tooling; sessions always Attach first).
func (r *Registry) Upsert(playerID string, pose protocol.Pose) {
	if playerID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.players[playerID]; ok {
		rec.pose = pose
	} else {
		r.players[playerID] = &playerRecord{pose: pose}
	}
	r.version.Add(1)
}

// UpsertOwned stores the latest pose only while playerID is still bound
// to owner. A session that lost a takeover race writes nothing here, so a
// late pose update can never resurrect a removed player.
func (r *Registry) UpsertOwned(playerID string, pose protocol.Pose, owner Owner) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.players[playerID]
	if !ok || rec.owner != owner {
		return
	}
	rec.pose = pose
	r.version.Add(1)
}

// Remove deletes playerID regardless of owner. Idempotent; removing an
// absent id does not bump the version.
func (r *Registry) Remove(playerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.players[playerID]; !ok {
		return
	}
	delete(r.players, playerID)
	r.version.Add(1)
}

// Get returns the latest pose for playerID.
func (r *Registry) Get(playerID string) (protocol.Pose, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.players[playerID]
	if !ok {
		return protocol.Pose{}, false
	}
	return rec.pose, true
}

// Snapshot returns a copied-out roster. The result is stable after return
// even while the registry keeps mutating; pose fields never cross records.
func (r *Registry) Snapshot() []protocol.PlayerEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.players) == 0 {
		return nil
	}
	entries := make([]protocol.PlayerEntry, 0, len(r.players))
	for id, rec := range r.players {
		entries = append(entries, protocol.PlayerEntry{PlayerID: id, Pose: rec.pose})
	}
	return entries
}

// Count returns the number of currently registered players.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}
