package registry_test

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/picoradar/picoradar/internal/protocol"
	"github.com/picoradar/picoradar/internal/registry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// fakeOwner records whether Supersede was called.
type fakeOwner struct {
	mu         sync.Mutex
	superseded bool
}

func (f *fakeOwner) Supersede() {
	f.mu.Lock()
	f.superseded = true
	f.mu.Unlock()
}

func (f *fakeOwner) wasSuperseded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.superseded
}

func pose(x float32) protocol.Pose {
	return protocol.Pose{Position: protocol.Vec3{X: x}, SceneID: "s"}
}

// TestCountTracksDistinctIDs covers the P1 property: count equals the
// number of distinct ids upserted and not removed, for a random sequence
// of operations replayed against a model map.
func TestCountTracksDistinctIDs(t *testing.T) {
	t.Parallel()

	reg := registry.New(testLogger())
	model := make(map[string]struct{})
	rng := rand.New(rand.NewPCG(42, 0))

	ids := []string{"a", "b", "c", "d", "e"}
	for range 2000 {
		id := ids[rng.IntN(len(ids))]
		if rng.IntN(2) == 0 {
			reg.Upsert(id, pose(float32(rng.IntN(100))))
			model[id] = struct{}{}
		} else {
			reg.Remove(id)
			delete(model, id)
		}
		if reg.Count() != len(model) {
			t.Fatalf("Count() = %d, model has %d", reg.Count(), len(model))
		}
	}
}

func TestGetAfterRemove(t *testing.T) {
	t.Parallel()

	reg := registry.New(testLogger())
	reg.Upsert("alice", pose(1))
	reg.Remove("alice")

	if _, ok := reg.Get("alice"); ok {
		t.Error("Get after Remove returned a pose")
	}

	reg.Upsert("alice", pose(2))
	got, ok := reg.Get("alice")
	if !ok || got.Position.X != 2 {
		t.Errorf("Get after re-upsert = (%v, %v), want X=2", got, ok)
	}
}

func TestRemoveIdempotent(t *testing.T) {
	t.Parallel()

	reg := registry.New(testLogger())
	reg.Remove("ghost")
	reg.Remove("ghost")
	if reg.Count() != 0 {
		t.Errorf("Count() = %d, want 0", reg.Count())
	}
}

// TestSnapshotNoDuplicates covers P3: snapshot length equals count with
// no duplicate ids.
func TestSnapshotNoDuplicates(t *testing.T) {
	t.Parallel()

	reg := registry.New(testLogger())
	for i := range 20 {
		reg.Upsert(fmt.Sprintf("p%d", i), pose(float32(i)))
	}
	reg.Upsert("p3", pose(99)) // overwrite, not duplicate

	snap := reg.Snapshot()
	if len(snap) != reg.Count() {
		t.Fatalf("snapshot length %d != count %d", len(snap), reg.Count())
	}
	seen := make(map[string]struct{}, len(snap))
	for _, e := range snap {
		if _, dup := seen[e.PlayerID]; dup {
			t.Errorf("duplicate id %q in snapshot", e.PlayerID)
		}
		seen[e.PlayerID] = struct{}{}
	}
}

// TestSnapshotStable verifies the snapshot is a copy: mutating the
// registry after Snapshot must not change the returned slice.
func TestSnapshotStable(t *testing.T) {
	t.Parallel()

	reg := registry.New(testLogger())
	reg.Upsert("alice", pose(1))

	snap := reg.Snapshot()
	reg.Upsert("alice", pose(2))
	reg.Upsert("bob", pose(3))

	if len(snap) != 1 {
		t.Fatalf("snapshot length = %d, want 1", len(snap))
	}
	if snap[0].Pose.Position.X != 1 {
		t.Errorf("snapshot mutated: X = %v, want 1", snap[0].Pose.Position.X)
	}
}

func TestVersionBumpsOnMutation(t *testing.T) {
	t.Parallel()

	reg := registry.New(testLogger())
	v0 := reg.Version()

	reg.Upsert("alice", pose(1))
	v1 := reg.Version()
	if v1 == v0 {
		t.Error("Upsert did not bump version")
	}

	reg.Remove("alice")
	v2 := reg.Version()
	if v2 == v1 {
		t.Error("Remove did not bump version")
	}

	// Removing an absent id is a no-op and must not force broadcasts.
	reg.Remove("alice")
	if reg.Version() != v2 {
		t.Error("idempotent Remove bumped version")
	}

	reg.Get("alice")
	reg.Snapshot()
	reg.Count()
	if reg.Version() != v2 {
		t.Error("read operations bumped version")
	}
}

func TestAttachReturnsIncumbent(t *testing.T) {
	t.Parallel()

	reg := registry.New(testLogger())
	first := &fakeOwner{}
	second := &fakeOwner{}

	if prev := reg.Attach("bob", pose(1), first); prev != nil {
		t.Fatalf("first Attach returned incumbent %v", prev)
	}

	prev := reg.Attach("bob", pose(2), second)
	if prev == nil {
		t.Fatal("second Attach returned nil incumbent")
	}
	prev.Supersede()
	if !first.wasSuperseded() {
		t.Error("incumbent owner was not superseded")
	}

	// Last-wins: bob's pose is the second session's.
	got, ok := reg.Get("bob")
	if !ok || got.Position.X != 2 {
		t.Errorf("Get(bob) = (%v, %v), want X=2", got, ok)
	}
	if reg.Count() != 1 {
		t.Errorf("Count() = %d, want 1", reg.Count())
	}
}

// TestDetachOnlyByOwner verifies a superseded session cannot remove its
// successor's record on the way out.
func TestDetachOnlyByOwner(t *testing.T) {
	t.Parallel()

	reg := registry.New(testLogger())
	first := &fakeOwner{}
	second := &fakeOwner{}

	reg.Attach("bob", pose(1), first)
	reg.Attach("bob", pose(2), second)

	// The loser drains and detaches; the record must survive.
	reg.Detach("bob", first)
	if _, ok := reg.Get("bob"); !ok {
		t.Fatal("Detach by superseded owner removed the successor's record")
	}

	reg.Detach("bob", second)
	if _, ok := reg.Get("bob"); ok {
		t.Error("Detach by current owner left the record behind")
	}
}

// TestUpsertOwnedAfterTakeover verifies a late pose from a superseded
// session cannot overwrite the successor's record.
func TestUpsertOwnedAfterTakeover(t *testing.T) {
	t.Parallel()

	reg := registry.New(testLogger())
	loser := &fakeOwner{}
	winner := &fakeOwner{}

	reg.Attach("bob", pose(1), loser)
	reg.Attach("bob", pose(2), winner)

	reg.UpsertOwned("bob", pose(99), loser)
	got, _ := reg.Get("bob")
	if got.Position.X != 2 {
		t.Errorf("loser's UpsertOwned overwrote the record: X = %v", got.Position.X)
	}

	reg.UpsertOwned("bob", pose(3), winner)
	got, _ = reg.Get("bob")
	if got.Position.X != 3 {
		t.Errorf("winner's UpsertOwned did not apply: X = %v", got.Position.X)
	}
}

// TestConcurrentAccess hammers the registry from many goroutines; run
// under -race this covers the single-lock discipline.
func TestConcurrentAccess(t *testing.T) {
	t.Parallel()

	reg := registry.New(testLogger())
	var wg sync.WaitGroup

	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("p%d", g)
			owner := &fakeOwner{}
			for i := range 500 {
				reg.Attach(id, pose(float32(i)), owner)
				reg.Upsert(id, pose(float32(i)))
				reg.Get(id)
				reg.Snapshot()
				reg.Detach(id, owner)
			}
		}()
	}
	wg.Wait()

	if reg.Count() != 0 {
		t.Errorf("Count() = %d after all detaches, want 0", reg.Count())
	}
}
