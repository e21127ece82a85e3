package session

import (
	"bytes"
	"fmt"
	"testing"
)

func TestQueueFIFO(t *testing.T) {
	t.Parallel()

	q := newOutQueue(4)
	for i := range 3 {
		res, _ := q.push(kindRoster, []byte{byte(i)})
		if res != pushOK {
			t.Fatalf("push %d = %v, want pushOK", i, res)
		}
	}
	for i := range 3 {
		it, ok := q.pop()
		if !ok || it.data[0] != byte(i) {
			t.Fatalf("pop %d = (%v, %v)", i, it, ok)
		}
	}
	if _, ok := q.pop(); ok {
		t.Error("pop on empty queue returned an item")
	}
}

// TestQueueEvictsOldestRoster verifies the slow-consumer policy: a full
// queue drops its oldest roster message to admit a new one, and control
// messages are never the victim.
func TestQueueEvictsOldestRoster(t *testing.T) {
	t.Parallel()

	q := newOutQueue(3)
	q.push(kindControl, []byte("auth"))
	q.push(kindRoster, []byte("r0"))
	q.push(kindRoster, []byte("r1"))

	res, first := q.push(kindRoster, []byte("r2"))
	if res != pushEvictedRoster {
		t.Fatalf("push = %v, want pushEvictedRoster", res)
	}
	if !first {
		t.Error("first eviction of the episode not flagged")
	}

	// Second eviction in the same episode is not "first".
	if _, first = q.push(kindRoster, []byte("r3")); first {
		t.Error("second eviction flagged as first")
	}

	var got [][]byte
	for {
		it, ok := q.pop()
		if !ok {
			break
		}
		got = append(got, it.data)
	}
	want := [][]byte{[]byte("auth"), []byte("r2"), []byte("r3")}
	if len(got) != len(want) {
		t.Fatalf("queue drained %d items, want %d", len(got), len(want))
	}
	for i := range want {
		if !bytes.Equal(got[i], want[i]) {
			t.Errorf("item %d = %q, want %q", i, got[i], want[i])
		}
	}
}

// TestQueueOverflowWithoutRosters verifies a queue holding only control
// messages reports overflow instead of evicting.
func TestQueueOverflowWithoutRosters(t *testing.T) {
	t.Parallel()

	q := newOutQueue(2)
	q.push(kindControl, []byte("c0"))
	q.push(kindControl, []byte("c1"))

	res, _ := q.push(kindRoster, []byte("r"))
	if res != pushOverflow {
		t.Errorf("push = %v, want pushOverflow", res)
	}
}

// TestQueueEvictionEpisodeResets verifies draining the queue empty ends
// the slow-consumer episode so the next eviction logs again.
func TestQueueEvictionEpisodeResets(t *testing.T) {
	t.Parallel()

	q := newOutQueue(1)
	q.push(kindRoster, []byte("r0"))
	if _, first := q.push(kindRoster, []byte("r1")); !first {
		t.Fatal("expected first eviction")
	}

	q.pop() // empties the queue, episode over

	q.push(kindRoster, []byte("r2"))
	if _, first := q.push(kindRoster, []byte("r3")); !first {
		t.Error("eviction after an empty queue should start a new episode")
	}
}

func TestQueueClosedDiscards(t *testing.T) {
	t.Parallel()

	q := newOutQueue(4)
	q.close()
	if res, _ := q.push(kindRoster, []byte("r")); res != pushOverflow {
		t.Errorf("push after close = %v, want pushOverflow", res)
	}
	if _, ok := q.pop(); ok {
		t.Error("pop after close returned an item")
	}
}

func BenchmarkQueuePushPop(b *testing.B) {
	q := newOutQueue(16)
	data := []byte(fmt.Sprint("roster-bytes"))
	for b.Loop() {
		q.push(kindRoster, data)
		q.pop()
	}
}
