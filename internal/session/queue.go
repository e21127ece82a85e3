package session

import "sync"

// queueKind distinguishes droppable roster messages from control messages
// (AuthResponse) that must not be evicted.
type queueKind uint8

const (
	kindControl queueKind = iota
	kindRoster
)

// pushResult reports what Enqueue had to do to fit the message.
type pushResult uint8

const (
	// pushOK means the message was queued without eviction.
	pushOK pushResult = iota

	// pushEvictedRoster means the oldest roster message was dropped to
	// make room.
	pushEvictedRoster

	// pushOverflow means the queue was full of non-evictable messages;
	// the new message was discarded and the session must drain.
	pushOverflow
)

// outItem is one queued outbound message, already encoded.
type outItem struct {
	kind queueKind
	data []byte
}

// outQueue is the session's bounded outbound queue. The session's writer
// goroutine is the only consumer; the broadcaster and the session's own
// reader are producers. All producers use the non-blocking push.
type outQueue struct {
	mu       sync.Mutex
	items    []outItem
	capacity int
	closed   bool

	// evicting is set while the queue is in a slow-consumer episode and
	// cleared when it drains empty. Used to log once per episode.
	evicting bool

	// notify wakes the writer; capacity 1 so producers never block.
	notify chan struct{}
}

func newOutQueue(capacity int) *outQueue {
	return &outQueue{
		items:    make([]outItem, 0, capacity),
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// push appends an encoded message. When the queue is full the oldest
// roster message is evicted; firstEviction is true only for the first
// eviction of the current slow-consumer episode.
func (q *outQueue) push(kind queueKind, data []byte) (res pushResult, firstEviction bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return pushOverflow, false
	}

	if len(q.items) >= q.capacity {
		idx := -1
		for i, it := range q.items {
			if it.kind == kindRoster {
				idx = i
				break
			}
		}
		if idx < 0 {
			return pushOverflow, false
		}
		q.items = append(q.items[:idx], q.items[idx+1:]...)
		firstEviction = !q.evicting
		q.evicting = true
		res = pushEvictedRoster
	}

	q.items = append(q.items, outItem{kind: kind, data: data})
	q.wake()
	return res, firstEviction
}

// pop removes the oldest queued message. Returns false when empty.
func (q *outQueue) pop() (outItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		q.evicting = false
		return outItem{}, false
	}
	it := q.items[0]
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.evicting = false
	}
	return it, true
}

// close marks the queue closed; further pushes are discarded.
func (q *outQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()
	q.wake()
}

// wake signals the writer without blocking.
func (q *outQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
