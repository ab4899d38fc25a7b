package relay

import (
	"sync"
	"sync/atomic"
)

// defaultOutboxBytes bounds the frames buffered for one slow participant.
const defaultOutboxBytes = 1 << 20

// outbox is a byte-bounded FIFO of encoded frames waiting to be written to
// one participant's WebSocket. Enqueue never blocks, so a slow reader can
// never stall fan-out to the rest of the room.
type outbox struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	closed   bool

	maxBytes int
	curBytes int
	frames   [][]byte

	drops atomic.Uint64
}

func newOutbox(maxBytes int) *outbox {
	if maxBytes <= 0 {
		maxBytes = defaultOutboxBytes
	}
	q := &outbox{maxBytes: maxBytes}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

func (q *outbox) Drops() uint64 {
	return q.drops.Load()
}

// Enqueue appends frame if it fits in the byte budget.
func (q *outbox) Enqueue(frame []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.curBytes+len(frame) > q.maxBytes {
		q.drops.Add(1)
		return false
	}
	q.frames = append(q.frames, frame)
	q.curBytes += len(frame)
	q.notEmpty.Signal()
	return true
}

// Dequeue blocks until a frame is available. It returns false once the queue
// is closed; frames still buffered at close are discarded.
func (q *outbox) Dequeue() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.frames) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if q.closed {
		return nil, false
	}
	frame := q.frames[0]
	q.frames[0] = nil
	q.frames = q.frames[1:]
	q.curBytes -= len(frame)
	return frame, true
}

func (q *outbox) Close() {
	q.mu.Lock()
	q.closed = true
	q.frames = nil
	q.curBytes = 0
	q.mu.Unlock()
	q.notEmpty.Broadcast()
}
