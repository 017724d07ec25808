package signal

import (
	"sync"
	"sync/atomic"
)

// OutboundQueue is a byte-capped FIFO of marshaled envelopes waiting for the
// transport to come up. Enqueue never blocks; frames over budget are dropped
// and counted. Drain uses Peek/Pop so an entry leaves the queue only after
// the socket hand-off succeeded.
type OutboundQueue struct {
	mu     sync.Mutex
	closed bool

	maxBytes int
	curBytes int
	frames   [][]byte

	drops atomic.Uint64
}

func NewOutboundQueue(maxBytes int) *OutboundQueue {
	return &OutboundQueue{maxBytes: maxBytes}
}

func (q *OutboundQueue) DropCount() uint64 {
	return q.drops.Load()
}

func (q *OutboundQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

func (q *OutboundQueue) Enqueue(frame []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.drops.Add(1)
		return false
	}
	if len(frame) > q.maxBytes || q.curBytes+len(frame) > q.maxBytes {
		q.drops.Add(1)
		return false
	}
	q.frames = append(q.frames, frame)
	q.curBytes += len(frame)
	return true
}

// Peek returns the head frame without removing it.
func (q *OutboundQueue) Peek() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.frames) == 0 {
		return nil, false
	}
	return q.frames[0], true
}

// Pop removes the head frame. Callers Pop only after the frame was handed to
// the socket, so a failed write leaves it queued for the next connection.
func (q *OutboundQueue) Pop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.frames) == 0 {
		return
	}
	head := q.frames[0]
	copy(q.frames, q.frames[1:])
	q.frames[len(q.frames)-1] = nil
	q.frames = q.frames[:len(q.frames)-1]
	q.curBytes -= len(head)
}

func (q *OutboundQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for i := range q.frames {
		q.frames[i] = nil
	}
	q.frames = nil
	q.curBytes = 0
}
