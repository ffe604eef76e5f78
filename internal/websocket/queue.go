package websocket

import (
	"sync"

	"collab-app/internal/protocol"
)

// outQueue is the bounded outbound queue between the room's fan-out and one
// connection's write pump. When the queue is full, the oldest ephemeral frame
// (typing, presence, activity) is shed first; messages and meeting-state
// frames are never dropped, only delayed, so the queue may temporarily exceed
// its limit under sustained backpressure.
type outQueue struct {
	mu      sync.Mutex
	frames  []protocol.Frame
	limit   int
	closed  bool
	dropped int

	// notify carries at most one pending wakeup for the write pump.
	notify chan struct{}
}

func newOutQueue(limit int) *outQueue {
	if limit <= 0 {
		limit = 256
	}
	return &outQueue{
		limit:  limit,
		notify: make(chan struct{}, 1),
	}
}

// push enqueues a frame. Pushing to a closed queue is a no-op: send failure
// is observed via the heartbeat timeout, not here.
func (q *outQueue) push(frame protocol.Frame) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	if len(q.frames) >= q.limit {
		if idx := q.oldestEphemeral(); idx >= 0 {
			q.frames = append(q.frames[:idx], q.frames[idx+1:]...)
			q.dropped++
		} else if frame.Ephemeral {
			q.dropped++
			q.mu.Unlock()
			return
		}
	}
	q.frames = append(q.frames, frame)
	q.mu.Unlock()
	q.wake()
}

func (q *outQueue) oldestEphemeral() int {
	for i, frame := range q.frames {
		if frame.Ephemeral {
			return i
		}
	}
	return -1
}

// tryPop returns the next frame without blocking.
func (q *outQueue) tryPop() (protocol.Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.frames) == 0 {
		return protocol.Frame{}, false
	}
	frame := q.frames[0]
	q.frames = q.frames[1:]
	return frame, true
}

func (q *outQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.frames = nil
	q.mu.Unlock()
	q.wake()
}

func (q *outQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *outQueue) droppedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

func (q *outQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
