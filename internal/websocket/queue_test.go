package websocket

import (
	"testing"

	"collab-app/internal/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func durableFrame(payload string) protocol.Frame {
	return protocol.Frame{Type: protocol.TypeMessage, Data: []byte(payload)}
}

func ephemeralFrame(payload string) protocol.Frame {
	return protocol.Frame{Type: protocol.TypeTypingStart, Ephemeral: true, Data: []byte(payload)}
}

func drain(q *outQueue) []string {
	var payloads []string
	for {
		frame, ok := q.tryPop()
		if !ok {
			return payloads
		}
		payloads = append(payloads, string(frame.Data))
	}
}

func TestQueuePreservesOrder(t *testing.T) {
	q := newOutQueue(8)
	q.push(durableFrame("a"))
	q.push(ephemeralFrame("b"))
	q.push(durableFrame("c"))

	assert.Equal(t, []string{"a", "b", "c"}, drain(q))
}

func TestQueueShedsOldestEphemeralFirst(t *testing.T) {
	q := newOutQueue(3)
	q.push(durableFrame("m1"))
	q.push(ephemeralFrame("t1"))
	q.push(durableFrame("m2"))

	// Queue is full; the oldest ephemeral frame makes room.
	q.push(durableFrame("m3"))
	assert.Equal(t, []string{"m1", "m2", "m3"}, drain(q))
	assert.Equal(t, 1, q.droppedCount())
}

func TestQueueDropsIncomingEphemeralWhenFullOfDurables(t *testing.T) {
	q := newOutQueue(2)
	q.push(durableFrame("m1"))
	q.push(durableFrame("m2"))

	q.push(ephemeralFrame("t1"))
	assert.Equal(t, []string{"m1", "m2"}, drain(q))
	assert.Equal(t, 1, q.droppedCount())
}

func TestQueueNeverDropsDurableFrames(t *testing.T) {
	q := newOutQueue(2)
	for i := 0; i < 5; i++ {
		q.push(durableFrame("m"))
	}

	// Durable frames exceed the limit rather than being shed: delayed,
	// never dropped.
	assert.Len(t, drain(q), 5)
	assert.Zero(t, q.droppedCount())
}

func TestQueueClosedPushIsNoOp(t *testing.T) {
	q := newOutQueue(4)
	q.push(durableFrame("m1"))
	q.close()

	q.push(durableFrame("m2"))
	_, ok := q.tryPop()
	assert.False(t, ok)
	assert.True(t, q.isClosed())
}

func TestQueueWakesWriter(t *testing.T) {
	q := newOutQueue(4)
	q.push(durableFrame("m1"))

	select {
	case <-q.notify:
	default:
		require.Fail(t, "push must signal the write pump")
	}
}
