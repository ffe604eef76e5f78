package reconciler

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"collab-app/internal/models"
	"collab-app/internal/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReconciler() *Reconciler {
	return New("ws://localhost:8080", "token", "finance", "bob")
}

func snapshotEvent(sequence uint64, channels ...*models.Channel) *protocol.RoomStateEvent {
	return &protocol.RoomStateEvent{
		Envelope:  protocol.Env(protocol.TypeRoomState, 0),
		SessionID: "session-1",
		Snapshot: models.RoomSnapshot{
			RoomID:   "finance",
			Sequence: sequence,
			Channels: channels,
		},
	}
}

func messageEvent(sequence uint64, id, author, content, ref string) *protocol.MessageEvent {
	return &protocol.MessageEvent{
		Envelope: protocol.Env(protocol.TypeMessage, sequence),
		Ref:      ref,
		Message: &models.Message{
			ID:        id,
			ChannelID: "ops",
			Type:      models.MessageText,
			Content:   content,
			AuthorID:  author,
			Timestamp: time.Now(),
		},
	}
}

func opsChannel() *models.Channel {
	return &models.Channel{
		ID:      "ops",
		Name:    "ops",
		Type:    models.ChannelPublic,
		Members: []string{"alice", "bob"},
	}
}

func TestSnapshotIsAuthoritative(t *testing.T) {
	r := newTestReconciler()

	assert.Equal(t, outcomeDirect, r.Apply(snapshotEvent(10, opsChannel())))
	assert.Equal(t, uint64(10), r.lastApplied)
	assert.Equal(t, "session-1", r.SessionID())

	state, lastApplied := r.Snapshot()
	assert.Equal(t, uint64(10), lastApplied)
	require.Contains(t, state.Channels, "ops")

	// A later snapshot replaces local state wholesale and discards any
	// optimistic actions not yet acknowledged.
	r.Apply(messageEvent(11, "m1", "alice", "hello", ""))
	r.pending = append(r.pending, pendingAction{ref: "x", channelID: "ops", localID: "pending-x"})

	r.Apply(snapshotEvent(20, opsChannel()))
	assert.Equal(t, uint64(20), r.lastApplied)
	assert.Empty(t, r.pending)
	state, _ = r.Snapshot()
	assert.Empty(t, state.Messages["ops"])
}

// Renderers iterate snapshots while the read loop keeps applying events; the
// snapshot must be a detached copy, not a view into live state.
func TestSnapshotIsDetachedFromLiveApplies(t *testing.T) {
	r := newTestReconciler()
	r.Apply(snapshotEvent(0, opsChannel()))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for seq := uint64(1); seq <= 500; seq++ {
			r.Apply(messageEvent(seq, fmt.Sprintf("m%d", seq), "alice", "hello", ""))
		}
	}()

	for i := 0; i < 200; i++ {
		state, _ := r.Snapshot()
		for _, history := range state.Messages {
			for _, message := range history {
				_ = message.Content
			}
		}
		for _, channel := range state.Channels {
			_ = channel.Unread["bob"]
		}
		for _, user := range state.Roster {
			_ = user.DisplayName
		}
	}
	wg.Wait()

	state, lastApplied := r.Snapshot()
	require.Equal(t, uint64(500), lastApplied)
	held := len(state.Messages["ops"])
	r.Apply(messageEvent(501, "m501", "alice", "hello", ""))
	assert.Len(t, state.Messages["ops"], held, "a held snapshot never moves")
	assert.Equal(t, 500, state.Channels["ops"].Unread["bob"])
}

func TestDuplicateEventsApplyOnce(t *testing.T) {
	r := newTestReconciler()
	r.Apply(snapshotEvent(0, opsChannel()))

	event := messageEvent(1, "m1", "alice", "hello", "")
	assert.Equal(t, outcomeApplied, r.Apply(event))
	// Reconnect replay delivers the same sequence again.
	assert.Equal(t, outcomeDuplicate, r.Apply(event))

	state, _ := r.Snapshot()
	assert.Len(t, state.Messages["ops"], 1)
	assert.Equal(t, 1, state.Channels["ops"].Unread["bob"])
}

func TestGapTriggersResyncNotPatching(t *testing.T) {
	r := newTestReconciler()
	r.Apply(snapshotEvent(0, opsChannel()))
	require.Equal(t, outcomeApplied, r.Apply(messageEvent(1, "m1", "alice", "one", "")))

	// Sequence 3 arrives with 2 missing: the reconciler must not patch
	// forward from a hole.
	assert.Equal(t, outcomeGap, r.Apply(messageEvent(3, "m3", "alice", "three", "")))
	state, _ := r.Snapshot()
	assert.Len(t, state.Messages["ops"], 1, "gapped event is not applied")
	assert.Equal(t, uint64(1), r.lastApplied)
}

func TestResyncBackoffIsBounded(t *testing.T) {
	r := newTestReconciler()

	delays := []time.Duration{r.nextResyncDelay(), r.nextResyncDelay(), r.nextResyncDelay()}
	assert.Equal(t, time.Second, delays[0])
	assert.Equal(t, 2*time.Second, delays[1])
	assert.Equal(t, 4*time.Second, delays[2])

	for i := 0; i < 10; i++ {
		r.nextResyncDelay()
	}
	assert.Equal(t, resyncBackoffCap, r.nextResyncDelay(), "backoff caps out")

	// A fresh snapshot resets the backoff.
	r.Apply(snapshotEvent(0))
	assert.Equal(t, time.Second, r.nextResyncDelay())
}

func TestServerEchoReplacesOptimisticMessage(t *testing.T) {
	r := newTestReconciler()
	r.Apply(snapshotEvent(0, opsChannel()))

	// Optimistic local copy, as SendMessage would leave it before the
	// server acknowledges.
	r.mu.Lock()
	r.pending = append(r.pending, pendingAction{ref: "ref-1", channelID: "ops", localID: "pending-ref-1"})
	r.state.appendMessage(&models.Message{ID: "pending-ref-1", ChannelID: "ops", Content: "hi", AuthorID: "bob"}, "bob")
	r.mu.Unlock()

	state, _ := r.Snapshot()
	require.Len(t, state.Messages["ops"], 1)

	// The echoed broadcast carries our ref and the server-assigned id.
	r.Apply(messageEvent(1, "server-id", "bob", "hi", "ref-1"))

	state, _ = r.Snapshot()
	require.Len(t, state.Messages["ops"], 1, "optimistic copy replaced, not duplicated")
	assert.Equal(t, "server-id", state.Messages["ops"][0].ID)
	assert.Empty(t, r.pending)
}

func TestRejectionRevertsOptimisticMessage(t *testing.T) {
	r := newTestReconciler()
	r.Apply(snapshotEvent(0, opsChannel()))

	r.mu.Lock()
	r.pending = append(r.pending, pendingAction{ref: "ref-1", channelID: "ops", localID: "pending-ref-1"})
	r.state.appendMessage(&models.Message{ID: "pending-ref-1", ChannelID: "ops", Content: "hi", AuthorID: "bob"}, "bob")
	r.mu.Unlock()

	r.Apply(&protocol.ErrorFrame{
		Envelope: protocol.Env(protocol.TypeError, 0),
		Code:     protocol.CodeForbidden,
		Message:  "not a member of this channel",
		Ref:      "ref-1",
	})

	state, _ := r.Snapshot()
	assert.Empty(t, state.Messages["ops"], "rejected optimistic message reverted")
	assert.Empty(t, r.pending)

	// The rejection surfaces as a non-blocking notice.
	select {
	case notice := <-r.Notices:
		assert.Equal(t, protocol.CodeForbidden, notice.Code)
		assert.Equal(t, "ref-1", notice.Ref)
	default:
		t.Fatal("expected a notice for the rejection")
	}
}

func TestChannelHistoryReplacesLocalHistory(t *testing.T) {
	r := newTestReconciler()
	r.Apply(snapshotEvent(0, opsChannel()))
	r.Apply(messageEvent(1, "m1", "alice", "stale", ""))

	r.Apply(&protocol.ChannelHistoryEvent{
		Envelope:  protocol.Env(protocol.TypeChannelHistory, 0),
		ChannelID: "ops",
		Messages: []*models.Message{
			{ID: "m0", ChannelID: "ops", Content: "older"},
			{ID: "m1", ChannelID: "ops", Content: "stale"},
		},
	})

	state, _ := r.Snapshot()
	require.Len(t, state.Messages["ops"], 2)
	assert.Equal(t, "m0", state.Messages["ops"][0].ID)
}

func TestTypingIndicatorsGoStaleWithoutStop(t *testing.T) {
	r := newTestReconciler()
	clock := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }

	r.Apply(snapshotEvent(0, opsChannel()))
	r.Apply(&protocol.TypingStartEvent{
		Envelope: protocol.Env(protocol.TypeTypingStart, 1),
		Typing: models.TypingIndicator{
			UserID:    "alice",
			UserName:  "Alice",
			ChannelID: "ops",
			Timestamp: clock,
		},
	})

	assert.Len(t, r.ActiveTypists("ops"), 1)

	// Six silent seconds with a five-second TTL: absent, no stop frame
	// required.
	clock = clock.Add(6 * time.Second)
	assert.Empty(t, r.ActiveTypists("ops"))
}

func TestPresenceAndMeetingEvents(t *testing.T) {
	r := newTestReconciler()
	r.Apply(snapshotEvent(0))

	r.Apply(&protocol.UserJoinedEvent{
		Envelope: protocol.Env(protocol.TypeUserJoined, 1),
		User:     models.RosterUser{UserID: "alice", DisplayName: "Alice", Sessions: 1},
	})
	meeting := &models.Meeting{ID: "mt1", Title: "Review", Status: models.MeetingScheduled, Participants: []string{"alice"}}
	r.Apply(&protocol.MeetingCreatedEvent{
		Envelope: protocol.Env(protocol.TypeMeetingCreated, 2),
		Meeting:  meeting,
	})

	state, _ := r.Snapshot()
	assert.Contains(t, state.Roster, "alice")
	assert.Contains(t, state.Meetings, "mt1")

	r.Apply(&protocol.UserLeftEvent{Envelope: protocol.Env(protocol.TypeUserLeft, 3), UserID: "alice"})
	state, _ = r.Snapshot()
	assert.NotContains(t, state.Roster, "alice")
}

func TestSendWithoutConnectionFailsCleanly(t *testing.T) {
	r := newTestReconciler()
	r.Apply(snapshotEvent(0, opsChannel()))

	_, err := r.SendMessage("ops", "hello")
	require.Error(t, err)

	// The failed optimistic send leaves no residue.
	state, _ := r.Snapshot()
	assert.Empty(t, state.Messages["ops"])
	assert.Empty(t, r.pending)
}
