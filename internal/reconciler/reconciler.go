package reconciler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"collab-app/internal/models"
	"collab-app/internal/protocol"
	"collab-app/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	defaultReconnectDelay = 3 * time.Second
	resyncBackoffBase     = time.Second
	resyncBackoffCap      = 30 * time.Second
	activityRingSize      = 50
)

// Notice is a non-blocking, user-visible note: a rejection from the server or
// a transport hiccup. It never interrupts the event stream.
type Notice struct {
	Code    string
	Message string
	Ref     string
}

type outcome int

const (
	outcomeApplied outcome = iota
	// outcomeDuplicate: sequence at or below lastApplied, reconnect replay.
	outcomeDuplicate
	// outcomeGap: a broadcast was missed; local state may have diverged and
	// must be rebuilt from a fresh snapshot, not patched forward.
	outcomeGap
	// outcomeDirect: unsequenced reply (snapshot, history, error).
	outcomeDirect
)

type pendingAction struct {
	ref       string
	channelID string
	localID   string
}

// Reconciler applies the server's ordered event stream onto local state and
// hides transport churn from the rest of the application. One reconciler
// mirrors one room.
type Reconciler struct {
	baseURL string
	token   string
	roomID  string
	selfID  string

	dialer         *websocket.Dialer
	ReconnectDelay time.Duration
	TypingTTL      time.Duration
	// OnEvent, when set, observes every applied event after state update.
	OnEvent func(protocol.Outbound)

	Notices chan Notice

	now func() time.Time

	mu          sync.Mutex
	state       *State
	sessionID   string
	lastApplied uint64
	pending     []pendingAction
	resyncDelay time.Duration

	connMu sync.Mutex
	conn   *websocket.Conn
}

func New(baseURL, token, roomID, selfID string) *Reconciler {
	return &Reconciler{
		baseURL:        baseURL,
		token:          token,
		roomID:         roomID,
		selfID:         selfID,
		dialer:         websocket.DefaultDialer,
		ReconnectDelay: defaultReconnectDelay,
		TypingTTL:      5 * time.Second,
		Notices:        make(chan Notice, 16),
		now:            time.Now,
		state:          newState(),
		resyncDelay:    resyncBackoffBase,
	}
}

// Run dials, reads, and reconnects until ctx is done. Every reconnect is a
// fresh connection with a room re-join; the server's snapshot on arrival is
// authoritative.
func (r *Reconciler) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		conn, _, err := r.dialer.DialContext(ctx, r.wsURL(), nil)
		if err != nil {
			r.notice(Notice{Code: "connection_failed", Message: err.Error()})
			if !sleepCtx(ctx, r.ReconnectDelay) {
				return
			}
			continue
		}
		r.setConn(conn)

		delay := r.ReconnectDelay
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					r.notice(Notice{Code: "disconnected", Message: err.Error()})
				}
				break
			}
			event, err := protocol.DecodeOutbound(data)
			if err != nil {
				logger.Warn("reconciler: dropping frame: %v", err)
				continue
			}
			result := r.Apply(event)
			if result == outcomeGap {
				// Resync requests are bounded by exponential backoff so a
				// lossy network cannot turn into a snapshot stampede.
				delay = r.nextResyncDelay()
				r.notice(Notice{Code: "resync", Message: fmt.Sprintf("sequence gap, resyncing in %s", delay)})
				break
			}
		}

		r.setConn(nil)
		conn.Close()
		if !sleepCtx(ctx, delay) {
			return
		}
	}
}

// Apply folds one server frame into local state. Duplicates (sequence at or
// below the last applied) are dropped without reapplying side effects.
func (r *Reconciler) Apply(event protocol.Outbound) outcome {
	r.mu.Lock()
	result := r.applyLocked(event)
	r.mu.Unlock()

	if result == outcomeApplied || result == outcomeDirect {
		if r.OnEvent != nil {
			r.OnEvent(event)
		}
	}
	return result
}

func (r *Reconciler) applyLocked(event protocol.Outbound) outcome {
	switch ev := event.(type) {
	case *protocol.RoomStateEvent:
		// Authoritative snapshot: optimistic state not yet acknowledged is
		// discarded, not merged.
		r.state = stateFromSnapshot(ev.Snapshot)
		r.sessionID = ev.SessionID
		r.lastApplied = ev.Snapshot.Sequence
		r.pending = nil
		r.resyncDelay = resyncBackoffBase
		return outcomeDirect
	case *protocol.ChannelHistoryEvent:
		r.state.replaceHistory(ev.ChannelID, ev.Messages)
		return outcomeDirect
	case *protocol.ErrorFrame:
		r.revertPending(ev.Ref)
		r.notice(Notice{Code: ev.Code, Message: ev.Message, Ref: ev.Ref})
		return outcomeDirect
	}

	seq := event.Seq()
	if seq <= r.lastApplied {
		return outcomeDuplicate
	}
	if seq > r.lastApplied+1 {
		return outcomeGap
	}
	r.lastApplied = seq

	switch ev := event.(type) {
	case *protocol.UserJoinedEvent:
		r.state.userJoined(ev.User)
	case *protocol.UserLeftEvent:
		r.state.userLeft(ev.UserID)
	case *protocol.MessageEvent:
		r.resolvePending(ev.Ref)
		r.state.appendMessage(ev.Message, r.selfID)
	case *protocol.MessageUpdatedEvent:
		r.state.updateMessage(ev.Message)
	case *protocol.ChannelCreatedEvent:
		r.state.channelCreated(ev.Channel)
	case *protocol.MemberJoinedEvent:
		r.state.memberJoined(ev.ChannelID, ev.UserID)
	case *protocol.MemberLeftEvent:
		r.state.memberLeft(ev.ChannelID, ev.UserID)
	case *protocol.TypingStartEvent:
		r.state.typingStarted(ev.Typing)
	case *protocol.TypingStopEvent:
		r.state.typingStopped(ev.ChannelID, ev.UserID)
	case *protocol.MeetingCreatedEvent:
		r.state.meetingUpserted(ev.Meeting)
	case *protocol.MeetingUpdatedEvent:
		r.state.meetingUpserted(ev.Meeting)
	case *protocol.UserActivityEvent:
		r.state.activityObserved(ev.Activity, activityRingSize)
	}
	return outcomeApplied
}

// SendMessage applies the draft optimistically and queues it for the server.
// The optimistic copy is replaced by the server's broadcast, or reverted if
// the server rejects it or the connection resets before acknowledgement.
func (r *Reconciler) SendMessage(channelID, content string) (string, error) {
	ref := uuid.NewString()
	localID := "pending-" + ref

	r.mu.Lock()
	r.pending = append(r.pending, pendingAction{ref: ref, channelID: channelID, localID: localID})
	r.state.appendMessage(&models.Message{
		ID:        localID,
		ChannelID: channelID,
		Type:      models.MessageText,
		Content:   content,
		AuthorID:  r.selfID,
		Timestamp: r.now(),
	}, r.selfID)
	r.mu.Unlock()

	event := &protocol.SendMessage{ChannelID: channelID, Content: content}
	event.Ref = ref
	if err := r.writeEvent(event); err != nil {
		r.mu.Lock()
		r.revertPending(ref)
		r.mu.Unlock()
		return "", err
	}
	return ref, nil
}

// Do sends any other client event; no optimistic application.
func (r *Reconciler) Do(event protocol.Inbound) error {
	return r.writeEvent(event)
}

func (r *Reconciler) JoinChannel(channelID string, limit int) error {
	return r.writeEvent(&protocol.JoinChannel{ChannelID: channelID, Limit: limit})
}

func (r *Reconciler) StartTyping(channelID string) error {
	return r.writeEvent(&protocol.TypingStart{ChannelID: channelID})
}

func (r *Reconciler) StopTyping(channelID string) error {
	return r.writeEvent(&protocol.TypingStop{ChannelID: channelID})
}

// ActiveTypists reports who is typing in a channel right now; indicators past
// the TTL read as absent even when no stop frame ever arrived.
func (r *Reconciler) ActiveTypists(channelID string) []models.TypingIndicator {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.activeTypists(channelID, r.TypingTTL, r.now())
}

// Snapshot returns a point-in-time copy of the mirrored room for rendering.
// The copy is detached: events applied after the call never touch it.
func (r *Reconciler) Snapshot() (State, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.state.clone(), r.lastApplied
}

func (r *Reconciler) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

func (r *Reconciler) resolvePending(ref string) {
	if ref == "" {
		return
	}
	for i, action := range r.pending {
		if action.ref == ref {
			// The server's copy is about to be applied; the optimistic one
			// goes away so the message is never shown twice.
			r.state.removeMessage(action.channelID, action.localID)
			r.pending = slices.Delete(r.pending, i, i+1)
			return
		}
	}
}

func (r *Reconciler) revertPending(ref string) {
	if ref == "" {
		return
	}
	for i, action := range r.pending {
		if action.ref == ref {
			r.state.removeMessage(action.channelID, action.localID)
			r.pending = slices.Delete(r.pending, i, i+1)
			return
		}
	}
}

func (r *Reconciler) nextResyncDelay() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	delay := r.resyncDelay
	r.resyncDelay *= 2
	if r.resyncDelay > resyncBackoffCap {
		r.resyncDelay = resyncBackoffCap
	}
	return delay
}

func (r *Reconciler) writeEvent(event protocol.Inbound) error {
	data, err := protocol.EncodeInbound(event)
	if err != nil {
		return err
	}
	r.connMu.Lock()
	defer r.connMu.Unlock()
	if r.conn == nil {
		return errors.New("not connected")
	}
	return r.conn.WriteMessage(websocket.TextMessage, data)
}

func (r *Reconciler) setConn(conn *websocket.Conn) {
	r.connMu.Lock()
	r.conn = conn
	r.connMu.Unlock()
}

func (r *Reconciler) wsURL() string {
	return fmt.Sprintf("%s/ws/%s?token=%s", r.baseURL, r.roomID, r.token)
}

func (r *Reconciler) notice(n Notice) {
	select {
	case r.Notices <- n:
	default:
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
