package room

import (
	"errors"
	"sync/atomic"
	"time"

	"collab-app/internal/auth"
	"collab-app/internal/models"
	"collab-app/internal/protocol"
	"collab-app/pkg/logger"
)

// ErrRoomClosed is returned by Submit when the room was garbage-collected
// between lookup and submission.
var ErrRoomClosed = errors.New("room closed")

// Subscriber is one transport session attached to the room. Send must be
// best-effort and non-blocking; slow clients shed ephemeral frames in their
// own outbound queue, never in the room loop.
type Subscriber interface {
	SessionID() string
	Identity() auth.Identity
	Send(frame protocol.Frame)
}

// MessageSink receives accepted messages for asynchronous archiving. Store
// must never block the caller.
type MessageSink interface {
	Store(roomID string, message *models.Message)
}

type Options struct {
	TypingTTL        time.Duration
	HistoryRetention int
	DefaultChannel   string
	ActivityRingSize int
	Now              func() time.Time
}

func (o Options) withDefaults() Options {
	if o.TypingTTL <= 0 {
		o.TypingTTL = 5 * time.Second
	}
	if o.HistoryRetention <= 0 {
		o.HistoryRetention = 500
	}
	if o.DefaultChannel == "" {
		o.DefaultChannel = "general"
	}
	if o.ActivityRingSize <= 0 {
		o.ActivityRingSize = 50
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type taskKind int

const (
	taskAttach taskKind = iota
	taskDetach
	taskEvent
)

type task struct {
	kind  taskKind
	sub   Subscriber
	event protocol.Inbound
}

// Room is the single authority for one room's state. All mutations flow
// through the task queue into one worker goroutine, so concurrent events from
// different sessions are applied one at a time with no locks on room state.
// Rooms never share mutable state with each other.
type Room struct {
	id    string
	opts  Options
	tasks chan task
	done  chan struct{}

	// sequence is only touched by the worker goroutine.
	sequence uint64

	sessions map[string]Subscriber
	presence *presenceRegistry
	channels *ChannelStore
	typing   *TypingTracker
	meetings *MeetingCoordinator
	activity *activityRing
	sink     MessageSink

	// refCount and emptySince are read by the manager's janitor, so they
	// live outside the worker's single-threaded domain.
	refCount   atomic.Int64
	emptySince atomic.Int64
	closed     atomic.Bool
}

func New(id string, opts Options, sink MessageSink) *Room {
	opts = opts.withDefaults()
	r := &Room{
		id:       id,
		opts:     opts,
		tasks:    make(chan task, 64),
		done:     make(chan struct{}),
		sessions: make(map[string]Subscriber),
		presence: newPresenceRegistry(opts.Now),
		channels: NewChannelStore(opts.HistoryRetention, opts.Now),
		typing:   NewTypingTracker(opts.TypingTTL, opts.Now),
		meetings: NewMeetingCoordinator(opts.Now),
		activity: newActivityRing(opts.ActivityRingSize),
		sink:     sink,
	}
	r.emptySince.Store(opts.Now().UnixNano())
	return r
}

func (r *Room) ID() string { return r.id }

// Run is the room's worker loop. One event at a time, in arrival order.
func (r *Room) Run() {
	sweep := time.NewTicker(time.Second)
	defer sweep.Stop()

	for {
		select {
		case <-r.done:
			return
		case t := <-r.tasks:
			switch t.kind {
			case taskAttach:
				r.attach(t.sub)
			case taskDetach:
				r.detach(t.sub)
			case taskEvent:
				r.handleEvent(t.event, t.sub)
			}
		case <-sweep.C:
			r.sweepTyping()
		}
	}
}

// Submit queues an inbound event for the room worker.
func (r *Room) Submit(sub Subscriber, event protocol.Inbound) error {
	return r.enqueue(task{kind: taskEvent, sub: sub, event: event})
}

func (r *Room) enqueue(t task) error {
	if r.closed.Load() {
		return ErrRoomClosed
	}
	select {
	case r.tasks <- t:
		return nil
	case <-r.done:
		return ErrRoomClosed
	}
}

func (r *Room) close() {
	if r.closed.CompareAndSwap(false, true) {
		close(r.done)
	}
}

// retain/release keep the manager's view of attachment in step with the
// janitor without racing the worker goroutine.
func (r *Room) retain() {
	r.refCount.Add(1)
}

func (r *Room) release() {
	if r.refCount.Add(-1) == 0 {
		r.emptySince.Store(r.opts.Now().UnixNano())
	}
}

func (r *Room) idleSince() (int64, time.Time) {
	return r.refCount.Load(), time.Unix(0, r.emptySince.Load())
}

func (r *Room) nextSeq() uint64 {
	r.sequence++
	return r.sequence
}

// broadcast marshals once and fans the frame out to every attached session,
// including the originator so its reconciler stays in lockstep with
// server-assigned sequence numbers.
func (r *Room) broadcast(event protocol.Outbound) {
	frame, err := protocol.MarshalFrame(event)
	if err != nil {
		logger.Error("room %s: %v", r.id, err)
		return
	}
	for _, sub := range r.sessions {
		sub.Send(frame)
	}
}

// reply sends a frame to one session only; used for snapshots, history, and
// rejections.
func (r *Room) reply(sub Subscriber, event protocol.Outbound) {
	frame, err := protocol.MarshalFrame(event)
	if err != nil {
		logger.Error("room %s: %v", r.id, err)
		return
	}
	sub.Send(frame)
}

func (r *Room) reject(sub Subscriber, event protocol.Inbound, err error) {
	logger.Debug("room %s: rejected %T from %s: %v", r.id, event, sub.Identity().UserID, err)
	r.reply(sub, protocol.Reject(err, event.ClientRef()))
}

func (r *Room) attach(sub Subscriber) {
	identity := sub.Identity()
	r.sessions[sub.SessionID()] = sub
	first := r.presence.join(sub)

	// Everyone lands in the default channel so the room is never write-dead
	// for a fresh joiner.
	defaultChannel := r.channels.EnsureDefault(r.opts.DefaultChannel, identity)
	_, joined, err := r.channels.Join(defaultChannel.ID, identity)
	if err != nil {
		logger.Error("room %s: default channel join: %v", r.id, err)
	}

	// The snapshot goes out before any live event for this session.
	r.reply(sub, &protocol.RoomStateEvent{
		Envelope:  protocol.Env(protocol.TypeRoomState, 0),
		SessionID: sub.SessionID(),
		Snapshot:  r.snapshot(),
	})

	if joined {
		r.broadcast(&protocol.MemberJoinedEvent{
			Envelope:  protocol.Env(protocol.TypeMemberJoined, r.nextSeq()),
			ChannelID: defaultChannel.ID,
			UserID:    identity.UserID,
			UserName:  identity.DisplayName,
		})
	}
	if first {
		if entry, ok := r.presence.rosterEntry(identity.UserID); ok {
			r.broadcast(&protocol.UserJoinedEvent{
				Envelope: protocol.Env(protocol.TypeUserJoined, r.nextSeq()),
				User:     entry,
			})
		}
		logger.Info("user %s joined room %s", identity.UserID, r.id)
	}
}

func (r *Room) detach(sub Subscriber) {
	if _, ok := r.sessions[sub.SessionID()]; !ok {
		return
	}
	delete(r.sessions, sub.SessionID())
	identity := sub.Identity()
	last := r.presence.leave(sub)
	if !last {
		return
	}

	// The user's last session is gone; their typing indicators stop now
	// rather than waiting out the TTL.
	for _, indicator := range r.typing.StopAll(identity.UserID) {
		r.broadcast(&protocol.TypingStopEvent{
			Envelope:  protocol.Env(protocol.TypeTypingStop, r.nextSeq()),
			ChannelID: indicator.ChannelID,
			UserID:    indicator.UserID,
		})
	}
	r.broadcast(&protocol.UserLeftEvent{
		Envelope: protocol.Env(protocol.TypeUserLeft, r.nextSeq()),
		UserID:   identity.UserID,
	})
	logger.Info("user %s left room %s", identity.UserID, r.id)
}

func (r *Room) snapshot() models.RoomSnapshot {
	return models.RoomSnapshot{
		RoomID:   r.id,
		Sequence: r.sequence,
		Roster:   r.presence.snapshot(),
		Channels: r.channels.All(),
		Meetings: r.meetings.All(),
		Typing:   r.typing.Snapshot(),
		Activity: r.activity.snapshot(),
	}
}

func (r *Room) sweepTyping() {
	for _, indicator := range r.typing.Expire() {
		r.broadcast(&protocol.TypingStopEvent{
			Envelope:  protocol.Env(protocol.TypeTypingStop, r.nextSeq()),
			ChannelID: indicator.ChannelID,
			UserID:    indicator.UserID,
		})
	}
}

// handleEvent dispatches one inbound event. A rejected event is answered to
// the originating session only; nothing is broadcast and the worker carries
// on.
func (r *Room) handleEvent(event protocol.Inbound, from Subscriber) {
	identity := from.Identity()
	r.presence.touch(identity.UserID)

	switch ev := event.(type) {
	case *protocol.JoinChannel:
		r.handleJoinChannel(ev, from)
	case *protocol.LeaveChannel:
		r.handleLeaveChannel(ev, from)
	case *protocol.CreateChannel:
		r.handleCreateChannel(ev, from)
	case *protocol.SendMessage:
		r.handleSendMessage(ev, from)
	case *protocol.EditMessage:
		r.handleEditMessage(ev, from)
	case *protocol.AddReaction:
		r.handleReaction(ev.ChannelID, ev.MessageID, ev.Emoji, true, ev, from)
	case *protocol.RemoveReaction:
		r.handleReaction(ev.ChannelID, ev.MessageID, ev.Emoji, false, ev, from)
	case *protocol.TypingStart:
		r.handleTypingStart(ev, from)
	case *protocol.TypingStop:
		r.handleTypingStop(ev, from)
	case *protocol.UserActivity:
		r.handleUserActivity(ev, from)
	case *protocol.CreateMeeting:
		r.handleCreateMeeting(ev, from)
	case *protocol.JoinMeeting:
		r.handleJoinMeeting(ev, from)
	case *protocol.MeetingAction:
		r.handleMeetingAction(ev, from)
	default:
		r.reject(from, event, &protocol.ProtocolError{Reason: "unhandled event"})
	}
}

func (r *Room) handleJoinChannel(ev *protocol.JoinChannel, from Subscriber) {
	identity := from.Identity()
	channel, joined, err := r.channels.Join(ev.ChannelID, identity)
	if err != nil {
		r.reject(from, ev, err)
		return
	}
	if joined {
		r.broadcast(&protocol.MemberJoinedEvent{
			Envelope:  protocol.Env(protocol.TypeMemberJoined, r.nextSeq()),
			ChannelID: channel.ID,
			UserID:    identity.UserID,
			UserName:  identity.DisplayName,
		})
	}

	limit := ev.Limit
	if limit <= 0 {
		limit = 50
	}
	messages, truncated, err := r.channels.History(channel.ID, limit, identity)
	if err != nil {
		r.reject(from, ev, err)
		return
	}
	r.reply(from, &protocol.ChannelHistoryEvent{
		Envelope:  protocol.Env(protocol.TypeChannelHistory, 0),
		ChannelID: channel.ID,
		Messages:  messages,
		Truncated: truncated,
	})
}

func (r *Room) handleLeaveChannel(ev *protocol.LeaveChannel, from Subscriber) {
	identity := from.Identity()
	removed, _, err := r.channels.Leave(ev.ChannelID, identity.UserID)
	if err != nil {
		r.reject(from, ev, err)
		return
	}
	if removed {
		r.broadcast(&protocol.MemberLeftEvent{
			Envelope:  protocol.Env(protocol.TypeMemberLeft, r.nextSeq()),
			ChannelID: ev.ChannelID,
			UserID:    identity.UserID,
		})
	}
}

func (r *Room) handleCreateChannel(ev *protocol.CreateChannel, from Subscriber) {
	channel, err := r.channels.Create(ChannelSpec{
		Name:        ev.Name,
		Description: ev.Description,
		Type:        ev.ChannelType,
		MemberIDs:   ev.MemberIDs,
	}, from.Identity())
	if err != nil {
		r.reject(from, ev, err)
		return
	}
	r.broadcast(&protocol.ChannelCreatedEvent{
		Envelope: protocol.Env(protocol.TypeChannelCreated, r.nextSeq()),
		Ref:      ev.ClientRef(),
		Channel:  channel,
	})
}

func (r *Room) handleSendMessage(ev *protocol.SendMessage, from Subscriber) {
	message, err := r.channels.Append(ev.ChannelID, MessageDraft{
		Content:     ev.Content,
		Type:        ev.MessageType,
		ReplyTo:     ev.ReplyTo,
		Attachments: ev.Attachments,
	}, from.Identity())
	if err != nil {
		r.reject(from, ev, err)
		return
	}
	r.broadcast(&protocol.MessageEvent{
		Envelope: protocol.Env(protocol.TypeMessage, r.nextSeq()),
		Ref:      ev.ClientRef(),
		Message:  message,
	})
	if r.sink != nil {
		r.sink.Store(r.id, message.Clone())
	}
}

func (r *Room) handleEditMessage(ev *protocol.EditMessage, from Subscriber) {
	message, err := r.channels.Edit(ev.ChannelID, ev.MessageID, ev.Content, from.Identity())
	if err != nil {
		r.reject(from, ev, err)
		return
	}
	r.broadcast(&protocol.MessageUpdatedEvent{
		Envelope: protocol.Env(protocol.TypeMessageUpdated, r.nextSeq()),
		Ref:      ev.ClientRef(),
		Message:  message,
	})
}

func (r *Room) handleReaction(channelID, messageID, emoji string, add bool, ev protocol.Inbound, from Subscriber) {
	message, changed, err := r.channels.React(channelID, messageID, emoji, from.Identity().UserID, add)
	if err != nil {
		r.reject(from, ev, err)
		return
	}
	// Duplicate reaction deliveries change nothing and broadcast nothing.
	if !changed {
		return
	}
	r.broadcast(&protocol.MessageUpdatedEvent{
		Envelope: protocol.Env(protocol.TypeMessageUpdated, r.nextSeq()),
		Ref:      ev.ClientRef(),
		Message:  message,
	})
}

func (r *Room) handleTypingStart(ev *protocol.TypingStart, from Subscriber) {
	identity := from.Identity()
	if err := r.requireMember(ev.ChannelID, identity.UserID); err != nil {
		r.reject(from, ev, err)
		return
	}
	if !r.typing.Start(identity.UserID, identity.DisplayName, ev.ChannelID) {
		return
	}
	r.broadcast(&protocol.TypingStartEvent{
		Envelope: protocol.Env(protocol.TypeTypingStart, r.nextSeq()),
		Typing: models.TypingIndicator{
			UserID:    identity.UserID,
			UserName:  identity.DisplayName,
			ChannelID: ev.ChannelID,
			Timestamp: r.opts.Now(),
		},
	})
}

func (r *Room) handleTypingStop(ev *protocol.TypingStop, from Subscriber) {
	identity := from.Identity()
	if !r.typing.Stop(identity.UserID, ev.ChannelID) {
		return
	}
	r.broadcast(&protocol.TypingStopEvent{
		Envelope:  protocol.Env(protocol.TypeTypingStop, r.nextSeq()),
		ChannelID: ev.ChannelID,
		UserID:    identity.UserID,
	})
}

func (r *Room) handleUserActivity(ev *protocol.UserActivity, from Subscriber) {
	identity := from.Identity()
	activity := models.Activity{
		UserID:    identity.UserID,
		UserName:  identity.DisplayName,
		Activity:  ev.Activity,
		Timestamp: r.opts.Now(),
		Details:   ev.Details,
	}
	r.activity.add(activity)
	r.broadcast(&protocol.UserActivityEvent{
		Envelope: protocol.Env(protocol.TypeUserActivity, r.nextSeq()),
		Activity: activity,
	})
}

func (r *Room) handleCreateMeeting(ev *protocol.CreateMeeting, from Subscriber) {
	meeting, err := r.meetings.Create(MeetingSpec{
		Title:       ev.Title,
		Description: ev.Description,
		ScheduledAt: ev.ScheduledAt,
	}, from.Identity())
	if err != nil {
		r.reject(from, ev, err)
		return
	}
	r.broadcast(&protocol.MeetingCreatedEvent{
		Envelope: protocol.Env(protocol.TypeMeetingCreated, r.nextSeq()),
		Ref:      ev.ClientRef(),
		Meeting:  meeting,
	})
}

func (r *Room) handleJoinMeeting(ev *protocol.JoinMeeting, from Subscriber) {
	meeting, changed, err := r.meetings.Join(ev.MeetingID, from.Identity())
	if err != nil {
		r.reject(from, ev, err)
		return
	}
	if !changed {
		return
	}
	r.broadcast(&protocol.MeetingUpdatedEvent{
		Envelope: protocol.Env(protocol.TypeMeetingUpdated, r.nextSeq()),
		Ref:      ev.ClientRef(),
		Meeting:  meeting,
	})
}

func (r *Room) handleMeetingAction(ev *protocol.MeetingAction, from Subscriber) {
	meeting, changed, err := r.meetings.Apply(ev.MeetingID, ev.Action, from.Identity())
	if err != nil {
		r.reject(from, ev, err)
		return
	}
	if !changed {
		return
	}
	r.broadcast(&protocol.MeetingUpdatedEvent{
		Envelope: protocol.Env(protocol.TypeMeetingUpdated, r.nextSeq()),
		Ref:      ev.ClientRef(),
		Meeting:  meeting,
	})
}

func (r *Room) requireMember(channelID, userID string) error {
	channel, err := r.channels.Get(channelID)
	if err != nil {
		return err
	}
	if !channel.IsMember(userID) {
		return &protocol.ForbiddenError{Reason: "not a member of this channel"}
	}
	return nil
}
