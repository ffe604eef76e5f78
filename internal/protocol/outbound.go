package protocol

import (
	"encoding/json"
	"fmt"

	"collab-app/internal/models"
)

// Envelope heads every server-to-client frame. Sequence is the per-room
// monotonic counter; direct replies (channel_history, error) carry none.
type Envelope struct {
	Type     string `json:"type"`
	Sequence uint64 `json:"sequence,omitempty"`
}

func Env(eventType string, sequence uint64) Envelope {
	return Envelope{Type: eventType, Sequence: sequence}
}

func (e Envelope) EventType() string { return e.Type }
func (e Envelope) Seq() uint64       { return e.Sequence }

// Outbound is the closed set of server-to-client frames.
type Outbound interface {
	isOutbound()
	EventType() string
	Seq() uint64
}

type RoomStateEvent struct {
	Envelope
	SessionID string              `json:"sessionId,omitempty"`
	Snapshot  models.RoomSnapshot `json:"snapshot"`
}

type UserJoinedEvent struct {
	Envelope
	User models.RosterUser `json:"user"`
}

type UserLeftEvent struct {
	Envelope
	UserID string `json:"userId"`
}

type MessageEvent struct {
	Envelope
	Ref     string          `json:"ref,omitempty"`
	Message *models.Message `json:"message"`
}

type MessageUpdatedEvent struct {
	Envelope
	Ref     string          `json:"ref,omitempty"`
	Message *models.Message `json:"message"`
}

type ChannelCreatedEvent struct {
	Envelope
	Ref     string          `json:"ref,omitempty"`
	Channel *models.Channel `json:"channel"`
}

type MemberJoinedEvent struct {
	Envelope
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
}

type MemberLeftEvent struct {
	Envelope
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId"`
}

type TypingStartEvent struct {
	Envelope
	Typing models.TypingIndicator `json:"typing"`
}

type TypingStopEvent struct {
	Envelope
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId"`
}

type MeetingCreatedEvent struct {
	Envelope
	Ref     string          `json:"ref,omitempty"`
	Meeting *models.Meeting `json:"meeting"`
}

type MeetingUpdatedEvent struct {
	Envelope
	Ref     string          `json:"ref,omitempty"`
	Meeting *models.Meeting `json:"meeting"`
}

type UserActivityEvent struct {
	Envelope
	Activity models.Activity `json:"activity"`
}

type ChannelHistoryEvent struct {
	Envelope
	ChannelID string            `json:"channelId"`
	Messages  []*models.Message `json:"messages"`
	// Truncated signals the requested range exceeded retained history.
	Truncated bool `json:"truncated,omitempty"`
}

type ErrorFrame struct {
	Envelope
	Code    string `json:"code"`
	Message string `json:"message"`
	Ref     string `json:"ref,omitempty"`
}

func (*RoomStateEvent) isOutbound()      {}
func (*UserJoinedEvent) isOutbound()     {}
func (*UserLeftEvent) isOutbound()       {}
func (*MessageEvent) isOutbound()        {}
func (*MessageUpdatedEvent) isOutbound() {}
func (*ChannelCreatedEvent) isOutbound() {}
func (*MemberJoinedEvent) isOutbound()   {}
func (*MemberLeftEvent) isOutbound()     {}
func (*TypingStartEvent) isOutbound()    {}
func (*TypingStopEvent) isOutbound()     {}
func (*MeetingCreatedEvent) isOutbound() {}
func (*MeetingUpdatedEvent) isOutbound() {}
func (*UserActivityEvent) isOutbound()   {}
func (*ChannelHistoryEvent) isOutbound() {}
func (*ErrorFrame) isOutbound()          {}

// Ephemeral frames may be shed under backpressure on a slow client; messages
// and meeting-state events are only ever delayed.
func Ephemeral(eventType string) bool {
	switch eventType {
	case TypeTypingStart, TypeTypingStop, TypeUserActivity, TypeUserJoined, TypeUserLeft:
		return true
	}
	return false
}

// Frame is a marshaled outbound event ready for fan-out; the hub encodes each
// broadcast once, not per session.
type Frame struct {
	Type      string
	Ephemeral bool
	Data      []byte
}

func MarshalFrame(event Outbound) (Frame, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal %s frame: %w", event.EventType(), err)
	}
	return Frame{
		Type:      event.EventType(),
		Ephemeral: Ephemeral(event.EventType()),
		Data:      data,
	}, nil
}

// DecodeOutbound parses a server frame on the client side.
func DecodeOutbound(data []byte) (Outbound, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, &ProtocolError{Reason: "malformed frame: " + err.Error()}
	}

	var event Outbound
	switch head.Type {
	case TypeRoomState:
		event = &RoomStateEvent{}
	case TypeUserJoined:
		event = &UserJoinedEvent{}
	case TypeUserLeft:
		event = &UserLeftEvent{}
	case TypeMessage:
		event = &MessageEvent{}
	case TypeMessageUpdated:
		event = &MessageUpdatedEvent{}
	case TypeChannelCreated:
		event = &ChannelCreatedEvent{}
	case TypeMemberJoined:
		event = &MemberJoinedEvent{}
	case TypeMemberLeft:
		event = &MemberLeftEvent{}
	case TypeTypingStart:
		event = &TypingStartEvent{}
	case TypeTypingStop:
		event = &TypingStopEvent{}
	case TypeMeetingCreated:
		event = &MeetingCreatedEvent{}
	case TypeMeetingUpdated:
		event = &MeetingUpdatedEvent{}
	case TypeUserActivity:
		event = &UserActivityEvent{}
	case TypeChannelHistory:
		event = &ChannelHistoryEvent{}
	case TypeError:
		event = &ErrorFrame{}
	default:
		return nil, &ProtocolError{Reason: fmt.Sprintf("unknown event type %q", head.Type)}
	}

	if err := json.Unmarshal(data, event); err != nil {
		return nil, &ProtocolError{Reason: "malformed frame: " + err.Error()}
	}
	return event, nil
}
