package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"collab-app/internal/models"
)

// Frame type discriminators. Inbound and outbound share the namespace;
// typing_start and typing_stop appear in both directions.
const (
	// Inbound
	TypeJoinChannel    = "join_channel"
	TypeLeaveChannel   = "leave_channel"
	TypeCreateChannel  = "create_channel"
	TypeSendMessage    = "send_message"
	TypeEditMessage    = "edit_message"
	TypeAddReaction    = "add_reaction"
	TypeRemoveReaction = "remove_reaction"
	TypeTypingStart    = "typing_start"
	TypeTypingStop     = "typing_stop"
	TypeUserActivity   = "user_activity"
	TypeCreateMeeting  = "create_meeting"
	TypeJoinMeeting    = "join_meeting"
	TypeMeetingAction  = "meeting_action"

	// Outbound
	TypeRoomState      = "room_state"
	TypeUserJoined     = "user_joined"
	TypeUserLeft       = "user_left"
	TypeMessage        = "message"
	TypeMessageUpdated = "message_updated"
	TypeChannelCreated = "channel_created"
	TypeMemberJoined   = "member_joined"
	TypeMemberLeft     = "member_left"
	TypeMeetingCreated = "meeting_created"
	TypeMeetingUpdated = "meeting_updated"
	TypeChannelHistory = "channel_history"
	TypeError          = "error"
)

// Inbound is the closed set of client-to-server events. Adding a new event
// means adding a struct here, a case in DecodeInbound, and a case in the room
// hub's dispatch; the compiler flags any handler that misses the new type.
type Inbound interface {
	isInbound()
	// ClientRef is the optional client-chosen correlation id, echoed on the
	// resulting broadcast or rejection.
	ClientRef() string
}

type inboundRef struct {
	Ref string `json:"ref,omitempty"`
}

func (r inboundRef) ClientRef() string { return r.Ref }

type JoinChannel struct {
	Type string `json:"type"`
	inboundRef
	ChannelID string `json:"channelId"`
	// Limit bounds the history backfill; zero means the server default.
	Limit int `json:"limit,omitempty"`
}

type LeaveChannel struct {
	Type string `json:"type"`
	inboundRef
	ChannelID string `json:"channelId"`
}

type CreateChannel struct {
	Type string `json:"type"`
	inboundRef
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	ChannelType models.ChannelType `json:"channelType"`
	MemberIDs   []string           `json:"memberIds,omitempty"`
}

type SendMessage struct {
	Type string `json:"type"`
	inboundRef
	ChannelID   string              `json:"channelId"`
	Content     string              `json:"content"`
	MessageType models.MessageType  `json:"messageType,omitempty"`
	ReplyTo     string              `json:"replyTo,omitempty"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
}

type EditMessage struct {
	Type string `json:"type"`
	inboundRef
	ChannelID string `json:"channelId"`
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

type AddReaction struct {
	Type string `json:"type"`
	inboundRef
	ChannelID string `json:"channelId"`
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

type RemoveReaction struct {
	Type string `json:"type"`
	inboundRef
	ChannelID string `json:"channelId"`
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

type TypingStart struct {
	Type string `json:"type"`
	inboundRef
	ChannelID string `json:"channelId"`
}

type TypingStop struct {
	Type string `json:"type"`
	inboundRef
	ChannelID string `json:"channelId"`
}

type UserActivity struct {
	Type string `json:"type"`
	inboundRef
	Activity string `json:"activity"`
	Details  string `json:"details,omitempty"`
}

type CreateMeeting struct {
	Type string `json:"type"`
	inboundRef
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	ScheduledAt time.Time `json:"scheduledAt"`
}

type JoinMeeting struct {
	Type string `json:"type"`
	inboundRef
	MeetingID string `json:"meetingId"`
}

// MeetingAction carries start, pause, end, or leave.
type MeetingAction struct {
	Type string `json:"type"`
	inboundRef
	MeetingID string `json:"meetingId"`
	Action    string `json:"action"`
}

func (*JoinChannel) isInbound()    {}
func (*LeaveChannel) isInbound()   {}
func (*CreateChannel) isInbound()  {}
func (*SendMessage) isInbound()    {}
func (*EditMessage) isInbound()    {}
func (*AddReaction) isInbound()    {}
func (*RemoveReaction) isInbound() {}
func (*TypingStart) isInbound()    {}
func (*TypingStop) isInbound()     {}
func (*UserActivity) isInbound()   {}
func (*CreateMeeting) isInbound()  {}
func (*JoinMeeting) isInbound()    {}
func (*MeetingAction) isInbound()  {}

// DecodeInbound parses one wire frame into its typed event. Unknown or
// malformed frames yield a ProtocolError; the caller drops them.
func DecodeInbound(data []byte) (Inbound, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, &ProtocolError{Reason: "malformed frame: " + err.Error()}
	}

	var event Inbound
	switch head.Type {
	case TypeJoinChannel:
		event = &JoinChannel{}
	case TypeLeaveChannel:
		event = &LeaveChannel{}
	case TypeCreateChannel:
		event = &CreateChannel{}
	case TypeSendMessage:
		event = &SendMessage{}
	case TypeEditMessage:
		event = &EditMessage{}
	case TypeAddReaction:
		event = &AddReaction{}
	case TypeRemoveReaction:
		event = &RemoveReaction{}
	case TypeTypingStart:
		event = &TypingStart{}
	case TypeTypingStop:
		event = &TypingStop{}
	case TypeUserActivity:
		event = &UserActivity{}
	case TypeCreateMeeting:
		event = &CreateMeeting{}
	case TypeJoinMeeting:
		event = &JoinMeeting{}
	case TypeMeetingAction:
		event = &MeetingAction{}
	default:
		return nil, &ProtocolError{Reason: fmt.Sprintf("unknown event type %q", head.Type)}
	}

	if err := json.Unmarshal(data, event); err != nil {
		return nil, &ProtocolError{Reason: "malformed frame: " + err.Error()}
	}
	return event, nil
}

// EncodeInbound serializes a client event, stamping the type discriminator so
// callers never set it by hand.
func EncodeInbound(event Inbound) ([]byte, error) {
	switch f := event.(type) {
	case *JoinChannel:
		f.Type = TypeJoinChannel
	case *LeaveChannel:
		f.Type = TypeLeaveChannel
	case *CreateChannel:
		f.Type = TypeCreateChannel
	case *SendMessage:
		f.Type = TypeSendMessage
	case *EditMessage:
		f.Type = TypeEditMessage
	case *AddReaction:
		f.Type = TypeAddReaction
	case *RemoveReaction:
		f.Type = TypeRemoveReaction
	case *TypingStart:
		f.Type = TypeTypingStart
	case *TypingStop:
		f.Type = TypeTypingStop
	case *UserActivity:
		f.Type = TypeUserActivity
	case *CreateMeeting:
		f.Type = TypeCreateMeeting
	case *JoinMeeting:
		f.Type = TypeJoinMeeting
	case *MeetingAction:
		f.Type = TypeMeetingAction
	default:
		return nil, fmt.Errorf("unencodable inbound event %T", event)
	}
	return json.Marshal(event)
}
