package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInbound(t *testing.T) {
	t.Run("send_message", func(t *testing.T) {
		event, err := DecodeInbound([]byte(`{"type":"send_message","channelId":"ch1","content":"hello","ref":"r1"}`))
		require.NoError(t, err)

		send, ok := event.(*SendMessage)
		require.True(t, ok)
		assert.Equal(t, "ch1", send.ChannelID)
		assert.Equal(t, "hello", send.Content)
		assert.Equal(t, "r1", send.ClientRef())
	})

	t.Run("meeting_action", func(t *testing.T) {
		event, err := DecodeInbound([]byte(`{"type":"meeting_action","meetingId":"m1","action":"start"}`))
		require.NoError(t, err)

		action, ok := event.(*MeetingAction)
		require.True(t, ok)
		assert.Equal(t, "m1", action.MeetingID)
		assert.Equal(t, "start", action.Action)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := DecodeInbound([]byte(`{"type":"explode"}`))
		var protoErr *ProtocolError
		require.ErrorAs(t, err, &protoErr)
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := DecodeInbound([]byte(`{"type":`))
		var protoErr *ProtocolError
		require.ErrorAs(t, err, &protoErr)
	})
}

func TestEncodeInboundStampsType(t *testing.T) {
	data, err := EncodeInbound(&TypingStart{ChannelID: "ch1"})
	require.NoError(t, err)

	event, err := DecodeInbound(data)
	require.NoError(t, err)
	typing, ok := event.(*TypingStart)
	require.True(t, ok)
	assert.Equal(t, "ch1", typing.ChannelID)
}

func TestDecodeOutboundRoundTrip(t *testing.T) {
	original := &TypingStopEvent{
		Envelope:  Env(TypeTypingStop, 7),
		ChannelID: "ch1",
		UserID:    "u1",
	}
	frame, err := MarshalFrame(original)
	require.NoError(t, err)
	assert.True(t, frame.Ephemeral)

	decoded, err := DecodeOutbound(frame.Data)
	require.NoError(t, err)
	stop, ok := decoded.(*TypingStopEvent)
	require.True(t, ok)
	assert.Equal(t, uint64(7), stop.Seq())
	assert.Equal(t, "ch1", stop.ChannelID)
	assert.Equal(t, "u1", stop.UserID)
}

func TestEphemeralClassification(t *testing.T) {
	ephemeral := []string{TypeTypingStart, TypeTypingStop, TypeUserActivity, TypeUserJoined, TypeUserLeft}
	for _, eventType := range ephemeral {
		assert.True(t, Ephemeral(eventType), eventType)
	}
	durable := []string{TypeMessage, TypeMessageUpdated, TypeMeetingCreated, TypeMeetingUpdated, TypeRoomState, TypeChannelHistory, TypeError}
	for _, eventType := range durable {
		assert.False(t, Ephemeral(eventType), eventType)
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{&AuthenticationError{Reason: "x"}, CodeAuthentication},
		{&ProtocolError{Reason: "x"}, CodeProtocol},
		{&ValidationError{Reason: "x"}, CodeValidation},
		{&ForbiddenError{Reason: "x"}, CodeForbidden},
		{&InvalidTransitionError{From: "ended", To: "active"}, CodeInvalidTransition},
		{&NotFoundError{Kind: "channel", ID: "c"}, CodeNotFound},
		{errors.New("boom"), CodeInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, CodeOf(tt.err), tt.err.Error())
	}
}

func TestRejectCarriesRef(t *testing.T) {
	frame := Reject(&ForbiddenError{Reason: "nope"}, "ref-9")
	assert.Equal(t, TypeError, frame.EventType())
	assert.Equal(t, CodeForbidden, frame.Code)
	assert.Equal(t, "ref-9", frame.Ref)
	assert.Zero(t, frame.Seq())
}
