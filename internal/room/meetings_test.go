package room

import (
	"testing"
	"time"

	"collab-app/internal/auth"
	"collab-app/internal/models"
	"collab-app/internal/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var manager = auth.Identity{UserID: "dana", DisplayName: "Dana", Role: "manager"}

func newTestCoordinator(t *testing.T) (*MeetingCoordinator, *models.Meeting) {
	t.Helper()
	coordinator := NewMeetingCoordinator(time.Now)
	meeting, err := coordinator.Create(MeetingSpec{Title: "Quarterly review"}, alice)
	require.NoError(t, err)
	return coordinator, meeting
}

func TestCreateMeeting(t *testing.T) {
	coordinator := NewMeetingCoordinator(time.Now)

	_, err := coordinator.Create(MeetingSpec{Title: "  "}, alice)
	var validation *protocol.ValidationError
	require.ErrorAs(t, err, &validation)

	meeting, err := coordinator.Create(MeetingSpec{Title: "Standup"}, alice)
	require.NoError(t, err)
	assert.Equal(t, models.MeetingScheduled, meeting.Status)
	// Creator is auto-added as a participant.
	assert.Equal(t, []string{"alice"}, meeting.Participants)
	assert.Nil(t, meeting.StartedAt)
}

func TestMeetingTransitions(t *testing.T) {
	tests := []struct {
		name    string
		actions []string
		final   models.MeetingStatus
		failAt  int // index of the action expected to fail, -1 for none
	}{
		{"start pause resume end", []string{ActionStart, ActionPause, ActionStart, ActionEnd}, models.MeetingEnded, -1},
		{"cancel from scheduled", []string{ActionEnd}, models.MeetingEnded, -1},
		{"pause before start", []string{ActionPause}, models.MeetingScheduled, 0},
		{"double start", []string{ActionStart, ActionStart}, models.MeetingActive, 1},
		{"end twice", []string{ActionEnd, ActionEnd}, models.MeetingEnded, 1},
		{"start after end", []string{ActionEnd, ActionStart}, models.MeetingEnded, 1},
		{"pause after end", []string{ActionEnd, ActionPause}, models.MeetingEnded, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coordinator, meeting := newTestCoordinator(t)
			for i, action := range tt.actions {
				_, _, err := coordinator.Apply(meeting.ID, action, alice)
				if i == tt.failAt {
					var transition *protocol.InvalidTransitionError
					require.ErrorAs(t, err, &transition, "action %d (%s)", i, action)
				} else {
					require.NoError(t, err, "action %d (%s)", i, action)
				}
			}
			assert.Equal(t, tt.final, meeting.Status)
		})
	}
}

func TestMeetingStartedAtSetOnce(t *testing.T) {
	coordinator, meeting := newTestCoordinator(t)

	_, _, err := coordinator.Apply(meeting.ID, ActionStart, alice)
	require.NoError(t, err)
	require.NotNil(t, meeting.StartedAt)
	firstStart := *meeting.StartedAt

	_, _, err = coordinator.Apply(meeting.ID, ActionPause, alice)
	require.NoError(t, err)
	_, _, err = coordinator.Apply(meeting.ID, ActionStart, alice)
	require.NoError(t, err)
	assert.Equal(t, firstStart, *meeting.StartedAt)
}

func TestMeetingAuthorization(t *testing.T) {
	coordinator, meeting := newTestCoordinator(t)
	_, _, err := coordinator.Join(meeting.ID, bob)
	require.NoError(t, err)

	// A plain participant may not drive the state machine.
	_, _, err = coordinator.Apply(meeting.ID, ActionStart, bob)
	var forbidden *protocol.ForbiddenError
	require.ErrorAs(t, err, &forbidden)

	// An elevated role may, even without being the creator.
	_, changed, err := coordinator.Apply(meeting.ID, ActionStart, manager)
	require.NoError(t, err)
	assert.True(t, changed)

	// Leave is open to any participant.
	_, changed, err = coordinator.Apply(meeting.ID, ActionLeave, bob)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.False(t, meeting.HasParticipant("bob"))
}

func TestJoinMeeting(t *testing.T) {
	coordinator, meeting := newTestCoordinator(t)

	_, changed, err := coordinator.Join(meeting.ID, bob)
	require.NoError(t, err)
	assert.True(t, changed)

	// Idempotent if already present.
	_, changed, err = coordinator.Join(meeting.ID, bob)
	require.NoError(t, err)
	assert.False(t, changed)

	_, _, err = coordinator.Apply(meeting.ID, ActionEnd, alice)
	require.NoError(t, err)

	// Once ended, every transition attempt fails, join included.
	_, _, err = coordinator.Join(meeting.ID, carol)
	var transition *protocol.InvalidTransitionError
	require.ErrorAs(t, err, &transition)

	_, _, err = coordinator.Join("missing", carol)
	var notFound *protocol.NotFoundError
	require.ErrorAs(t, err, &notFound)
}
