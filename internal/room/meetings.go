package room

import (
	"slices"
	"strings"
	"time"

	"collab-app/internal/auth"
	"collab-app/internal/models"
	"collab-app/internal/protocol"

	"github.com/google/uuid"
)

// Meeting actions carried by the meeting_action frame.
const (
	ActionStart = "start"
	ActionPause = "pause"
	ActionEnd   = "end"
	ActionLeave = "leave"
)

// MeetingCoordinator owns the meeting state machines for one room. Called
// only from the room's worker goroutine.
type MeetingCoordinator struct {
	meetings map[string]*models.Meeting
	now      func() time.Time
}

func NewMeetingCoordinator(now func() time.Time) *MeetingCoordinator {
	return &MeetingCoordinator{
		meetings: make(map[string]*models.Meeting),
		now:      now,
	}
}

type MeetingSpec struct {
	Title       string
	Description string
	ScheduledAt time.Time
}

// Create schedules a meeting; the creator is auto-added as a participant.
func (c *MeetingCoordinator) Create(spec MeetingSpec, creator auth.Identity) (*models.Meeting, error) {
	if strings.TrimSpace(spec.Title) == "" {
		return nil, &protocol.ValidationError{Reason: "meeting title is required"}
	}
	scheduledAt := spec.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = c.now()
	}
	meeting := &models.Meeting{
		ID:           uuid.NewString(),
		Title:        strings.TrimSpace(spec.Title),
		Description:  spec.Description,
		ScheduledAt:  scheduledAt,
		CreatorID:    creator.UserID,
		Participants: []string{creator.UserID},
		Status:       models.MeetingScheduled,
		CreatedAt:    c.now(),
	}
	c.meetings[meeting.ID] = meeting
	return meeting, nil
}

func (c *MeetingCoordinator) Get(meetingID string) (*models.Meeting, error) {
	meeting, ok := c.meetings[meetingID]
	if !ok {
		return nil, &protocol.NotFoundError{Kind: "meeting", ID: meetingID}
	}
	return meeting, nil
}

// Join adds a participant. Legal in any non-terminal state and idempotent if
// the user is already in the roster.
func (c *MeetingCoordinator) Join(meetingID string, user auth.Identity) (*models.Meeting, bool, error) {
	meeting, err := c.Get(meetingID)
	if err != nil {
		return nil, false, err
	}
	if meeting.Status == models.MeetingEnded {
		return nil, false, &protocol.InvalidTransitionError{From: string(meeting.Status), To: "join"}
	}
	if meeting.HasParticipant(user.UserID) {
		return meeting, false, nil
	}
	meeting.Participants = append(meeting.Participants, user.UserID)
	return meeting, true, nil
}

// Apply runs one state-machine action. Start, pause, and end are restricted
// to the creator or an elevated role; leave is open to any participant.
func (c *MeetingCoordinator) Apply(meetingID, action string, requester auth.Identity) (*models.Meeting, bool, error) {
	meeting, err := c.Get(meetingID)
	if err != nil {
		return nil, false, err
	}

	if action == ActionLeave {
		idx := slices.Index(meeting.Participants, requester.UserID)
		if idx < 0 {
			return meeting, false, nil
		}
		meeting.Participants = slices.Delete(meeting.Participants, idx, idx+1)
		return meeting, true, nil
	}

	if meeting.CreatorID != requester.UserID && !requester.Elevated() {
		return nil, false, &protocol.ForbiddenError{Reason: "only the meeting creator or an elevated role may " + action}
	}

	switch action {
	case ActionStart:
		if meeting.Status != models.MeetingScheduled && meeting.Status != models.MeetingPaused {
			return nil, false, &protocol.InvalidTransitionError{From: string(meeting.Status), To: string(models.MeetingActive)}
		}
		meeting.Status = models.MeetingActive
		// StartedAt is set on the first transition into active only.
		if meeting.StartedAt == nil {
			startedAt := c.now()
			meeting.StartedAt = &startedAt
		}
	case ActionPause:
		if meeting.Status != models.MeetingActive {
			return nil, false, &protocol.InvalidTransitionError{From: string(meeting.Status), To: string(models.MeetingPaused)}
		}
		meeting.Status = models.MeetingPaused
	case ActionEnd:
		if meeting.Status == models.MeetingEnded {
			return nil, false, &protocol.InvalidTransitionError{From: string(meeting.Status), To: string(models.MeetingEnded)}
		}
		meeting.Status = models.MeetingEnded
		endedAt := c.now()
		meeting.EndedAt = &endedAt
	default:
		return nil, false, &protocol.ValidationError{Reason: "unknown meeting action " + action}
	}
	return meeting, true, nil
}

func (c *MeetingCoordinator) All() []*models.Meeting {
	meetings := make([]*models.Meeting, 0, len(c.meetings))
	for _, meeting := range c.meetings {
		meetings = append(meetings, meeting)
	}
	slices.SortFunc(meetings, func(a, b *models.Meeting) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return meetings
}
