package models

import (
	"slices"
	"time"
)

type MeetingStatus string

const (
	MeetingScheduled MeetingStatus = "scheduled"
	MeetingActive    MeetingStatus = "active"
	MeetingPaused    MeetingStatus = "paused"
	MeetingEnded     MeetingStatus = "ended"
)

// Meeting is a collaborative session governed by the state machine
// scheduled -> active <-> paused -> ended, with scheduled -> ended as
// cancellation. Ended is terminal.
type Meeting struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Description  string        `json:"description,omitempty"`
	ScheduledAt  time.Time     `json:"scheduledAt"`
	CreatorID    string        `json:"creatorId"`
	Participants []string      `json:"participants"`
	Status       MeetingStatus `json:"status"`
	CreatedAt    time.Time     `json:"createdAt"`
	StartedAt    *time.Time    `json:"startedAt,omitempty"`
	EndedAt      *time.Time    `json:"endedAt,omitempty"`
}

func (m *Meeting) HasParticipant(userID string) bool {
	return slices.Contains(m.Participants, userID)
}

func (m *Meeting) Clone() *Meeting {
	clone := *m
	clone.Participants = slices.Clone(m.Participants)
	if m.StartedAt != nil {
		startedAt := *m.StartedAt
		clone.StartedAt = &startedAt
	}
	if m.EndedAt != nil {
		endedAt := *m.EndedAt
		clone.EndedAt = &endedAt
	}
	return &clone
}
