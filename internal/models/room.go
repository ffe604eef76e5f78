package models

import "time"

// RosterUser is one online user in a room, aggregated across that user's
// sessions (multi-tab). Presence itself is tracked per session; this is the
// deduplicated view sent to clients.
type RosterUser struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	AvatarRef   string    `json:"avatarRef,omitempty"`
	Role        string    `json:"role,omitempty"`
	Sessions    int       `json:"sessions"`
	LastSeen    time.Time `json:"lastSeen"`
}

// Activity is a broadcast-only "user did X" event. A bounded ring of recent
// activity is kept per room so late joiners get some context.
type Activity struct {
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	Activity  string    `json:"activity"`
	Timestamp time.Time `json:"timestamp"`
	Details   string    `json:"details,omitempty"`
}

// RoomSnapshot is the authoritative state handed to a session on (re)join.
// Sequence is the last sequence number assigned by the room, so a client can
// resume duplicate detection from it.
type RoomSnapshot struct {
	RoomID   string            `json:"roomId"`
	Sequence uint64            `json:"sequence"`
	Roster   []RosterUser      `json:"roster"`
	Channels []*Channel        `json:"channels"`
	Meetings []*Meeting        `json:"meetings"`
	Typing   []TypingIndicator `json:"typing,omitempty"`
	Activity []Activity        `json:"activity,omitempty"`
}

// TypingIndicator is ephemeral: any indicator older than the typing TTL is
// treated as absent even if no explicit stop was ever observed.
type TypingIndicator struct {
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	ChannelID string    `json:"channelId"`
	Timestamp time.Time `json:"timestamp"`
}
