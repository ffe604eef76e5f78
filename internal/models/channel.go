package models

import (
	"maps"
	"slices"
	"time"
)

type ChannelType string

const (
	ChannelPublic  ChannelType = "public"
	ChannelPrivate ChannelType = "private"
	ChannelDirect  ChannelType = "direct"
)

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageSystem MessageType = "system"
	MessageFile   MessageType = "file"
	MessageImage  MessageType = "image"
)

// Channel is a named sub-scope of a room holding an ordered message history.
// A direct channel has exactly two members; the member set is never empty
// while the channel exists.
type Channel struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Type        ChannelType `json:"channelType"`
	Members     []string    `json:"members"`
	CreatorID   string      `json:"creatorId"`
	CreatedAt   time.Time   `json:"createdAt"`
	// LastMessage is denormalized for channel list views.
	LastMessage *Message       `json:"lastMessage,omitempty"`
	Unread      map[string]int `json:"unread,omitempty"`
}

func (c *Channel) IsMember(userID string) bool {
	return slices.Contains(c.Members, userID)
}

// Clone returns a copy with its own member list and unread counters.
func (c *Channel) Clone() *Channel {
	clone := *c
	clone.Members = slices.Clone(c.Members)
	if c.Unread != nil {
		clone.Unread = maps.Clone(c.Unread)
	}
	return &clone
}

type Attachment struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	URL      string `json:"url"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Message is immutable after creation except for Content/Edited (explicit
// edit by the author) and Reactions (add/remove).
type Message struct {
	ID           string              `json:"id"`
	ChannelID    string              `json:"channelId"`
	Type         MessageType         `json:"messageType"`
	Content      string              `json:"content"`
	AuthorID     string              `json:"authorId"`
	AuthorName   string              `json:"authorName"`
	AuthorAvatar string              `json:"authorAvatar,omitempty"`
	Timestamp    time.Time           `json:"timestamp"`
	ReplyTo      string              `json:"replyTo,omitempty"`
	Attachments  []Attachment        `json:"attachments,omitempty"`
	Reactions    map[string][]string `json:"reactions,omitempty"`
	Edited       bool                `json:"edited,omitempty"`
	EditedAt     *time.Time          `json:"editedAt,omitempty"`
}

// Clone returns a copy safe to hand outside the room's worker goroutine.
func (m *Message) Clone() *Message {
	clone := *m
	if m.Attachments != nil {
		clone.Attachments = slices.Clone(m.Attachments)
	}
	if m.Reactions != nil {
		clone.Reactions = make(map[string][]string, len(m.Reactions))
		for emoji, users := range m.Reactions {
			clone.Reactions[emoji] = slices.Clone(users)
		}
	}
	if m.EditedAt != nil {
		editedAt := *m.EditedAt
		clone.EditedAt = &editedAt
	}
	return &clone
}
