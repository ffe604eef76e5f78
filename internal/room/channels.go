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

// ChannelStore owns channel membership and message history for one room. It
// is only ever called from the room's worker goroutine.
type ChannelStore struct {
	channels map[string]*models.Channel
	history  map[string][]*models.Message
	// evicted marks channels whose oldest messages fell out of retention, so
	// backfill can distinguish "short history" from "older history archived".
	evicted   map[string]bool
	retention int
	now       func() time.Time
}

func NewChannelStore(retention int, now func() time.Time) *ChannelStore {
	return &ChannelStore{
		channels:  make(map[string]*models.Channel),
		history:   make(map[string][]*models.Message),
		evicted:   make(map[string]bool),
		retention: retention,
		now:       now,
	}
}

type ChannelSpec struct {
	Name        string
	Description string
	Type        models.ChannelType
	MemberIDs   []string
}

// Create validates and creates a channel. The creator is always a member;
// direct channels must end up with exactly two members.
func (s *ChannelStore) Create(spec ChannelSpec, creator auth.Identity) (*models.Channel, error) {
	members := []string{creator.UserID}
	for _, id := range spec.MemberIDs {
		if id != "" && !slices.Contains(members, id) {
			members = append(members, id)
		}
	}

	switch spec.Type {
	case models.ChannelDirect:
		if len(members) != 2 {
			return nil, &protocol.ValidationError{Reason: "direct channel requires exactly two members"}
		}
	case models.ChannelPublic, models.ChannelPrivate:
		if strings.TrimSpace(spec.Name) == "" {
			return nil, &protocol.ValidationError{Reason: "channel name is required"}
		}
	default:
		return nil, &protocol.ValidationError{Reason: "unknown channel type"}
	}

	channel := &models.Channel{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(spec.Name),
		Description: spec.Description,
		Type:        spec.Type,
		Members:     members,
		CreatorID:   creator.UserID,
		CreatedAt:   s.now(),
		Unread:      make(map[string]int),
	}
	s.channels[channel.ID] = channel
	return channel, nil
}

// EnsureDefault lazily creates the room's default public channel and returns
// it. The first attached user becomes its creator.
func (s *ChannelStore) EnsureDefault(name string, creator auth.Identity) *models.Channel {
	for _, channel := range s.channels {
		if channel.Type == models.ChannelPublic && channel.Name == name {
			return channel
		}
	}
	channel := &models.Channel{
		ID:        uuid.NewString(),
		Name:      name,
		Type:      models.ChannelPublic,
		Members:   []string{creator.UserID},
		CreatorID: creator.UserID,
		CreatedAt: s.now(),
		Unread:    make(map[string]int),
	}
	s.channels[channel.ID] = channel
	return channel
}

func (s *ChannelStore) Get(channelID string) (*models.Channel, error) {
	channel, ok := s.channels[channelID]
	if !ok {
		return nil, &protocol.NotFoundError{Kind: "channel", ID: channelID}
	}
	return channel, nil
}

// Join adds the user to a public channel, or verifies membership of a
// private/direct one. It reports whether the member set changed.
func (s *ChannelStore) Join(channelID string, user auth.Identity) (*models.Channel, bool, error) {
	channel, err := s.Get(channelID)
	if err != nil {
		return nil, false, err
	}
	if channel.IsMember(user.UserID) {
		channel.Unread[user.UserID] = 0
		return channel, false, nil
	}
	if channel.Type != models.ChannelPublic {
		return nil, false, &protocol.ForbiddenError{Reason: "not a member of this channel"}
	}
	channel.Members = append(channel.Members, user.UserID)
	channel.Unread[user.UserID] = 0
	return channel, true, nil
}

// Leave removes the user. The member set is never empty while the channel
// exists, so removing the last member deletes the channel.
func (s *ChannelStore) Leave(channelID, userID string) (removed, deleted bool, err error) {
	channel, err := s.Get(channelID)
	if err != nil {
		return false, false, err
	}
	idx := slices.Index(channel.Members, userID)
	if idx < 0 {
		return false, false, nil
	}
	channel.Members = slices.Delete(channel.Members, idx, idx+1)
	delete(channel.Unread, userID)
	if len(channel.Members) == 0 {
		delete(s.channels, channelID)
		delete(s.history, channelID)
		delete(s.evicted, channelID)
		return true, true, nil
	}
	return true, false, nil
}

type MessageDraft struct {
	Content     string
	Type        models.MessageType
	ReplyTo     string
	Attachments []models.Attachment
}

// Append accepts a message draft from a channel member, assigns id and server
// timestamp, and updates the denormalized lastMessage and unread counters.
func (s *ChannelStore) Append(channelID string, draft MessageDraft, author auth.Identity) (*models.Message, error) {
	channel, err := s.Get(channelID)
	if err != nil {
		return nil, err
	}
	if !channel.IsMember(author.UserID) {
		return nil, &protocol.ForbiddenError{Reason: "not a member of this channel"}
	}
	if strings.TrimSpace(draft.Content) == "" && len(draft.Attachments) == 0 {
		return nil, &protocol.ValidationError{Reason: "message content is required"}
	}

	messageType := draft.Type
	if messageType == "" {
		messageType = models.MessageText
	}

	message := &models.Message{
		ID:           uuid.NewString(),
		ChannelID:    channelID,
		Type:         messageType,
		Content:      draft.Content,
		AuthorID:     author.UserID,
		AuthorName:   author.DisplayName,
		AuthorAvatar: author.AvatarRef,
		Timestamp:    s.now(),
		ReplyTo:      draft.ReplyTo,
		Attachments:  draft.Attachments,
	}

	s.history[channelID] = append(s.history[channelID], message)
	if excess := len(s.history[channelID]) - s.retention; excess > 0 {
		s.history[channelID] = slices.Delete(s.history[channelID], 0, excess)
		s.evicted[channelID] = true
	}

	channel.LastMessage = message
	for _, member := range channel.Members {
		if member != author.UserID {
			channel.Unread[member]++
		}
	}
	return message, nil
}

// Edit replaces a message's content. Only the original author may edit; the
// id, channel, author, and original timestamp never change.
func (s *ChannelStore) Edit(channelID, messageID, content string, requester auth.Identity) (*models.Message, error) {
	message, err := s.find(channelID, messageID)
	if err != nil {
		return nil, err
	}
	if message.AuthorID != requester.UserID {
		return nil, &protocol.ForbiddenError{Reason: "only the author may edit a message"}
	}
	if strings.TrimSpace(content) == "" {
		return nil, &protocol.ValidationError{Reason: "message content is required"}
	}
	editedAt := s.now()
	message.Content = content
	message.Edited = true
	message.EditedAt = &editedAt
	return message, nil
}

// React adds or removes a reaction. Both directions are idempotent: adding a
// reaction the user already gave, or removing one they never gave, reports
// changed=false rather than failing.
func (s *ChannelStore) React(channelID, messageID, emoji, userID string, add bool) (*models.Message, bool, error) {
	message, err := s.find(channelID, messageID)
	if err != nil {
		return nil, false, err
	}
	if emoji == "" {
		return nil, false, &protocol.ValidationError{Reason: "emoji is required"}
	}

	users := message.Reactions[emoji]
	idx := slices.Index(users, userID)
	if add {
		if idx >= 0 {
			return message, false, nil
		}
		if message.Reactions == nil {
			message.Reactions = make(map[string][]string)
		}
		message.Reactions[emoji] = append(users, userID)
		return message, true, nil
	}
	if idx < 0 {
		return message, false, nil
	}
	message.Reactions[emoji] = slices.Delete(users, idx, idx+1)
	if len(message.Reactions[emoji]) == 0 {
		delete(message.Reactions, emoji)
	}
	return message, true, nil
}

// History returns up to limit most recent messages in chronological order.
// Truncated is set when the request exceeded the retained window, so the
// client knows older history exists only in the archive.
func (s *ChannelStore) History(channelID string, limit int, requester auth.Identity) ([]*models.Message, bool, error) {
	channel, err := s.Get(channelID)
	if err != nil {
		return nil, false, err
	}
	if !channel.IsMember(requester.UserID) {
		return nil, false, &protocol.ForbiddenError{Reason: "not a member of this channel"}
	}

	history := s.history[channelID]
	if limit <= 0 || limit > len(history) {
		truncated := limit > len(history) && s.evicted[channelID]
		return slices.Clone(history), truncated, nil
	}
	return slices.Clone(history[len(history)-limit:]), false, nil
}

func (s *ChannelStore) All() []*models.Channel {
	channels := make([]*models.Channel, 0, len(s.channels))
	for _, channel := range s.channels {
		channels = append(channels, channel)
	}
	slices.SortFunc(channels, func(a, b *models.Channel) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return channels
}

func (s *ChannelStore) find(channelID, messageID string) (*models.Message, error) {
	if _, err := s.Get(channelID); err != nil {
		return nil, err
	}
	history := s.history[channelID]
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].ID == messageID {
			return history[i], nil
		}
	}
	return nil, &protocol.NotFoundError{Kind: "message", ID: messageID}
}
