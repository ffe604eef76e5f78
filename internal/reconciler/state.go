package reconciler

import (
	"maps"
	"slices"
	"time"

	"collab-app/internal/models"
)

type typingKey struct {
	channelID string
	userID    string
}

// State is the client-side mirror of one room, built purely from the server's
// ordered event stream. It never invents state: snapshots replace it
// wholesale and live events patch it forward.
type State struct {
	RoomID   string
	Roster   map[string]models.RosterUser
	Channels map[string]*models.Channel
	Messages map[string][]*models.Message
	Meetings map[string]*models.Meeting
	Activity []models.Activity

	typing map[typingKey]models.TypingIndicator
}

func newState() *State {
	return &State{
		Roster:   make(map[string]models.RosterUser),
		Channels: make(map[string]*models.Channel),
		Messages: make(map[string][]*models.Message),
		Meetings: make(map[string]*models.Meeting),
		typing:   make(map[typingKey]models.TypingIndicator),
	}
}

func stateFromSnapshot(snapshot models.RoomSnapshot) *State {
	s := newState()
	s.RoomID = snapshot.RoomID
	for _, user := range snapshot.Roster {
		s.Roster[user.UserID] = user
	}
	for _, channel := range snapshot.Channels {
		s.Channels[channel.ID] = channel
	}
	for _, meeting := range snapshot.Meetings {
		s.Meetings[meeting.ID] = meeting
	}
	for _, indicator := range snapshot.Typing {
		s.typing[typingKey{channelID: indicator.ChannelID, userID: indicator.UserID}] = indicator
	}
	s.Activity = slices.Clone(snapshot.Activity)
	return s
}

// clone returns a detached copy: the apply loop can keep mutating the live
// state without invalidating anything a renderer holds.
func (s *State) clone() *State {
	c := &State{
		RoomID:   s.RoomID,
		Roster:   maps.Clone(s.Roster),
		Channels: make(map[string]*models.Channel, len(s.Channels)),
		Messages: make(map[string][]*models.Message, len(s.Messages)),
		Meetings: make(map[string]*models.Meeting, len(s.Meetings)),
		Activity: slices.Clone(s.Activity),
		typing:   maps.Clone(s.typing),
	}
	for id, channel := range s.Channels {
		c.Channels[id] = channel.Clone()
	}
	for id, history := range s.Messages {
		c.Messages[id] = slices.Clone(history)
	}
	for id, meeting := range s.Meetings {
		c.Meetings[id] = meeting.Clone()
	}
	return c
}

func (s *State) userJoined(user models.RosterUser) {
	s.Roster[user.UserID] = user
}

func (s *State) userLeft(userID string) {
	delete(s.Roster, userID)
	for key := range s.typing {
		if key.userID == userID {
			delete(s.typing, key)
		}
	}
}

func (s *State) appendMessage(message *models.Message, selfID string) {
	s.Messages[message.ChannelID] = append(s.Messages[message.ChannelID], message)
	if channel, ok := s.Channels[message.ChannelID]; ok {
		channel.LastMessage = message
		if message.AuthorID != selfID {
			if channel.Unread == nil {
				channel.Unread = make(map[string]int)
			}
			channel.Unread[selfID]++
		}
	}
	// A message from someone supersedes their typing indicator.
	delete(s.typing, typingKey{channelID: message.ChannelID, userID: message.AuthorID})
}

func (s *State) updateMessage(message *models.Message) {
	history := s.Messages[message.ChannelID]
	for i, existing := range history {
		if existing.ID == message.ID {
			history[i] = message
			break
		}
	}
	if channel, ok := s.Channels[message.ChannelID]; ok && channel.LastMessage != nil && channel.LastMessage.ID == message.ID {
		channel.LastMessage = message
	}
}

func (s *State) channelCreated(channel *models.Channel) {
	s.Channels[channel.ID] = channel
}

func (s *State) memberJoined(channelID, userID string) {
	channel, ok := s.Channels[channelID]
	if !ok || channel.IsMember(userID) {
		return
	}
	channel.Members = append(channel.Members, userID)
}

// memberLeft mirrors the server: a channel whose last member leaves no longer
// exists.
func (s *State) memberLeft(channelID, userID string) {
	channel, ok := s.Channels[channelID]
	if !ok {
		return
	}
	idx := slices.Index(channel.Members, userID)
	if idx < 0 {
		return
	}
	channel.Members = slices.Delete(channel.Members, idx, idx+1)
	if len(channel.Members) == 0 {
		delete(s.Channels, channelID)
		delete(s.Messages, channelID)
	}
}

func (s *State) typingStarted(indicator models.TypingIndicator) {
	s.typing[typingKey{channelID: indicator.ChannelID, userID: indicator.UserID}] = indicator
}

func (s *State) typingStopped(channelID, userID string) {
	delete(s.typing, typingKey{channelID: channelID, userID: userID})
}

func (s *State) meetingUpserted(meeting *models.Meeting) {
	s.Meetings[meeting.ID] = meeting
}

func (s *State) activityObserved(activity models.Activity, ringSize int) {
	s.Activity = append(s.Activity, activity)
	if len(s.Activity) > ringSize {
		s.Activity = slices.Delete(s.Activity, 0, len(s.Activity)-ringSize)
	}
}

func (s *State) replaceHistory(channelID string, messages []*models.Message) {
	s.Messages[channelID] = slices.Clone(messages)
}

func (s *State) removeMessage(channelID, messageID string) {
	history := s.Messages[channelID]
	for i, message := range history {
		if message.ID == messageID {
			s.Messages[channelID] = slices.Delete(history, i, i+1)
			return
		}
	}
}

// activeTypists reports non-stale indicators for a channel. Indicators past
// the TTL read as absent even if the stop frame never arrived.
func (s *State) activeTypists(channelID string, ttl time.Duration, now time.Time) []models.TypingIndicator {
	var live []models.TypingIndicator
	for key, indicator := range s.typing {
		if key.channelID != channelID {
			continue
		}
		if now.Sub(indicator.Timestamp) > ttl {
			continue
		}
		live = append(live, indicator)
	}
	return live
}
