package room

import (
	"sort"
	"time"

	"collab-app/internal/models"
)

// presenceRegistry tracks which sessions are attached to the room. Presence
// is per session; the roster sent to clients aggregates per user. Only the
// room's worker goroutine touches it, so there is no lock.
type presenceRegistry struct {
	sessions map[string]Subscriber            // session id -> subscriber
	byUser   map[string]map[string]Subscriber // user id -> session id -> subscriber
	lastSeen map[string]time.Time
	now      func() time.Time
}

func newPresenceRegistry(now func() time.Time) *presenceRegistry {
	return &presenceRegistry{
		sessions: make(map[string]Subscriber),
		byUser:   make(map[string]map[string]Subscriber),
		lastSeen: make(map[string]time.Time),
		now:      now,
	}
}

// join registers a session and reports whether it is the user's first session
// in the room. Multi-tab users keep every session registered.
func (p *presenceRegistry) join(sub Subscriber) bool {
	identity := sub.Identity()
	p.sessions[sub.SessionID()] = sub

	userSessions, ok := p.byUser[identity.UserID]
	if !ok {
		userSessions = make(map[string]Subscriber)
		p.byUser[identity.UserID] = userSessions
	}
	userSessions[sub.SessionID()] = sub
	p.lastSeen[identity.UserID] = p.now()
	return len(userSessions) == 1
}

// leave removes a session and reports whether it was the user's last one.
func (p *presenceRegistry) leave(sub Subscriber) bool {
	identity := sub.Identity()
	delete(p.sessions, sub.SessionID())

	userSessions, ok := p.byUser[identity.UserID]
	if !ok {
		return false
	}
	delete(userSessions, sub.SessionID())
	if len(userSessions) > 0 {
		return false
	}
	delete(p.byUser, identity.UserID)
	delete(p.lastSeen, identity.UserID)
	return true
}

func (p *presenceRegistry) touch(userID string) {
	if _, ok := p.byUser[userID]; ok {
		p.lastSeen[userID] = p.now()
	}
}

func (p *presenceRegistry) sessionCount() int {
	return len(p.sessions)
}

// snapshot returns the deduplicated roster for the room_state frame.
func (p *presenceRegistry) snapshot() []models.RosterUser {
	roster := make([]models.RosterUser, 0, len(p.byUser))
	for userID, userSessions := range p.byUser {
		var identity Subscriber
		for _, sub := range userSessions {
			identity = sub
			break
		}
		id := identity.Identity()
		roster = append(roster, models.RosterUser{
			UserID:      userID,
			DisplayName: id.DisplayName,
			AvatarRef:   id.AvatarRef,
			Role:        id.Role,
			Sessions:    len(userSessions),
			LastSeen:    p.lastSeen[userID],
		})
	}
	sort.Slice(roster, func(i, j int) bool { return roster[i].UserID < roster[j].UserID })
	return roster
}

func (p *presenceRegistry) rosterEntry(userID string) (models.RosterUser, bool) {
	userSessions, ok := p.byUser[userID]
	if !ok || len(userSessions) == 0 {
		return models.RosterUser{}, false
	}
	var sub Subscriber
	for _, s := range userSessions {
		sub = s
		break
	}
	id := sub.Identity()
	return models.RosterUser{
		UserID:      userID,
		DisplayName: id.DisplayName,
		AvatarRef:   id.AvatarRef,
		Role:        id.Role,
		Sessions:    len(userSessions),
		LastSeen:    p.lastSeen[userID],
	}, true
}
