package room

import (
	"time"

	"collab-app/internal/models"
)

type typingKey struct {
	channelID string
	userID    string
}

// TypingTracker keeps short-lived typing indicators. An indicator with no
// renewal for longer than the TTL is treated as absent even if the explicit
// stop frame was lost; expiry and explicit stop are indistinguishable to
// observers.
type TypingTracker struct {
	ttl    time.Duration
	now    func() time.Time
	active map[typingKey]*models.TypingIndicator
}

func NewTypingTracker(ttl time.Duration, now func() time.Time) *TypingTracker {
	return &TypingTracker{
		ttl:    ttl,
		now:    now,
		active: make(map[typingKey]*models.TypingIndicator),
	}
}

// Start inserts or refreshes an indicator. It reports true only on the
// transition from absent to present, which bounds broadcast volume: refreshes
// are silent.
func (t *TypingTracker) Start(userID, userName, channelID string) bool {
	key := typingKey{channelID: channelID, userID: userID}
	if indicator, ok := t.active[key]; ok && !t.stale(indicator) {
		indicator.Timestamp = t.now()
		return false
	}
	t.active[key] = &models.TypingIndicator{
		UserID:    userID,
		UserName:  userName,
		ChannelID: channelID,
		Timestamp: t.now(),
	}
	return true
}

// Stop removes an indicator, reporting whether one was present.
func (t *TypingTracker) Stop(userID, channelID string) bool {
	key := typingKey{channelID: channelID, userID: userID}
	indicator, ok := t.active[key]
	delete(t.active, key)
	return ok && !t.stale(indicator)
}

// StopAll clears every indicator a user holds, returning the cleared ones.
// Used when the user's last session disconnects.
func (t *TypingTracker) StopAll(userID string) []models.TypingIndicator {
	var cleared []models.TypingIndicator
	for key, indicator := range t.active {
		if key.userID == userID {
			if !t.stale(indicator) {
				cleared = append(cleared, *indicator)
			}
			delete(t.active, key)
		}
	}
	return cleared
}

// Expire sweeps stale indicators and returns them so the room can broadcast
// the corresponding stop events.
func (t *TypingTracker) Expire() []models.TypingIndicator {
	var expired []models.TypingIndicator
	for key, indicator := range t.active {
		if t.stale(indicator) {
			expired = append(expired, *indicator)
			delete(t.active, key)
		}
	}
	return expired
}

// Snapshot returns the live indicators for the room_state frame.
func (t *TypingTracker) Snapshot() []models.TypingIndicator {
	var live []models.TypingIndicator
	for _, indicator := range t.active {
		if !t.stale(indicator) {
			live = append(live, *indicator)
		}
	}
	return live
}

func (t *TypingTracker) stale(indicator *models.TypingIndicator) bool {
	return t.now().Sub(indicator.Timestamp) > t.ttl
}
