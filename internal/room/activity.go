package room

import (
	"slices"

	"collab-app/internal/models"
)

// activityRing keeps the most recent user_activity events so late joiners
// get some context. Activity is broadcast-only; nothing is persisted.
type activityRing struct {
	entries []models.Activity
	size    int
}

func newActivityRing(size int) *activityRing {
	return &activityRing{size: size}
}

func (r *activityRing) add(activity models.Activity) {
	r.entries = append(r.entries, activity)
	if len(r.entries) > r.size {
		r.entries = slices.Delete(r.entries, 0, len(r.entries)-r.size)
	}
}

func (r *activityRing) snapshot() []models.Activity {
	return slices.Clone(r.entries)
}
