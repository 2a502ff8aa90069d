package hub

import "sort"

// Presence is one user's cursor state within a document. It is ephemeral:
// entries live exactly as long as the session that owns them.
type Presence struct {
	UserID         string `json:"user_id"`
	Cursor         int    `json:"cursor"`
	SelectionStart *int   `json:"selection_start,omitempty"`
	SelectionEnd   *int   `json:"selection_end,omitempty"`
	LastSeen       int64  `json:"last_seen"`
}

// presenceTracker holds the cursors of one document. It is owned by the
// document coordinator and must only be touched from its loop.
type presenceTracker struct {
	byUser map[string]Presence
}

func newPresenceTracker() *presenceTracker {
	return &presenceTracker{byUser: make(map[string]Presence)}
}

func (t *presenceTracker) set(p Presence) {
	t.byUser[p.UserID] = p
}

func (t *presenceTracker) remove(userID string) {
	delete(t.byUser, userID)
}

func (t *presenceTracker) list() []Presence {
	out := make([]Presence, 0, len(t.byUser))
	for _, p := range t.byUser {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
