package domain

import "time"

// Group is a set of users that share expenses.
type Group struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	MemberIDs   []string  `json:"memberIds"`
	CreatedAt   time.Time `json:"createdAt"`
}

// HasMember reports whether userID belongs to the group.
func (g *Group) HasMember(userID string) bool {
	for _, id := range g.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// MemberSet returns the member IDs as a set.
func (g *Group) MemberSet() map[string]struct{} {
	set := make(map[string]struct{}, len(g.MemberIDs))
	for _, id := range g.MemberIDs {
		set[id] = struct{}{}
	}
	return set
}
