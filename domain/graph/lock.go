package graph

import "time"

// Lock is an advisory editing claim on a node. It is replicated like
// any other record so peers see each other's claims, but nothing at
// the data layer enforces it; the operation layer consults it as a
// courtesy check only.
type Lock struct {
	NodeID    string    `json:"nodeId"`
	OwnerID   string    `json:"ownerId"`
	OwnerName string    `json:"ownerName,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the lock is past its TTL. Expired locks are
// treated as absent so a disconnected peer cannot block others.
func (l Lock) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}
