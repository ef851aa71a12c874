package crdt

import "github.com/google/uuid"

// Origin is an opaque marker identifying which client instance caused
// a transaction. Change observers compare it against their own token
// to skip re-deriving local-only side effects for the client's own
// just-applied transaction while still processing remote changes.
type Origin struct {
	token string
}

// NewOrigin returns a token unique to this client instance.
func NewOrigin() Origin {
	return Origin{token: uuid.New().String()}
}

// Is reports whether two origins were created by the same call to
// NewOrigin. The zero Origin matches nothing but itself.
func (o Origin) Is(other Origin) bool {
	return o.token != "" && o.token == other.token
}

// IsZero reports whether the origin is the zero token, used for
// changes that arrived from a remote peer.
func (o Origin) IsZero() bool {
	return o.token == ""
}
