package common

import "context"

// Identity is the authenticated user resolved by the surrounding
// session. The collaboration core treats it as an opaque input.
type Identity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

type contextKey string

const identityKey contextKey = "identity"

// WithIdentity stores an identity on the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom extracts the identity from a context.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}
