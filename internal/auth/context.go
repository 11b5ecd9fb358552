// Package auth provides bearer-token middleware and request context
// helpers for the caller's identity.
package auth

import "context"

type ctxKey int

const identityKey ctxKey = iota

// Identity is the verified caller identity attached to a request.
type Identity struct {
	UserID string
}

// WithIdentity stores an identity in a context.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the identity from a context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey).(*Identity)
	return id, ok
}
