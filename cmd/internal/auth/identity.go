package auth

import (
	"context"
	"time"
)

// Identity is the verified caller. It is immutable for the lifetime of a session.
type Identity struct {
	UserID string
	Email  string
	Role   string
}

// Verifier checks a bearer token and returns the identity it carries.
//
// Implementations must return ErrInvalidToken (possibly wrapped) for any
// signature, expiry, or claim failure.
type Verifier interface {
	Verify(token string, now time.Time) (Identity, error)
}

type identityCtxKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, id)
}

// IdentityFrom returns the identity stored by WithIdentity.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityCtxKey{}).(Identity)
	if !ok || id.UserID == "" {
		return Identity{}, false
	}
	return id, true
}
