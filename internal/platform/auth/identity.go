package auth

import (
	"context"
	"strings"
)

// Identity captures the authenticated member forwarded by the portal gateway.
// The gateway terminates the session and passes the member id on each request.
type Identity struct {
	UserID string
}

type contextKey string

const identityContextKey contextKey = "github.com/campusclub/api/internal/platform/auth/identity"

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*Identity)
	if !ok || identity == nil || strings.TrimSpace(identity.UserID) == "" {
		return nil, false
	}
	return identity, true
}
