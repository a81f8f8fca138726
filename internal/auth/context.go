// ABOUTME: Request-scoped identity carried from bearer authentication to handlers
// ABOUTME: Also names the actor recorded in audit entries for administrative calls

package auth

import (
	"context"
)

// AuthContext is the identity a request authenticated as.
type AuthContext struct {
	Identity string
	Token    Token

	// PeerAddr is the remote address the token arrived from, when known.
	PeerAddr string
}

type authContextKey struct{}

func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext returns the attached AuthContext or nil.
func FromContext(ctx context.Context) *AuthContext {
	auth, _ := ctx.Value(authContextKey{}).(*AuthContext)
	return auth
}

// MustFromContext is FromContext for handlers mounted behind the auth
// middleware. It panics when no identity is attached.
func MustFromContext(ctx context.Context) *AuthContext {
	auth := FromContext(ctx)
	if auth == nil {
		panic("auth: AuthContext not found in context")
	}
	return auth
}

// Actor returns the authenticated identity, or fallback for unauthenticated
// callers such as the command line.
func Actor(ctx context.Context, fallback string) string {
	if a := FromContext(ctx); a != nil && a.Identity != "" {
		return a.Identity
	}
	return fallback
}
