// ABOUTME: Authenticated identity carried through request handlers
// ABOUTME: Provides WithAuth/FromContext for propagating the user id via context

package auth

import (
	"context"
)

// AuthContext holds the identity extracted from a verified bearer token.
type AuthContext struct {
	UserID string
}

// authContextKey is the key type for storing AuthContext in context.Context.
type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *AuthContext {
	auth, _ := ctx.Value(authContextKey{}).(*AuthContext)
	return auth
}

// UserID returns the authenticated user id, or "" when the request is anonymous.
func UserID(ctx context.Context) string {
	if a := FromContext(ctx); a != nil {
		return a.UserID
	}
	return ""
}
