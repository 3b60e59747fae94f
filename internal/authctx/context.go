// Package authctx resolves the opaque bearer credential issued by the
// identity system into the AuthContext every call-core operation is scoped
// by, and carries the role/settings capability policy used to gate
// recording and signaling operations.
package authctx

import "context"

// AuthContext identifies the caller of a request: which user, which family
// member profile they are acting as, which group the call belongs to, and
// their role within that group.
type AuthContext struct {
	UserID   string
	MemberID string
	GroupID  string
	Role     string
}

type contextKey string

const authContextKey contextKey = "authctx"

// WithAuthContext returns a context carrying the given AuthContext.
func WithAuthContext(ctx context.Context, ac *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey, ac)
}

// FromContext retrieves the AuthContext stored by the auth middleware.
// Returns nil, false if no AuthContext is present.
func FromContext(ctx context.Context) (*AuthContext, bool) {
	ac, ok := ctx.Value(authContextKey).(*AuthContext)
	return ac, ok
}
