package shared

import "context"

type sessionContextKey struct{}

type sessionUnavailableKey struct{}

// ContextWithSession stores the session in context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the session from context.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}

// ContextWithSessionUnavailable marks that the session store could not be read
// for this request, so authentication status is still unknown.
func ContextWithSessionUnavailable(ctx context.Context) context.Context {
	return context.WithValue(ctx, sessionUnavailableKey{}, true)
}

// SessionUnavailable reports whether the session store failed for this request.
func SessionUnavailable(ctx context.Context) bool {
	v, _ := ctx.Value(sessionUnavailableKey{}).(bool)
	return v
}
