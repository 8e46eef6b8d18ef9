package auth

import "context"

type identityContextKey struct{}

// ContextWithIdentity attaches the authenticated identity to the context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext returns the identity attached by the authentication
// middleware, or Anonymous.
func IdentityFromContext(ctx context.Context) Identity {
	if ctx == nil {
		return Anonymous
	}
	v, ok := ctx.Value(identityContextKey{}).(Identity)
	if !ok {
		return Anonymous
	}
	return v
}
