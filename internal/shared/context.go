package shared

import "context"

// Principal identifies the requester on whose behalf an operation runs. It is
// placed in context by the boundary layer; this core never authenticates.
type Principal struct {
	Username string
}

// Authenticated reports whether the principal carries a username.
func (p *Principal) Authenticated() bool {
	return p != nil && p.Username != ""
}

type principalContextKey struct{}

// ContextWithPrincipal stores the requester principal in context.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the requester principal from context.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey{}).(*Principal)
	return p
}
