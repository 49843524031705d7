package auth

import "context"

// Principal is the authenticated caller as the transfer engine sees it.
type Principal struct {
	UserID       string
	Email        string
	Name         string
	IsSystemUser bool
}

// Authenticated reports whether the principal carries a user identity.
func (p Principal) Authenticated() bool {
	return p.UserID != ""
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext extracts the principal stored by WithPrincipal.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
