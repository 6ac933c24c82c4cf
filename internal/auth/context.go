package auth

import "context"

// Principal is the authenticated caller: explicit identity facts, never
// ambient session state. Handlers pass these ids into the resolver; the
// engine itself has no notion of a "current user".
type Principal struct {
	UserID string
	Role   string
	OrgID  string
}

// IsSuperadmin reports whether the caller is platform-wide.
func (p Principal) IsSuperadmin() bool { return p.Role == "superadmin" }

// IsOrgAdmin reports whether the caller administers the given organization.
func (p Principal) IsOrgAdmin(orgID string) bool {
	return p.IsSuperadmin() || (p.Role == "admin" && p.OrgID == orgID)
}

type principalContextKey struct{}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &principal)
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil {
		return Principal{}, false
	}
	return *v, true
}

// UserIDFromContext is a convenience for audit logging.
func UserIDFromContext(ctx context.Context) (string, bool) {
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.UserID == "" {
		return "", false
	}
	return p.UserID, true
}
