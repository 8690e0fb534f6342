package metadata

import "strings"

// UserContext represents the caller, set by the authentication middleware and
// refined by the client role header middleware.
type UserContext struct {
	ID            string         `json:"id"`
	Authenticated bool           `json:"authenticated"`
	Roles         []string       `json:"roles"`
	Role          string         `json:"role"` // effective role for this request
	Claims        map[string]any `json:"claims,omitempty"`
}

// Anonymous returns the context used for requests carrying no credentials.
func Anonymous() *UserContext {
	return &UserContext{Role: RoleAnonymous}
}

// HasRole checks whether the user carries a role claim, case-insensitively.
func (u *UserContext) HasRole(role string) bool {
	for _, r := range u.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// CanAssumeRole reports whether the caller may select the given role through
// the client role header. Anonymous callers only get the anonymous role;
// authenticated callers get the system roles plus anything in their claims.
func (u *UserContext) CanAssumeRole(role string) bool {
	if strings.EqualFold(role, RoleAnonymous) {
		return true
	}
	if !u.Authenticated {
		return false
	}
	if strings.EqualFold(role, RoleAuthenticated) {
		return true
	}
	return u.HasRole(role)
}
