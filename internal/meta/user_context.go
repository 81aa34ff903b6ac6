package meta

// AdminRole bypasses all permission checks.
const AdminRole = "admin"

// UserContext represents the acting user, set by auth middleware.
// TenantID scopes every document operation; it is required.
type UserContext struct {
	ID       string   `json:"id"`
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles"`
}

// HasRole checks whether the user has a specific role.
func (u *UserContext) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin checks whether the user has the admin role.
func (u *UserContext) IsAdmin() bool {
	return u.HasRole(AdminRole)
}
