package engine

import (
	"fmt"

	"anvil-backend/internal/meta"
)

// CheckPermission reports whether the user may perform the action on the
// DocType. The admin role bypasses all checks. A DocType with no grants denies
// everything; otherwise a single matching grant with the flag set suffices.
func CheckPermission(user *meta.UserContext, dt *meta.DocType, action string) bool {
	if user == nil {
		return false
	}
	if user.IsAdmin() {
		return true
	}
	if len(dt.Permissions) == 0 {
		return false
	}
	for _, p := range dt.Permissions {
		if user.HasRole(p.Role) && p.Allows(action) {
			return true
		}
	}
	return false
}

// EnsurePermission returns a FORBIDDEN error when the check fails. Every
// engine operation calls this before doing any work.
func EnsurePermission(user *meta.UserContext, dt *meta.DocType, action string) error {
	if user == nil {
		return UnauthorizedError("Authentication required")
	}
	if !CheckPermission(user, dt, action) {
		return ForbiddenError(fmt.Sprintf("Permission denied for %s on %s", action, dt.Name))
	}
	return nil
}
