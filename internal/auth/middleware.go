package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"anvil-backend/internal/engine"
	"anvil-backend/internal/meta"
)

// Middleware validates the bearer token and sets the acting UserContext on
// the request. Every engine operation requires this context.
func Middleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if header == "" {
			return engine.UnauthorizedError("Missing auth token")
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return engine.UnauthorizedError("Invalid auth header format")
		}

		claims, err := ParseAccessToken(parts[1], secret)
		if err != nil {
			return engine.UnauthorizedError("Invalid or expired token")
		}

		c.Locals("user", &meta.UserContext{
			ID:       claims.Subject,
			TenantID: claims.TenantID,
			Roles:    claims.Roles,
		})

		return c.Next()
	}
}

// RequireAdmin checks the authenticated user has the admin role.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		user, ok := c.Locals("user").(*meta.UserContext)
		if !ok || user == nil {
			return engine.UnauthorizedError("Missing auth token")
		}
		if !user.IsAdmin() {
			return engine.ForbiddenError("Admin access required")
		}
		return c.Next()
	}
}

// GetUser extracts the UserContext from a Fiber context.
func GetUser(c *fiber.Ctx) *meta.UserContext {
	user, _ := c.Locals("user").(*meta.UserContext)
	return user
}
