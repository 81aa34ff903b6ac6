package auth

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"anvil-backend/internal/engine"
	"anvil-backend/internal/store"
)

// Handler serves the authentication endpoints.
type Handler struct {
	store     *store.Store
	jwtSecret string
}

func NewHandler(s *store.Store, jwtSecret string) *Handler {
	return &Handler{store: s, jwtSecret: jwtSecret}
}

// Login handles POST /auth/login.
func (h *Handler) Login(c *fiber.Ctx) error {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.BadRequestError("Invalid request body")
	}
	if body.Email == "" || body.Password == "" {
		return engine.UnauthorizedError("Email and password are required")
	}

	ctx := c.Context()

	user, err := store.QueryRowMap(ctx, h.store.DB,
		`SELECT id, email, password_hash, "tenantId", roles, active FROM _users WHERE email = $1`,
		body.Email)
	if err != nil {
		return engine.UnauthorizedError("Invalid email or password")
	}

	active, _ := user["active"].(bool)
	if !active {
		return engine.UnauthorizedError("Account is disabled")
	}

	passwordHash, _ := user["password_hash"].(string)
	if !CheckPassword(body.Password, passwordHash) {
		return engine.UnauthorizedError("Invalid email or password")
	}

	userID, _ := user["id"].(string)
	tenantID, _ := user["tenantId"].(string)
	roles := extractRoles(user["roles"])

	pair, err := h.generateTokenPair(ctx, userID, tenantID, roles)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": pair})
}

// Refresh handles POST /auth/refresh with token rotation.
func (h *Handler) Refresh(c *fiber.Ctx) error {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.BadRequestError("Invalid request body")
	}
	if body.RefreshToken == "" {
		return engine.UnauthorizedError("Refresh token is required")
	}

	ctx := c.Context()

	row, err := store.QueryRowMap(ctx, h.store.DB,
		`SELECT rt.id, rt.user_id, rt.expires_at, u."tenantId", u.roles, u.active
		 FROM _refresh_tokens rt
		 JOIN _users u ON u.id = rt.user_id
		 WHERE rt.token = $1`, body.RefreshToken)
	if err != nil {
		return engine.UnauthorizedError("Invalid refresh token")
	}

	expiresAt, _ := row["expires_at"].(time.Time)
	if time.Now().After(expiresAt) {
		_, _ = store.Exec(ctx, h.store.DB,
			`DELETE FROM _refresh_tokens WHERE token = $1`, body.RefreshToken)
		return engine.UnauthorizedError("Refresh token expired")
	}

	active, _ := row["active"].(bool)
	if !active {
		return engine.UnauthorizedError("Account is disabled")
	}

	// Rotate: the used refresh token is single-use.
	tokenID, _ := row["id"].(string)
	_, _ = store.Exec(ctx, h.store.DB, `DELETE FROM _refresh_tokens WHERE id = $1`, tokenID)

	userID, _ := row["user_id"].(string)
	tenantID, _ := row["tenantId"].(string)
	roles := extractRoles(row["roles"])

	pair, err := h.generateTokenPair(ctx, userID, tenantID, roles)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": pair})
}

// RegisterRoutes registers the auth routes on the given Fiber app.
func RegisterRoutes(app *fiber.App, h *Handler) {
	grp := app.Group("/auth")
	grp.Post("/login", h.Login)
	grp.Post("/refresh", h.Refresh)
}

func (h *Handler) generateTokenPair(ctx context.Context, userID, tenantID string, roles []string) (*TokenPair, error) {
	accessToken, err := GenerateAccessToken(userID, tenantID, roles, h.jwtSecret)
	if err != nil {
		return nil, engine.InternalError("Failed to generate access token")
	}

	refreshToken := GenerateRefreshToken()
	expiresAt := time.Now().Add(RefreshTokenTTL)

	_, err = store.Exec(ctx, h.store.DB,
		`INSERT INTO _refresh_tokens (user_id, token, expires_at) VALUES ($1, $2, $3)`,
		userID, refreshToken, expiresAt)
	if err != nil {
		return nil, engine.InternalError("Failed to store refresh token")
	}

	return &TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

// extractRoles handles the shapes a TEXT[] column can come back as through
// database/sql: a typed slice, an untyped slice, or the {a,b} wire form.
func extractRoles(v any) []string {
	switch roles := v.(type) {
	case []string:
		return roles
	case []any:
		result := make([]string, 0, len(roles))
		for _, r := range roles {
			if s, ok := r.(string); ok {
				result = append(result, s)
			}
		}
		return result
	case string:
		trimmed := strings.Trim(roles, "{}")
		if trimmed == "" {
			return []string{}
		}
		parts := strings.Split(trimmed, ",")
		for i := range parts {
			parts[i] = strings.Trim(parts[i], `" `)
		}
		return parts
	default:
		return []string{}
	}
}
