package auth

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"tablegate/internal/config"
	"tablegate/internal/engine"
	"tablegate/internal/store"
)

// Handler serves the token endpoints used when the Jwt provider is active.
type Handler struct {
	store *store.Store
	jwt   config.JwtOptions
}

func NewHandler(s *store.Store, jwt config.JwtOptions) *Handler {
	return &Handler{store: s, jwt: jwt}
}

// Login handles POST /api/auth/login.
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

	user, err := h.findUserByEmail(ctx, body.Email)
	if err != nil {
		return engine.UnauthorizedError("Invalid email or password")
	}

	if !isActive(user["active"]) {
		return engine.UnauthorizedError("Account is disabled")
	}

	passwordHash, _ := user["password_hash"].(string)
	if !CheckPassword(body.Password, passwordHash) {
		return engine.UnauthorizedError("Invalid email or password")
	}

	userID, _ := user["id"].(string)
	roles, err := h.store.Dialect.ScanArray(user["roles"])
	if err != nil {
		roles = []string{}
	}

	pair, err := h.generateTokenPair(ctx, userID, roles)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": pair})
}

// Refresh handles POST /api/auth/refresh. Tokens are rotated: the presented
// refresh token is deleted whether or not a new pair is issued.
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
	pb := h.store.Dialect.NewParamBuilder()

	row, err := store.QueryRow(ctx, h.store.DB,
		`SELECT rt.token, rt.user_id, rt.expires_at, u.roles, u.active
		 FROM _refresh_tokens rt
		 JOIN _users u ON u.id = rt.user_id
		 WHERE rt.token = `+pb.Add(body.RefreshToken), pb.Params()...)
	if err != nil {
		return engine.UnauthorizedError("Invalid refresh token")
	}

	h.deleteRefreshToken(ctx, body.RefreshToken)

	if expired(row["expires_at"]) {
		return engine.UnauthorizedError("Refresh token expired")
	}
	if !isActive(row["active"]) {
		return engine.UnauthorizedError("Account is disabled")
	}

	userID, _ := row["user_id"].(string)
	roles, err := h.store.Dialect.ScanArray(row["roles"])
	if err != nil {
		roles = []string{}
	}

	pair, err := h.generateTokenPair(ctx, userID, roles)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": pair})
}

// Logout handles POST /api/auth/logout.
func (h *Handler) Logout(c *fiber.Ctx) error {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.BadRequestError("Invalid request body")
	}
	if body.RefreshToken == "" {
		return engine.UnauthorizedError("Refresh token is required")
	}

	h.deleteRefreshToken(c.Context(), body.RefreshToken)
	return c.JSON(fiber.Map{"message": "Logged out"})
}

// RegisterRoutes registers the token endpoints on the given Fiber app.
func RegisterRoutes(app *fiber.App, h *Handler) {
	grp := app.Group("/api/auth")
	grp.Post("/login", h.Login)
	grp.Post("/refresh", h.Refresh)
	grp.Post("/logout", h.Logout)
}

func (h *Handler) findUserByEmail(ctx context.Context, email string) (map[string]any, error) {
	pb := h.store.Dialect.NewParamBuilder()
	return store.QueryRow(ctx, h.store.DB,
		"SELECT id, email, password_hash, roles, active FROM _users WHERE email = "+pb.Add(email),
		pb.Params()...)
}

func (h *Handler) deleteRefreshToken(ctx context.Context, token string) {
	pb := h.store.Dialect.NewParamBuilder()
	_, _ = store.Exec(ctx, h.store.DB,
		"DELETE FROM _refresh_tokens WHERE token = "+pb.Add(token), pb.Params()...)
}

func (h *Handler) generateTokenPair(ctx context.Context, userID string, roles []string) (*TokenPair, error) {
	accessToken, err := GenerateAccessToken(userID, roles, h.jwt)
	if err != nil {
		return nil, engine.NewAppError(fiber.StatusInternalServerError, engine.SubStatusUnexpected,
			"Failed to generate access token")
	}

	refreshToken := GenerateRefreshToken()
	expiresAt := time.Now().Add(RefreshTokenTTL)

	pb := h.store.Dialect.NewParamBuilder()
	_, err = store.Exec(ctx, h.store.DB,
		"INSERT INTO _refresh_tokens (token, user_id, expires_at) VALUES ("+
			pb.Add(refreshToken)+", "+pb.Add(userID)+", "+pb.Add(expiresAt)+")",
		pb.Params()...)
	if err != nil {
		return nil, engine.NewAppError(fiber.StatusInternalServerError, engine.SubStatusUnexpected,
			"Failed to store refresh token")
	}

	return &TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

func isActive(v any) bool {
	switch a := v.(type) {
	case bool:
		return a
	case int64:
		return a != 0
	default:
		return false
	}
}

func expired(v any) bool {
	switch t := v.(type) {
	case time.Time:
		return time.Now().After(t)
	case string:
		for _, layout := range []string{
			time.RFC3339Nano,
			time.RFC3339,
			"2006-01-02 15:04:05.999999999-07:00", // sqlite time.Time encoding
			"2006-01-02 15:04:05",
		} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return time.Now().After(parsed)
			}
		}
		return true
	default:
		return true
	}
}
