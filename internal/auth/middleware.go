package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"tablegate/internal/config"
	"tablegate/internal/engine"
	"tablegate/internal/metadata"
)

// Middleware returns the authentication middleware for the configured
// provider. It always sets a UserContext on the request: anonymous when no
// credentials are present, 401 when credentials are present but unusable.
func Middleware(opts config.AuthOptions) fiber.Handler {
	switch opts.Provider {
	case config.ProviderAppService:
		return easyAuthMiddleware(ParseAppServicePrincipal)
	case config.ProviderJwt:
		return jwtMiddleware(opts.Jwt)
	case config.ProviderSimulator:
		return simulatorMiddleware()
	default: // StaticWebApps
		return easyAuthMiddleware(ParseStaticWebAppsPrincipal)
	}
}

func easyAuthMiddleware(parse func(string) (*metadata.UserContext, error)) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(ClientPrincipalHeader)
		if header == "" {
			c.Locals("user", metadata.Anonymous())
			return c.Next()
		}

		user, err := parse(header)
		if err != nil {
			// Present but malformed: fail closed.
			return engine.UnauthorizedError("Invalid client principal")
		}

		c.Locals("user", user)
		return c.Next()
	}
}

func jwtMiddleware(opts config.JwtOptions) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if header == "" {
			c.Locals("user", metadata.Anonymous())
			return c.Next()
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return engine.UnauthorizedError("Invalid auth header format")
		}

		claims, err := ParseAccessToken(parts[1], opts)
		if err != nil {
			return engine.UnauthorizedError("Invalid or expired token")
		}

		claimMap := map[string]any{"sub": claims.Subject}
		if claims.Issuer != "" {
			claimMap["iss"] = claims.Issuer
		}

		c.Locals("user", &metadata.UserContext{
			ID:            claims.Subject,
			Authenticated: true,
			Roles:         claims.Roles,
			Claims:        claimMap,
		})
		return c.Next()
	}
}

// simulatorMiddleware is the development-mode provider: every request is
// authenticated and any client role header is honored.
func simulatorMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals("user", &metadata.UserContext{
			Authenticated: true,
			Claims:        map[string]any{},
		})
		c.Locals("roleUnrestricted", true)
		return c.Next()
	}
}

// RoleMiddleware resolves the effective role from the client role header.
// Must run after the authentication middleware.
func RoleMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := GetUser(c)
		if user == nil {
			user = metadata.Anonymous()
			c.Locals("user", user)
		}

		requested := c.Get(ClientRoleHeader)
		if requested == "" {
			if user.Authenticated {
				user.Role = metadata.RoleAuthenticated
			} else {
				user.Role = metadata.RoleAnonymous
			}
		} else {
			unrestricted, _ := c.Locals("roleUnrestricted").(bool)
			if !unrestricted && !user.CanAssumeRole(requested) {
				return engine.ForbiddenError("Requested role is not available for this request")
			}
			user.Role = strings.ToLower(requested)
		}

		if user.Claims == nil {
			user.Claims = map[string]any{}
		}
		user.Claims["role"] = user.Role
		return c.Next()
	}
}

// GetUser extracts the UserContext from a Fiber context.
func GetUser(c *fiber.Ctx) *metadata.UserContext {
	user, _ := c.Locals("user").(*metadata.UserContext)
	return user
}
