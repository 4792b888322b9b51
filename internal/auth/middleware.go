package auth

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/echochat/echochat-server/internal/apierrors"
	"github.com/echochat/echochat-server/internal/httputil"
)

// Validator is implemented by the Session & Token Authority's Validate operation: given a raw access token it
// verifies signature, expiry, and that the bound session is still active, returning the user and session id.
type Validator interface {
	Validate(ctx context.Context, accessToken string) (userID, sessionID uuid.UUID, err error)
}

// RequireAuth returns Fiber middleware that validates a JWT Bearer token from the Authorization header via the given
// Validator and stores the user id and session id in Locals for downstream handlers.
func RequireAuth(v Validator) fiber.Handler {
	return func(c fiber.Ctx) error {
		header := c.Get("Authorization")
		if header == "" {
			return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorized, "missing authorization header")
		}

		const prefix = "Bearer "
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorized, "invalid authorization format")
		}
		tokenStr := header[len(prefix):]

		userID, sessionID, err := v.Validate(c.Context(), tokenStr)
		if err != nil {
			message := "invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				message = "token has expired"
			}
			return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorized, message)
		}

		c.Locals("userID", userID)
		c.Locals("sessionID", sessionID)
		return c.Next()
	}
}

// UserIDFromContext extracts the authenticated user id stashed by RequireAuth.
func UserIDFromContext(c fiber.Ctx) (uuid.UUID, bool) {
	id, ok := c.Locals("userID").(uuid.UUID)
	return id, ok
}

// SessionIDFromContext extracts the authenticated session id stashed by RequireAuth.
func SessionIDFromContext(c fiber.Ctx) (uuid.UUID, bool) {
	id, ok := c.Locals("sessionID").(uuid.UUID)
	return id, ok
}
