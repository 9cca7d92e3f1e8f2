package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/fundstack/fundstack/internal/auth"
	"github.com/fundstack/fundstack/internal/session"
)

const localIdentity = "identity"

// JWTAuth returns a middleware that validates access tokens and attaches
// the caller identity to the request.
func JWTAuth(tokens *auth.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		tokenStr := strings.TrimSpace(authz[len("Bearer "):])
		uid, err := tokens.Verify(c.UserContext(), tokenStr)
		if err != nil {
			if errors.Is(err, auth.ErrTokenRevoked) {
				return fiber.NewError(http.StatusUnauthorized, "token invalidated")
			}
			if errors.Is(err, auth.ErrInvalidToken) {
				return fiber.NewError(http.StatusUnauthorized, "invalid token")
			}
			return fiber.NewError(http.StatusServiceUnavailable, "token verification unavailable")
		}

		// The access token is ours, not the document store's; never forward it.
		SetIdentity(c, session.New(uid, ""))
		return c.Next()
	}
}

// SetIdentity attaches id to the request.
func SetIdentity(c *fiber.Ctx, id session.Identity) {
	c.Locals(auth.LocalUserID, id.UserID)
	c.Locals(localIdentity, id)
}

// CurrentIdentity returns the identity attached by JWTAuth. The zero value
// fails session.Identity.Validate.
func CurrentIdentity(c *fiber.Ctx) session.Identity {
	id, _ := c.Locals(localIdentity).(session.Identity)
	return id
}
