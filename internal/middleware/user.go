package middleware

import (
	"github.com/gofiber/fiber/v3"
)

// UserContext identifies the caller for the duration of a request.
type UserContext struct {
	UserID string
}

// UserMiddleware resolves the calling user from the X-User-ID header and
// injects a UserContext into the request. Identity verification happens
// upstream at the gateway; this service only needs the resolved id.
func UserMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		userID := c.Get("X-User-ID")

		// Fallback: ?user_id= query param (for SSE/EventSource which can't set headers)
		if userID == "" {
			userID = c.Query("user_id")
		}

		if userID == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing user identity",
			})
		}

		c.Locals("user", &UserContext{UserID: userID})
		return c.Next()
	}
}

// GetUserContext extracts the UserContext from Fiber locals.
func GetUserContext(c fiber.Ctx) *UserContext {
	u, ok := c.Locals("user").(*UserContext)
	if !ok {
		return nil
	}
	return u
}
