package middlewares

import (
	"github.com/gofiber/fiber/v2"

	"rei360.com/escrow"
)

func Auth(c *fiber.Ctx) error {
	return JWTMiddleware(c)
}

// RequireAdmin gates admin-only escrow operations (create, refund, cancel).
func RequireAdmin(c *fiber.Ctx) error {
	isAdmin, ok := c.Locals("is_admin").(bool)
	if !ok || !isAdmin {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"success": false,
			"error":   "Unauthorized: admin role required",
		})
	}

	return c.Next()
}

// ActorFromLocals rebuilds the escrow actor from the JWT claims placed in
// context by the auth middleware.
func ActorFromLocals(c *fiber.Ctx) escrow.Actor {
	var actor escrow.Actor
	if id, ok := c.Locals("user_id").(float64); ok {
		actor.UserID = uint(id)
	}
	if isAdmin, ok := c.Locals("is_admin").(bool); ok {
		actor.Admin = isAdmin
	}
	return actor
}
