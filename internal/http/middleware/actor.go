package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"docgate/internal/lifecycle"
)

const (
	// ActorRoleHeader carries the caller's role as asserted by the upstream auth proxy.
	ActorRoleHeader = "X-Actor-Role"
	// ActorRoleLocalKey is the key used to store the role in Fiber's context locals.
	ActorRoleLocalKey = "actor_role"
)

// ActorRole stores the caller's lifecycle role in context locals.
// A missing header yields lifecycle.RoleNone.
func ActorRole() fiber.Handler {
	return func(c *fiber.Ctx) error {
		role := lifecycle.Role(strings.ToLower(strings.TrimSpace(c.Get(ActorRoleHeader))))
		c.Locals(ActorRoleLocalKey, role)
		return c.Next()
	}
}

// RoleFromCtx returns the role stored by ActorRole, falling back to the
// header when the middleware is not installed.
func RoleFromCtx(c *fiber.Ctx) lifecycle.Role {
	if role, ok := c.Locals(ActorRoleLocalKey).(lifecycle.Role); ok {
		return role
	}
	return lifecycle.Role(strings.ToLower(strings.TrimSpace(c.Get(ActorRoleHeader))))
}
