package web

import (
	"context"
	"strconv"
	"strings"

	"github.com/dukex/taskflow/pkg/identity"
	"github.com/gofiber/fiber/v3"
)

// Headers set by the authenticating proxy in front of the API.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserRoles = "X-User-Roles"
	HeaderUserAdmin = "X-User-Admin"
)

const actorLocal = "taskflow.actor"

// ActorMiddleware reads the acting user from the proxy headers. Requests
// without a user id run anonymously and cannot create tasks.
func ActorMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		userID := strings.TrimSpace(c.Get(HeaderUserID))
		if userID == "" {
			return c.Next()
		}

		actor := identity.Actor{UserID: userID}

		for _, role := range strings.Split(c.Get(HeaderUserRoles), ",") {
			role = strings.TrimSpace(role)
			if role != "" {
				actor.Roles = append(actor.Roles, role)
			}
		}

		if admin, err := strconv.ParseBool(c.Get(HeaderUserAdmin)); err == nil {
			actor.Admin = admin
		}

		c.Locals(actorLocal, actor)

		return c.Next()
	}
}

// requestContext returns the request context carrying the actor, if any.
func requestContext(c fiber.Ctx) context.Context {
	ctx := c.Context()

	if actor, ok := c.Locals(actorLocal).(identity.Actor); ok {
		ctx = identity.WithActor(ctx, actor)
	}

	return ctx
}
