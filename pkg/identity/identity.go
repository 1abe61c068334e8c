// Package identity carries the acting user through a request and decides what it may write.
package identity

import (
	"context"
	"slices"
)

type contextKey string

const actorKey contextKey = "actor"

// Actor is the user on whose behalf an operation runs.
type Actor struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles,omitempty"`
	Admin  bool     `json:"admin,omitempty"`
}

// System is the actor used by background jobs.
var System = Actor{UserID: "system", Admin: true}

// HasRole reports whether the actor holds role.
func (a Actor) HasRole(role string) bool {
	return slices.Contains(a.Roles, role)
}

// WithActor returns a context carrying actor.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// FromContext returns the actor stored in ctx.
func FromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey).(Actor)

	return actor, ok
}
