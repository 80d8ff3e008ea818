package payroll

import (
	"context"
	"slices"

	"github.com/google/uuid"
)

// Role is a coarse permission held by an actor
type Role string

const (
	RolePayrollManager Role = "payroll_manager"
	RolePayrollAdmin   Role = "payroll_admin"
	RoleSystem         Role = "system"
)

// SystemActorID identifies automated work (queue workers, scheduled cleanup)
var SystemActorID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// Actor is the resolved identity of the caller
type Actor struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Roles     []Role    `json:"roles,omitempty"`
}

// SystemActor returns the actor used for automated work
func SystemActor() Actor {
	return Actor{ID: SystemActorID, Email: "system@payroll", Roles: []Role{RoleSystem, RolePayrollAdmin}}
}

// IsAuthenticated reports whether an identity was resolved
func (a Actor) IsAuthenticated() bool {
	return a.ID != uuid.Nil
}

// HasRole checks role membership
func (a Actor) HasRole(role Role) bool {
	return slices.Contains(a.Roles, role)
}

// IsAdmin reports whether the actor may force transitions and run maintenance
func (a Actor) IsAdmin() bool {
	return a.HasRole(RolePayrollAdmin)
}

type actorKey struct{}

// ContextWithActor stores the actor in the context
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext retrieves the actor from the context
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(Actor)
	return actor, ok
}
