package roles

import (
	"context"

	"github.com/google/uuid"

	"github.com/carenet/carenet/internal/domain"
)

// Actor is the authenticated caller with its stored active roles.
type Actor struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Roles Set       `json:"roles"`
}

// System is the actor used by operator commands.
func System() *Actor {
	return &Actor{ID: uuid.Nil, Name: "system", Roles: Set{SystemAdmin}}
}

func (a *Actor) Has(r Role) bool { return a != nil && a.Roles.Has(r) }

func (a *Actor) IsAdmin() bool { return a.Has(SystemAdmin) }

// RoleLabel is recorded as the audit actor role.
func (a *Actor) RoleLabel() string {
	if a == nil {
		return ""
	}
	return a.Roles.Label()
}

type actorKey struct{}

func WithActor(ctx context.Context, a *Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

func ActorFromContext(ctx context.Context) (*Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(*Actor)
	return a, ok && a != nil
}

// RequireActor is ActorFromContext for services that refuse anonymous calls.
func RequireActor(ctx context.Context) (*Actor, error) {
	a, ok := ActorFromContext(ctx)
	if !ok {
		return nil, domain.ErrUnauthorized
	}
	return a, nil
}
