package shared

import "context"

// Actor identifies the tenant and user performing an operation. Every service
// operation receives one explicitly; there is no fallback tenant.
type Actor struct {
	TenantID int64
	UserID   int64
}

// Valid reports whether the actor carries a usable tenant identity.
func (a Actor) Valid() bool {
	return a.TenantID > 0 && a.UserID > 0
}

type actorContextKey struct{}

// ContextWithActor stores the acting tenant/user in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context. Absence of tenant context
// is a hard error, never a default.
func ActorFromContext(ctx context.Context) (Actor, error) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	if !ok || !actor.Valid() {
		return Actor{}, ErrNoTenant
	}
	return actor, nil
}
