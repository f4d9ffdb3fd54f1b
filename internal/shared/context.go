package shared

import "context"

// ActorRole identifies which side of a financing flow the caller acts for.
type ActorRole string

const (
	RoleBuyer     ActorRole = "BUYER"
	RoleSeller    ActorRole = "SELLER"
	RoleFinancier ActorRole = "FINANCIER"
	// RoleSystem marks background sweeps and internal callers.
	RoleSystem ActorRole = "SYSTEM"
)

// Actor is the caller identity attached to every engine operation.
// Authentication happens upstream; the gateway forwards the verified identity.
type Actor struct {
	ID   int64
	Role ActorRole
}

// System returns the actor used by background jobs.
func System() Actor {
	return Actor{Role: RoleSystem}
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) Actor {
	actor, _ := ctx.Value(actorContextKey{}).(Actor)
	return actor
}
