package common

import "context"

type ctxKey string

const actorKey ctxKey = "auth/actor"

// Actor identifies the authenticated register operator.
type Actor struct {
	ID         string
	Name       string
	Privileged bool
	// LocationID is the location a standard actor is bound to. Privileged
	// actors carry an empty value and select a location per request.
	LocationID string
}

// WithActor stores the authenticated actor on the provided context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFrom extracts the authenticated actor from the context if present.
func ActorFrom(ctx context.Context) (Actor, bool) {
	v := ctx.Value(actorKey)
	if v == nil {
		return Actor{}, false
	}
	actor, ok := v.(Actor)
	return actor, ok
}
