// Package session decides whether an actor may open, close, or transact
// against a location's drawer session.
package session

import (
	"github.com/noah-isme/backend-kasir/internal/backbone"
	"github.com/noah-isme/backend-kasir/internal/common"
)

// Action is what the actor is trying to do.
type Action string

const (
	// ActionOpen opens a new drawer session at the location.
	ActionOpen Action = "open"
	// ActionTransact assembles and submits sales against the session.
	ActionTransact Action = "transact"
	// ActionClose closes the actor's own session.
	ActionClose Action = "close"
)

// Denial reason codes.
const (
	ReasonNoActiveSession     = "NO_ACTIVE_SESSION"
	ReasonSessionOwnedByOther = "SESSION_OWNED_BY_OTHER"
	ReasonSessionAlreadyOpen  = "SESSION_ALREADY_OPEN"
)

// Projection is the live session state the guard evaluates against. Own is
// the actor's active session anywhere; OpenAtLocation lists every open
// session at the selected location, which only privileged actors can see
// beyond their own.
type Projection struct {
	LocationID     string
	Own            *backbone.Session
	OpenAtLocation []backbone.Session
}

// Blocker identifies the session owner standing in the actor's way.
type Blocker struct {
	OwnerActorID string `json:"ownerActorId"`
	OwnerName    string `json:"ownerName"`
	LocationName string `json:"locationName"`
}

// Result is the guard's verdict.
type Result struct {
	Allowed   bool     `json:"allowed"`
	Reason    string   `json:"reason,omitempty"`
	BlockedBy *Blocker `json:"blockedBy,omitempty"`
}

// Evaluate is a pure predicate over the actor and projection. Callers
// re-invoke it whenever the projection changes; it holds no state of its own.
func Evaluate(actor common.Actor, action Action, p Projection) Result {
	if actor.Privileged {
		return evaluatePrivileged(actor, action, p)
	}
	return evaluateStandard(actor, action, p)
}

// evaluateStandard covers actors bound to a single location: only their own
// session can exist in their scope, so no cross-actor checks apply.
func evaluateStandard(_ common.Actor, action Action, p Projection) Result {
	hasOwn := p.Own != nil && p.Own.IsOpen
	switch action {
	case ActionOpen:
		if hasOwn {
			return deny(ReasonSessionAlreadyOpen, nil)
		}
		return allow()
	case ActionClose, ActionTransact:
		if !hasOwn {
			return deny(ReasonNoActiveSession, nil)
		}
		return allow()
	default:
		return deny(ReasonNoActiveSession, nil)
	}
}

// evaluatePrivileged covers actors operating across locations. A foreign open
// session at the selected location blocks everything: transacting on top of
// another actor's drawer is forbidden, and the session is read-only from this
// actor's point of view.
func evaluatePrivileged(actor common.Actor, action Action, p Projection) Result {
	var own, foreign *backbone.Session
	for i := range p.OpenAtLocation {
		ses := &p.OpenAtLocation[i]
		if !ses.IsOpen {
			continue
		}
		if ses.OwnerActorID == actor.ID {
			own = ses
		} else if foreign == nil {
			foreign = ses
		}
	}

	switch action {
	case ActionOpen:
		if own != nil {
			return deny(ReasonSessionAlreadyOpen, nil)
		}
		if foreign != nil {
			return deny(ReasonSessionAlreadyOpen, blockerFor(foreign))
		}
		return allow()
	case ActionTransact:
		if foreign != nil {
			return deny(ReasonSessionOwnedByOther, blockerFor(foreign))
		}
		if own == nil {
			return deny(ReasonNoActiveSession, nil)
		}
		return allow()
	case ActionClose:
		if own != nil {
			return allow()
		}
		if foreign != nil {
			return deny(ReasonSessionOwnedByOther, blockerFor(foreign))
		}
		return deny(ReasonNoActiveSession, nil)
	default:
		return deny(ReasonNoActiveSession, nil)
	}
}

func blockerFor(ses *backbone.Session) *Blocker {
	return &Blocker{
		OwnerActorID: ses.OwnerActorID,
		OwnerName:    ses.OwnerName,
		LocationName: ses.LocationName,
	}
}

func allow() Result {
	return Result{Allowed: true}
}

func deny(reason string, blockedBy *Blocker) Result {
	return Result{Allowed: false, Reason: reason, BlockedBy: blockedBy}
}
