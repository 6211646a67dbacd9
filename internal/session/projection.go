package session

import (
	"context"

	"github.com/noah-isme/backend-kasir/internal/backbone"
	"github.com/noah-isme/backend-kasir/internal/common"
)

// Source reads live session state from the backbone.
type Source interface {
	ActiveSession(ctx context.Context) (*backbone.Session, error)
	OpenSessions(ctx context.Context, locationID string) ([]backbone.Session, error)
}

// Loader builds guard projections. It fetches the minimum the actor class
// needs: standard actors only see their own session, privileged actors also
// see the open sessions at the selected location.
type Loader struct {
	Source Source
}

// Load resolves the projection for the actor at the given location. For
// standard actors locationID falls back to the location they are bound to.
func (l Loader) Load(ctx context.Context, actor common.Actor, locationID string) (Projection, error) {
	if locationID == "" {
		locationID = actor.LocationID
	}
	own, err := l.Source.ActiveSession(ctx)
	if err != nil {
		return Projection{}, err
	}
	p := Projection{LocationID: locationID, Own: own}
	if !actor.Privileged {
		return p, nil
	}
	open, err := l.Source.OpenSessions(ctx, locationID)
	if err != nil {
		return Projection{}, err
	}
	p.OpenAtLocation = open
	return p, nil
}
