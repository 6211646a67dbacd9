// Package auth validates the bearer tokens the backbone issues to register
// operators. The register mints no tokens of its own.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/noah-isme/backend-kasir/internal/common"
)

// Claim names carried by backbone-issued tokens.
const (
	claimName       = "name"
	claimPrivileged = "privileged"
	claimLocationID = "locationId"
)

// Verifier checks token signatures and claims and projects them into an
// Actor.
type Verifier struct {
	Secret    []byte
	Issuer    string
	Audience  string
	ClockSkew time.Duration
}

// Parse verifies the raw token and extracts the actor identity.
func (v Verifier) Parse(raw string) (common.Actor, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return common.Actor{}, errors.New("auth: empty token")
	}
	options := []jwt.ParseOption{
		jwt.WithKey(jwa.HS256, v.Secret),
		jwt.WithValidate(true),
	}
	if v.Issuer != "" {
		options = append(options, jwt.WithIssuer(v.Issuer))
	}
	if v.Audience != "" {
		options = append(options, jwt.WithAudience(v.Audience))
	}
	if v.ClockSkew > 0 {
		options = append(options, jwt.WithAcceptableSkew(v.ClockSkew))
	}
	tok, err := jwt.Parse([]byte(raw), options...)
	if err != nil {
		return common.Actor{}, err
	}
	subject := tok.Subject()
	if subject == "" {
		return common.Actor{}, errors.New("auth: token missing subject")
	}
	actor := common.Actor{ID: subject}
	if value, ok := tok.Get(claimName); ok {
		if name, ok := value.(string); ok {
			actor.Name = name
		}
	}
	if value, ok := tok.Get(claimPrivileged); ok {
		if privileged, ok := value.(bool); ok {
			actor.Privileged = privileged
		}
	}
	if value, ok := tok.Get(claimLocationID); ok {
		if locationID, ok := value.(string); ok {
			actor.LocationID = locationID
		}
	}
	if !actor.Privileged && actor.LocationID == "" {
		return common.Actor{}, errors.New("auth: standard actor token missing location")
	}
	return actor, nil
}
