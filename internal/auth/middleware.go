package auth

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-kasir/internal/backbone"
	"github.com/noah-isme/backend-kasir/internal/common"
)

// Middleware wires the verified actor into request contexts. The raw token is
// kept alongside so outbound backbone calls can forward the operator's
// credentials.
type Middleware struct {
	Verifier Verifier
	Logger   zerolog.Logger
}

// RequireActor rejects requests without a valid bearer token.
func (m Middleware) RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
			return
		}
		actor, err := m.Verifier.Parse(token)
		if err != nil {
			m.Logger.Debug().Err(err).Msg("token rejected")
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
			return
		}
		ctx := common.WithActor(r.Context(), actor)
		ctx = backbone.WithBearerToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequirePrivileged additionally restricts the route to privileged actors.
func (m Middleware) RequirePrivileged(next http.Handler) http.Handler {
	return m.RequireActor(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, _ := common.ActorFrom(r.Context())
		if !actor.Privileged {
			common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "privileged actor required", nil)
			return
		}
		next.ServeHTTP(w, r)
	}))
}

func extractToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
