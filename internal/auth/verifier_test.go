package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-kasir/internal/auth"
	"github.com/noah-isme/backend-kasir/internal/common"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func signToken(t *testing.T, mutate func(b *jwt.Builder)) string {
	t.Helper()
	builder := jwt.NewBuilder().
		Subject("actor-1").
		Issuer("backbone").
		Audience([]string{"kasir"}).
		IssuedAt(time.Now()).
		Expiration(time.Now().Add(time.Hour)).
		Claim("name", "Ana").
		Claim("privileged", false).
		Claim("locationId", "loc-1")
	if mutate != nil {
		mutate(builder)
	}
	tok, err := builder.Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, testSecret))
	require.NoError(t, err)
	return string(signed)
}

func newVerifier() auth.Verifier {
	return auth.Verifier{
		Secret:    testSecret,
		Issuer:    "backbone",
		Audience:  "kasir",
		ClockSkew: time.Minute,
	}
}

func TestParseExtractsActor(t *testing.T) {
	actor, err := newVerifier().Parse(signToken(t, nil))
	require.NoError(t, err)
	require.Equal(t, "actor-1", actor.ID)
	require.Equal(t, "Ana", actor.Name)
	require.False(t, actor.Privileged)
	require.Equal(t, "loc-1", actor.LocationID)
}

func TestParseRejectsBadTokens(t *testing.T) {
	verifier := newVerifier()

	_, err := verifier.Parse("")
	require.Error(t, err)

	_, err = verifier.Parse("not-a-token")
	require.Error(t, err)

	expired := signToken(t, func(b *jwt.Builder) {
		b.Expiration(time.Now().Add(-time.Hour))
	})
	_, err = verifier.Parse(expired)
	require.Error(t, err)

	wrongIssuer := signToken(t, func(b *jwt.Builder) {
		b.Issuer("someone-else")
	})
	_, err = verifier.Parse(wrongIssuer)
	require.Error(t, err)
}

func TestParseRequiresLocationForStandardActors(t *testing.T) {
	noLocation := signToken(t, func(b *jwt.Builder) {
		b.Claim("locationId", "")
	})
	_, err := newVerifier().Parse(noLocation)
	require.Error(t, err)

	privileged := signToken(t, func(b *jwt.Builder) {
		b.Claim("privileged", true)
		b.Claim("locationId", "")
	})
	actor, err := newVerifier().Parse(privileged)
	require.NoError(t, err)
	require.True(t, actor.Privileged)
}

func TestRequireActorMiddleware(t *testing.T) {
	middleware := auth.Middleware{Verifier: newVerifier(), Logger: zerolog.Nop()}

	var seen common.Actor
	handler := middleware.RequireActor(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = common.ActorFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, nil))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "actor-1", seen.ID)
}

func TestRequirePrivileged(t *testing.T) {
	middleware := auth.Middleware{Verifier: newVerifier(), Logger: zerolog.Nop()}
	handler := middleware.RequirePrivileged(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, nil))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}
