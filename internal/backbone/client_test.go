package backbone_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-kasir/internal/backbone"
	"github.com/noah-isme/backend-kasir/internal/commission"
	"github.com/noah-isme/backend-kasir/internal/resilience"
)

func newClient(t *testing.T, handler http.Handler) *backbone.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &backbone.Client{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		HTTP: &resilience.HTTPClient{
			Client:      srv.Client(),
			Breaker:     resilience.NewBreaker(10, 0.9, time.Second),
			BaseBackoff: time.Millisecond,
			MaxAttempts: 2,
		},
	}
}

func TestSearchItemsForwardsAuth(t *testing.T) {
	var gotPath, gotQuery, gotAuth, gotKey string
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("q")
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("X-Api-Key")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []backbone.Item{{ID: "p1", Code: "ABC", Name: "Soda", Price: 10, AvailableStock: 5}},
		})
	}))

	ctx := backbone.WithBearerToken(context.Background(), "actor-token")
	items, err := client.SearchItems(ctx, "loc-1", "ABC")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "/v1/locations/loc-1/items", gotPath)
	require.Equal(t, "ABC", gotQuery)
	require.Equal(t, "Bearer actor-token", gotAuth)
	require.Equal(t, "test-key", gotKey)

	line := items[0].ToLineItem()
	require.Equal(t, int64(10), line.UnitPrice)
}

func TestSubmitTransactionSurfacesRemoteMessage(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"code": "SESSION_CLOSED", "message": "la sesion ya fue cerrada"},
		})
	}))

	_, err := client.SubmitTransaction(context.Background(), backbone.SubmitPayload{})
	require.Error(t, err)
	var remote *backbone.RemoteError
	require.ErrorAs(t, err, &remote)
	require.Equal(t, http.StatusConflict, remote.StatusCode)
	require.Equal(t, "SESSION_CLOSED", remote.Code)
	require.Equal(t, "la sesion ya fue cerrada", remote.Message)
}

func TestSubmitTransactionGenericFallback(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("not json"))
	}))

	_, err := client.SubmitTransaction(context.Background(), backbone.SubmitPayload{})
	var remote *backbone.RemoteError
	require.ErrorAs(t, err, &remote)
	require.Contains(t, remote.Error(), "status 400")
}

func TestCachedTiersSkipsSecondFetch(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	var calls int
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(map[string]any{
			"tiers": []commission.Tier{{Threshold: 1000, Fee: 50}},
		})
	}))

	cached := backbone.CachedTiers{Source: client, Cache: backbone.NewCache(rdb, time.Minute)}
	ctx := context.Background()

	tiers, err := cached.CommissionTiers(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, tiers, 1)

	tiers, err = cached.CommissionTiers(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, tiers, 1)
	require.Equal(t, 1, calls, "second lookup should hit the cache")
}
