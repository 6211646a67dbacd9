package backbone

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/backend-kasir/internal/commission"
)

// Cache wraps Redis helpers for JSON payloads fetched from the backbone.
// A nil cache or client degrades to pass-through.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache constructs a cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// GetJSON unmarshals a cached payload into dst. It reports whether the key
// existed.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	if c == nil || c.client == nil || key == "" {
		return false, nil
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON serialises v and stores it with the configured TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, v any) error {
	if c == nil || c.client == nil || key == "" {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

func tierKey(accountID string) string {
	return "kasir:tiers:" + accountID
}

func fundSourceKey(locationID string) string {
	return "kasir:fundsrc:" + locationID
}

// TierSource resolves commission schedules for accounts.
type TierSource interface {
	CommissionTiers(ctx context.Context, accountID string) ([]commission.Tier, error)
}

// CachedTiers decorates a TierSource with the Redis cache. Fee schedules
// change rarely, so a short TTL keeps submissions off the backbone's hot
// path without risking stale fees for long.
type CachedTiers struct {
	Source TierSource
	Cache  *Cache
}

// CommissionTiers implements TierSource.
func (c CachedTiers) CommissionTiers(ctx context.Context, accountID string) ([]commission.Tier, error) {
	key := tierKey(accountID)
	var cached []commission.Tier
	if hit, err := c.Cache.GetJSON(ctx, key, &cached); err == nil && hit {
		return cached, nil
	}
	tiers, err := c.Source.CommissionTiers(ctx, accountID)
	if err != nil {
		return nil, err
	}
	_ = c.Cache.SetJSON(ctx, key, tiers)
	return tiers, nil
}

// FundSourceLister resolves the usable fund sources of a location.
type FundSourceLister interface {
	FundSources(ctx context.Context, locationID string) ([]FundSource, error)
}

// CachedFundSources decorates a FundSourceLister with the Redis cache.
type CachedFundSources struct {
	Source FundSourceLister
	Cache  *Cache
}

// FundSources implements FundSourceLister.
func (c CachedFundSources) FundSources(ctx context.Context, locationID string) ([]FundSource, error) {
	key := fundSourceKey(locationID)
	var cached []FundSource
	if hit, err := c.Cache.GetJSON(ctx, key, &cached); err == nil && hit {
		return cached, nil
	}
	sources, err := c.Source.FundSources(ctx, locationID)
	if err != nil {
		return nil, err
	}
	_ = c.Cache.SetJSON(ctx, key, sources)
	return sources, nil
}
