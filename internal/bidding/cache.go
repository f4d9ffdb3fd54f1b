package bidding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheVersionKey = "bids:version"

// Cache keeps bid listings in Redis with versioned keys. Any marketplace
// write bumps the version, invalidating every cached listing at once.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.Set(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// FetchBids loads a cached listing or populates it using the loader. A nil
// cache degrades to calling the loader directly.
func (c *Cache) FetchBids(ctx context.Context, invoiceID int64, loader func(context.Context) ([]Bid, error)) ([]Bid, error) {
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	ver, err := c.version(ctx)
	if err != nil {
		return loader(ctx)
	}
	key := fmt.Sprintf("bids:invoice:%d:%d", invoiceID, ver)

	raw, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var bids []Bid
		if err := json.Unmarshal(raw, &bids); err == nil {
			return bids, nil
		}
	}

	bids, err := loader(ctx)
	if err != nil {
		return nil, err
	}
	if encoded, err := json.Marshal(bids); err == nil {
		_ = c.client.Set(ctx, key, encoded, c.ttl).Err()
	}
	return bids, nil
}

// Bump invalidates all cached listings.
func (c *Cache) Bump(ctx context.Context) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Incr(ctx, cacheVersionKey).Err()
}
