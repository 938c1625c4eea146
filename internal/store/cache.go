package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const tokenKeyPrefix = "formsync:token:"

// TokenCache is the subset of the redis client used by CachedResolver.
type TokenCache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// CachedResolver caches share token resolution in redis. Share tokens never
// move between forms, so cached entries only expire to bound memory. Field
// metadata is never cached: validation always sees the current schema.
type CachedResolver struct {
	Store
	cache  TokenCache
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedResolver wraps st with a redis-backed share token cache.
func NewCachedResolver(st Store, cache TokenCache, ttl time.Duration, logger *slog.Logger) *CachedResolver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &CachedResolver{Store: st, cache: cache, ttl: ttl, logger: logger}
}

// ResolveForm consults redis first and falls back to the wrapped store. A
// redis failure degrades to an uncached lookup.
func (c *CachedResolver) ResolveForm(ctx context.Context, shareToken string) (string, error) {
	key := tokenKeyPrefix + shareToken

	formID, err := c.cache.Get(ctx, key).Result()
	switch {
	case err == nil && formID != "":
		return formID, nil
	case err != nil && !errors.Is(err, redis.Nil):
		c.logger.Warn("token cache read failed", "error", err)
	}

	formID, err = c.Store.ResolveForm(ctx, shareToken)
	if err != nil {
		return "", err
	}

	if err := c.cache.Set(ctx, key, formID, c.ttl).Err(); err != nil {
		c.logger.Warn("token cache write failed", "error", err)
	}
	return formID, nil
}

// Close closes the cache connection and the wrapped store.
func (c *CachedResolver) Close() error {
	cacheErr := c.cache.Close()
	storeErr := c.Store.Close()
	return errors.Join(storeErr, cacheErr)
}
