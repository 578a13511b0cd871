package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// CredentialCache caches resolved tool credentials (e.g. a postgres DSN or
// an LLM API key resolved from a secrets backend) keyed by catalog path,
// so a worker does not re-resolve them on every command claim. Spec.md §2
// names this as the cache layer's first use case.
type CredentialCache struct {
	cache *RedisCache
	ttl   time.Duration
}

func NewCredentialCache(cache *RedisCache, ttl time.Duration) *CredentialCache {
	return &CredentialCache{cache: cache, ttl: ttl}
}

func (c *CredentialCache) Get(ctx context.Context, key string, out any) (bool, error) {
	raw, err := c.cache.Get(ctx, "cred:"+key)
	if err != nil {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("cache: decode credential %q: %w", key, err)
	}
	return true, nil
}

func (c *CredentialCache) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode credential %q: %w", key, err)
	}
	return c.cache.Set(ctx, "cred:"+key, raw, c.ttl)
}
