// Package cache is a read-through Redis cache.
//
// Misses are loaded once per key even under concurrent requests (singleflight),
// and a Redis outage degrades to calling the loader directly.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

type Cache struct {
	rdb    *redis.Client
	sf     singleflight.Group
	prefix string
}

func New(addr, pass string, db int) *Cache {
	return NewFromClient(redis.NewClient(&redis.Options{Addr: addr, Password: pass, DB: db}))
}

func NewFromClient(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb, prefix: "channelhub:"}
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	return c.rdb.Close()
}

// GetOrLoad returns the cached bytes for key, or calls load and caches its
// result for ttl. Cache write failures are ignored.
func (c *Cache) GetOrLoad(ctx context.Context, key string, ttl time.Duration, load func(context.Context) ([]byte, error)) ([]byte, error) {
	k := c.prefix + key
	if b, err := c.rdb.Get(ctx, k).Bytes(); err == nil {
		return b, nil
	}

	v, err, _ := c.sf.Do(k, func() (any, error) {
		b, e := load(ctx)
		if e != nil {
			return nil, e
		}
		_ = c.rdb.Set(ctx, k, b, ttl).Err()
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Delete evicts keys.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.prefix + k
	}
	return c.rdb.Del(ctx, full...).Err()
}

// Loader is the read-through half of Cache.
type Loader interface {
	GetOrLoad(ctx context.Context, key string, ttl time.Duration, load func(context.Context) ([]byte, error)) ([]byte, error)
}

// GetOrLoadJSON is GetOrLoad for values that round-trip through JSON.
func GetOrLoadJSON[T any](ctx context.Context, c Loader, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	var out T
	b, err := c.GetOrLoad(ctx, key, ttl, func(ctx context.Context) ([]byte, error) {
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("cache: decoding %s: %w", key, err)
	}
	return out, nil
}
