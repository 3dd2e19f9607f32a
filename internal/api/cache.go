package api

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const cacheKeyPrefix = "opexledger:"

// Cache holds serialised read responses.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte)
	// Invalidate drops every cached response.
	Invalidate(ctx context.Context)
}

// NoopCache disables caching.
type NoopCache struct{}

func (NoopCache) Get(context.Context, string) ([]byte, bool) { return nil, false }
func (NoopCache) Set(context.Context, string, []byte) {}
func (NoopCache) Invalidate(context.Context) {}

// RedisCache is a read-through cache backed by Redis. Errors are logged and
// treated as misses.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

var (
	_ Cache = NoopCache{}
	_ Cache = (*RedisCache)(nil)
)

// NewCache connects to addr. An empty addr or an unreachable server falls
// back to NoopCache.
func NewCache(ctx context.Context, addr string, ttl time.Duration, log zerolog.Logger) Cache {
	if addr == "" {
		log.Info().Msg("redis address not set, response cache disabled")
		return NoopCache{}
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", addr).Msg("redis unreachable, response cache disabled")
		_ = client.Close()
		return NoopCache{}
	}

	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	log.Info().Str("addr", addr).Dur("ttl", ttl).Msg("response cache enabled")
	return &RedisCache{client: client, ttl: ttl, log: log}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	value, err := c.client.Get(ctx, cacheKeyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn().Err(err).Str("key", key).Msg("redis GET failed")
		}
		return nil, false
	}
	return value, true
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte) {
	if err := c.client.Set(ctx, cacheKeyPrefix+key, value, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("redis SET failed")
	}
}

func (c *RedisCache) Invalidate(ctx context.Context) {
	iter := c.client.Scan(ctx, 0, cacheKeyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.log.Warn().Err(err).Msg("redis SCAN failed")
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.log.Warn().Err(err).Msg("redis DEL failed")
	}
}

// Close releases the client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
