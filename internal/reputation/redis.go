package reputation

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Ant0nioSouza/callguard/pkg/models"
)

const (
	reputationKeyPrefix = "reputation:"
	defaultCacheTTL     = 10 * time.Minute
	// marcador para números sem registro
	unknownMarker = "-"
)

// RedisCache fronts a slower Store. Misses are cached too, so an unknown
// number does not hit the backing store on every call.
type RedisCache struct {
	client *redis.Client
	next   Store
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, next Store, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &RedisCache{client: client, next: next, ttl: ttl}
}

func (c *RedisCache) Lookup(ctx context.Context, phoneNumber string) (*models.Reputation, error) {
	key := c.key(phoneNumber)

	val, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		if val == unknownMarker {
			return nil, nil
		}
		var r models.Reputation
		if err := json.Unmarshal([]byte(val), &r); err == nil {
			return &r, nil
		}
		// entrada corrompida: cai para a fonte
	case err != redis.Nil:
		log.Printf("reputation: redis get %s: %v", key, err)
	}

	r, err := c.next.Lookup(ctx, phoneNumber)
	if err != nil {
		return nil, err
	}

	payload := unknownMarker
	if r != nil {
		b, err := json.Marshal(r)
		if err != nil {
			return r, nil
		}
		payload = string(b)
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		log.Printf("reputation: redis set %s: %v", key, err)
	}
	return r, nil
}

// Invalidate drops the cached entry for a number.
func (c *RedisCache) Invalidate(ctx context.Context, phoneNumber string) error {
	return c.client.Del(ctx, c.key(phoneNumber)).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) key(phoneNumber string) string {
	return reputationKeyPrefix + Normalize(phoneNumber)
}
