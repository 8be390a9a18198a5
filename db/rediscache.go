package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/EFForg/availability-backend/config"
	"github.com/EFForg/availability-backend/models"
)

const redisKeyPrefix = "availability:cache:"

// RedisCache is a CacheStore shared by every process pointing at the same
// Redis. Expiration is delegated to Redis key TTLs.
type RedisCache struct {
	client *redis.Client
	clock  func() time.Time
}

// InitRedisCache connects to the configured Redis and pings it.
func InitRedisCache(ctx context.Context, cfg config.CacheConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddress, err)
	}
	return NewRedisCache(client), nil
}

// NewRedisCache wraps an existing client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, clock: time.Now}
}

func redisKey(kind models.CacheKind, subject string) string {
	return redisKeyPrefix + string(kind) + ":" + subject
}

// GetCache returns the record for (kind, subject) while it has not expired.
func (c *RedisCache) GetCache(ctx context.Context, kind models.CacheKind, subject string) (*models.CacheRecord, error) {
	raw, err := c.client.Get(ctx, redisKey(kind, subject)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, integrity("cache get", subject, err)
	}
	var record models.CacheRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, integrity("cache decode", subject, err)
	}
	if record.Expired(c.clock()) {
		return nil, nil
	}
	return &record, nil
}

// PutCache stores the payload with a TTL of ttlDays days.
func (c *RedisCache) PutCache(ctx context.Context, kind models.CacheKind, subject, payload string, ttlDays int) error {
	ttl := time.Duration(ttlDays) * 24 * time.Hour
	key := redisKey(kind, subject)
	if ttl <= 0 {
		return integrity("cache put", subject, c.client.Del(ctx, key).Err())
	}
	raw, err := json.Marshal(models.CacheRecord{
		Kind:            kind,
		Subject:         subject,
		Payload:         payload,
		ExpirationEpoch: models.ExpirationFor(c.clock(), ttlDays),
	})
	if err != nil {
		return integrity("cache encode", subject, err)
	}
	return integrity("cache put", subject, c.client.SetEx(ctx, key, raw, ttl).Err())
}

// PurgeExpired is a no-op: Redis evicts expired keys itself.
func (c *RedisCache) PurgeExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// GetName retrieves a readable name for this data store (for use in error messages)
func (c *RedisCache) GetName() string {
	return "Redis Cache (" + c.client.Options().Addr + ")"
}

// Close closes the client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
