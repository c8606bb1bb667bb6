package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opensource-finance/harrier/internal/domain"
)

// RedisCache shares verdicts across API nodes. Each user has an index set
// listing their live keys; the braces keep a user's keys in one cluster slot.
//
//	harrier:{user}:v:<key>  value
//	harrier:{user}:idx      set of <key>
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects using the Redis fields of cfg.
func NewRedisCache(cfg domain.CacheConfig) (*RedisCache, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &RedisCache{client: client}, nil
}

func valueKey(userID, key string) string {
	return "harrier:{" + userID + "}:v:" + key
}

func indexKey(userID string) string {
	return "harrier:{" + userID + "}:idx"
}

func (c *RedisCache) Get(ctx context.Context, userID, key string) ([]byte, error) {
	if userID == "" {
		return nil, ErrUserRequired
	}
	val, err := c.client.Get(ctx, valueKey(userID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return val, err
}

// Set writes the value and indexes it. The index lives as long as its
// longest-lived entry.
func (c *RedisCache) Set(ctx context.Context, userID, key string, value []byte, ttl time.Duration) error {
	if userID == "" {
		return ErrUserRequired
	}
	idx := indexKey(userID)
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, valueKey(userID, key), value, ttl)
		p.SAdd(ctx, idx, key)
		p.ExpireNX(ctx, idx, ttl)
		p.ExpireGT(ctx, idx, ttl)
		return nil
	})
	return err
}

func (c *RedisCache) Delete(ctx context.Context, userID, key string) error {
	if userID == "" {
		return ErrUserRequired
	}
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, valueKey(userID, key))
		p.SRem(ctx, indexKey(userID), key)
		return nil
	})
	return err
}

func (c *RedisCache) Purge(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrUserRequired
	}
	idx := indexKey(userID)
	keys, err := c.client.SMembers(ctx, idx).Result()
	if err != nil {
		return err
	}

	doomed := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		doomed = append(doomed, valueKey(userID, k))
	}
	doomed = append(doomed, idx)
	return c.client.Del(ctx, doomed...).Err()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
