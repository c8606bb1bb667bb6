// Package cache memoises eligibility verdicts per user, in process, in
// Redis, or in both tiers.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// ErrUserRequired is returned when a call omits the owning user.
var ErrUserRequired = errors.New("userID is required")

// defaultLocalTTL caps how long the near tier trusts an entry.
const defaultLocalTTL = 5 * time.Minute

// New creates the cache described by cfg.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil
	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg)
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// TwoPhaseCache reads the local LRU before Redis and backfills it on a
// Redis hit. Local entries live at most LocalTTL, so another node's purge
// is visible here within that bound.
type TwoPhaseCache struct {
	near  *LRUCache
	far   *RedisCache
	nearT time.Duration
}

// NewTwoPhaseCache connects to Redis and builds the local tier.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	far, err := NewRedisCache(cfg)
	if err != nil {
		return nil, err
	}
	nearT := cfg.LocalTTL
	if nearT <= 0 {
		nearT = defaultLocalTTL
	}
	return &TwoPhaseCache{
		near:  NewLRUCache(cfg.LocalMaxSize),
		far:   far,
		nearT: nearT,
	}, nil
}

func (c *TwoPhaseCache) Get(ctx context.Context, userID, key string) ([]byte, error) {
	if val, err := c.near.Get(ctx, userID, key); err != nil || val != nil {
		return val, err
	}

	val, err := c.far.Get(ctx, userID, key)
	if err != nil || val == nil {
		return nil, err
	}
	_ = c.near.Set(ctx, userID, key, val, c.nearT)
	return val, nil
}

func (c *TwoPhaseCache) Set(ctx context.Context, userID, key string, value []byte, ttl time.Duration) error {
	if err := c.near.Set(ctx, userID, key, value, min(ttl, c.nearT)); err != nil {
		return err
	}
	return c.far.Set(ctx, userID, key, value, ttl)
}

func (c *TwoPhaseCache) Delete(ctx context.Context, userID, key string) error {
	if err := c.near.Delete(ctx, userID, key); err != nil {
		return err
	}
	return c.far.Delete(ctx, userID, key)
}

func (c *TwoPhaseCache) Purge(ctx context.Context, userID string) error {
	if err := c.near.Purge(ctx, userID); err != nil {
		return err
	}
	return c.far.Purge(ctx, userID)
}

func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.far.Ping(ctx); err != nil {
		return fmt.Errorf("redis tier: %w", err)
	}
	return nil
}

func (c *TwoPhaseCache) Close() error {
	return errors.Join(c.near.Close(), c.far.Close())
}

// Stats reports the local tier.
func (c *TwoPhaseCache) Stats() Stats {
	return c.near.Stats()
}
