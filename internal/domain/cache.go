package domain

import (
	"context"
	"time"
)

// Cache stores memoised verdicts. Every entry belongs to one user; a user's
// entries are never visible to another and can be dropped together.
type Cache interface {
	// Get returns nil, nil on a miss or an expired entry.
	Get(ctx context.Context, userID string, key string) ([]byte, error)

	Set(ctx context.Context, userID string, key string, value []byte, ttl time.Duration) error

	Delete(ctx context.Context, userID string, key string) error

	// Purge drops every entry of userID, e.g. after the card history changed.
	Purge(ctx context.Context, userID string) error

	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is "memory" (in-process LRU) or "redis".
	Type string `mapstructure:"type" json:"type"`

	// In-process LRU, also the near tier when two-phase is enabled.
	LocalMaxSize int           `mapstructure:"localmaxsize" json:"localMaxSize"`
	LocalTTL     time.Duration `mapstructure:"localttl" json:"localTtl"`

	RedisAddr     string `mapstructure:"redisaddr" json:"redisAddr"`
	RedisPassword string `mapstructure:"redispassword" json:"-"`
	RedisDB       int    `mapstructure:"redisdb" json:"redisDb"`

	// EnableTwoPhase fronts Redis with the local LRU.
	EnableTwoPhase bool `mapstructure:"enabletwophase" json:"enableTwoPhase"`

	// VerdictTTL bounds how long a memoised verdict is reused.
	VerdictTTL time.Duration `mapstructure:"verdictttl" json:"verdictTtl"`
}
