// Package cache holds the Redis-backed processed-message ledger.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"triage_server/core/port/out"
)

const (
	ledgerKeyPrefix  = "triage:processed:"
	DefaultLedgerTTL = 48 * time.Hour
)

// redisKV is the part of *redis.Client the ledger needs.
type redisKV interface {
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisLedgerStore remembers processed message ids with a TTL so the
// dedup ledger survives restarts.
type RedisLedgerStore struct {
	client redisKV
	ttl    time.Duration
}

func NewRedisLedgerStore(client redisKV, ttl time.Duration) *RedisLedgerStore {
	if ttl <= 0 {
		ttl = DefaultLedgerTTL
	}
	return &RedisLedgerStore{client: client, ttl: ttl}
}

func (s *RedisLedgerStore) Name() string {
	return "redis_ledger"
}

func (s *RedisLedgerStore) Connect(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

func (s *RedisLedgerStore) Seen(ctx context.Context, messageID string) (bool, error) {
	n, err := s.client.Exists(ctx, ledgerKeyPrefix+messageID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check ledger: %w", err)
	}
	return n > 0, nil
}

func (s *RedisLedgerStore) Remember(ctx context.Context, messageID string) error {
	value := time.Now().UTC().Format(time.RFC3339)
	if err := s.client.Set(ctx, ledgerKeyPrefix+messageID, value, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to remember %s: %w", messageID, err)
	}
	return nil
}

var (
	_ out.LedgerStore = (*RedisLedgerStore)(nil)
	_ out.Connector   = (*RedisLedgerStore)(nil)
)
