package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	mu   sync.Mutex
	keys map[string]time.Duration
	err  error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{keys: map[string]time.Duration{}}
}

func (f *fakeRedis) Exists(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.keys[k]; ok {
			n++
		}
	}
	return redis.NewIntResult(n, f.err)
}

func (f *fakeRedis) Set(_ context.Context, key string, _ interface{}, ttl time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err == nil {
		f.keys[key] = ttl
	}
	return redis.NewStatusResult("OK", f.err)
}

func (f *fakeRedis) Ping(_ context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", f.err)
}

func TestRedisLedgerStore(t *testing.T) {
	ctx := context.Background()
	r := newFakeRedis()
	s := NewRedisLedgerStore(r, 0)

	require.NoError(t, s.Connect(ctx))

	seen, err := s.Seen(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, s.Remember(ctx, "m1"))
	assert.Equal(t, DefaultLedgerTTL, r.keys["triage:processed:m1"])

	seen, err = s.Seen(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestRedisLedgerStore_Errors(t *testing.T) {
	ctx := context.Background()
	r := newFakeRedis()
	r.err = errors.New("connection refused")
	s := NewRedisLedgerStore(r, time.Hour)

	require.Error(t, s.Connect(ctx))
	_, err := s.Seen(ctx, "m1")
	require.Error(t, err)
	require.Error(t, s.Remember(ctx, "m1"))
}
