package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// CounterStore implements ports.CounterStore with INCR + EXPIRE NX.
// The expiry is set once when the key is created, which gives a fixed window
// anchored at the first increment.
type CounterStore struct {
	client *goredis.Client
}

// NewCounterStore creates a new Redis-backed counter store.
func NewCounterStore(client *goredis.Client) *CounterStore {
	return &CounterStore{client: client}
}

// Increment adds one to key and returns the new value. INCR and EXPIRE NX go
// out in one MULTI/EXEC, so a key never outlives a failed expiry and a key
// left without one picks it up on the next increment.
func (s *CounterStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var incr *goredis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis counter incr: %w", err)
	}
	return incr.Val(), nil
}

// Get returns the counter value and the time left in its window.
// A missing key reads as 0, 0. A key found without an expiry gets ttl so a
// stuck counter cannot lock the caller out for good.
func (s *CounterStore) Get(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error) {
	count, err := s.client.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("redis counter get: %w", err)
	}

	left, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return count, 0, fmt.Errorf("redis counter ttl: %w", err)
	}
	switch {
	case left == -1:
		if err := s.client.ExpireNX(ctx, key, ttl).Err(); err != nil {
			return count, 0, fmt.Errorf("redis counter expire: %w", err)
		}
		left = ttl
	case left < 0:
		left = 0
	}
	return count, left, nil
}
