package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RemoteStore is the shared second tier. Get reports the key's remaining
// lifetime (0 when the key never expires) so local backfills honor the
// original expiry. A clean miss is (nil, 0, false, nil); errors are reserved
// for transport trouble, which the tier translates into breaker failures.
type RemoteStore interface {
	Get(ctx context.Context, key string) (value []byte, remaining time.Duration, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeletePattern(ctx context.Context, pattern string) (int, error)
	Close() error
}

type redisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects a RemoteStore to a Redis server.
func NewRedisStore(addr string, db int) RemoteStore {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	return &redisStore{rdb: rdb}
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, time.Duration, bool, error) {
	val, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, err
	}
	remaining, err := s.rdb.PTTL(ctx, key).Result()
	if err != nil {
		return nil, 0, false, err
	}
	// PTTL reports negative durations for missing keys and keys without an
	// expiry; both mean "no remaining lifetime to honor".
	if remaining < 0 {
		remaining = 0
	}
	return val, remaining, true, nil
}

func (s *redisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

// DeletePattern removes keys matching a glob pattern using SCAN so the
// server is never blocked by a KEYS sweep.
func (s *redisStore) DeletePattern(ctx context.Context, pattern string) (int, error) {
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, pattern, 256).Result()
		if err != nil {
			return removed, err
		}
		if len(keys) > 0 {
			n, err := s.rdb.Del(ctx, keys...).Result()
			removed += int(n)
			if err != nil {
				return removed, err
			}
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

func (s *redisStore) Close() error {
	return s.rdb.Close()
}
