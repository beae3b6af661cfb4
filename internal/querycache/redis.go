package querycache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "accesscore:query:"

// RedisConfig captures the connection parameters for the Redis-backed store.
type RedisConfig struct {
	Address  string
	Username string
	Password string
	DB       int
}

// RedisStore implements Store on a shared Redis instance so every node sees
// the same query cache.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects eagerly so misconfiguration surfaces at startup.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, errors.New("querycache: redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("querycache: redis ping: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error { return s.client.Close() }

// Set stores the value under the namespaced key.
func (s *RedisStore) Set(ctx context.Context, key Key, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, redisKeyPrefix+key.String(), value, ttl).Err()
}

// Get returns the stored value when present.
func (s *RedisStore) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	value, err := s.client.Get(ctx, redisKeyPrefix+key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Invalidate evicts each key and, via SCAN, everything beneath it.
func (s *RedisStore) Invalidate(ctx context.Context, keys ...Key) error {
	for _, key := range keys {
		exact := redisKeyPrefix + key.String()
		if err := s.client.Del(ctx, exact).Err(); err != nil {
			return fmt.Errorf("querycache: del %s: %w", key.String(), err)
		}

		iter := s.client.Scan(ctx, 0, exact+":*", 128).Iterator()
		var nested []string
		for iter.Next(ctx) {
			nested = append(nested, iter.Val())
			if len(nested) >= 128 {
				if err := s.client.Del(ctx, nested...).Err(); err != nil {
					return fmt.Errorf("querycache: del under %s: %w", key.String(), err)
				}
				nested = nested[:0]
			}
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("querycache: scan %s: %w", key.String(), err)
		}
		if len(nested) > 0 {
			if err := s.client.Del(ctx, nested...).Err(); err != nil {
				return fmt.Errorf("querycache: del under %s: %w", key.String(), err)
			}
		}
	}
	return nil
}
