package noncereg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"posed/internal/domain"
	"posed/internal/usecase"
)

// RedisRegistry is the shared-registry option for deployments where
// several verifier processes must agree on consumed nonces. Atomicity
// of Consume is pushed into redis (SET NX PX), so there is no
// check-then-commit window across processes.
type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRegistry(addr, password string, db int, ttl time.Duration) (*RedisRegistry, error) {
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	if ttl <= 0 {
		return nil, errors.New("nonce ttl must be positive")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisRegistry{client: client, ttl: ttl}, nil
}

func (r *RedisRegistry) Seen(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, redisKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: exists: %v", domain.ErrRegistryUnavailable, err)
	}
	return n > 0, nil
}

func (r *RedisRegistry) Record(ctx context.Context, key string) error {
	if err := r.client.Set(ctx, redisKey(key), "1", r.ttl).Err(); err != nil {
		return fmt.Errorf("%w: set: %v", domain.ErrRegistryUnavailable, err)
	}
	return nil
}

func (r *RedisRegistry) Consume(ctx context.Context, key string) (bool, error) {
	fresh, err := r.client.SetNX(ctx, redisKey(key), "1", r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: setnx: %v", domain.ErrRegistryUnavailable, err)
	}
	return fresh, nil
}

func redisKey(key string) string {
	return "posed:nonce:" + key
}

var _ usecase.NonceRegistry = (*RedisRegistry)(nil)
