package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const defaultNamespace = "walletd"

// RedisStore keeps all keys in one hash named "<namespace>:kv", so Clear is a
// single DEL.
type RedisStore struct {
	rdb  *redis.Client
	hash string
}

// NewRedisStore connects to addr and pings it once.
func NewRedisStore(addr string, db int, namespace string) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return NewRedisStoreFromClient(rdb, namespace), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(rdb *redis.Client, namespace string) *RedisStore {
	if namespace == "" {
		namespace = defaultNamespace
	}
	return &RedisStore{rdb: rdb, hash: namespace + ":kv"}
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := r.rdb.HGet(ctx, r.hash, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("hget %s: %w", key, err)
	}
	return v, nil
}

func (r *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := r.rdb.HSet(ctx, r.hash, key, value).Err(); err != nil {
		return fmt.Errorf("hset %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.rdb.HDel(ctx, r.hash, key).Err(); err != nil {
		return fmt.Errorf("hdel %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Clear(ctx context.Context) error {
	if err := r.rdb.Del(ctx, r.hash).Err(); err != nil {
		return fmt.Errorf("del %s: %w", r.hash, err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.rdb.Close()
}
