package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "prayer_reminder:"

type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects and pings the server before returning.
func NewRedisStore(ctx context.Context, opts *redis.Options) (*RedisStore, error) {
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "error pinging Redis at %s", opts.Addr)
	}
	return &RedisStore{client: rdb}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", errors.Wrapf(err, "error getting Redis key: %s", key)
	}
	return v, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value string) error {
	err := s.client.Set(ctx, redisKeyPrefix+key, value, 0).Err()
	return errors.Wrapf(err, "error setting Redis key: %s", key)
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	err := s.client.Del(ctx, redisKeyPrefix+key).Err()
	return errors.Wrapf(err, "error deleting Redis key: %s", key)
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
