package history

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores documents as plain string values. Documents do not expire.
type RedisBackend struct {
	client *redis.Client
}

func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

// OpenRedis parses a redis:// URL and connects.
func OpenRedis(ctx context.Context, url string) (*RedisBackend, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return NewRedisBackend(client), nil
}

func (r *RedisBackend) Name() string { return "redis" }

func (r *RedisBackend) Put(ctx context.Context, key string, doc []byte) error {
	return r.client.Set(ctx, key, doc, 0).Err()
}

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}
