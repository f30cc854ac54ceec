package session

import (
	"context"
	"errors"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "garden:session:"
	// DefaultTTL is how long an untouched session survives in redis.
	DefaultTTL = 24 * time.Hour
)

// RedisStore keeps sessions in redis and uses WATCH/MULTI/EXEC for versioned updates.
// Every read and write refreshes the TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

// OpenRedis parses url, pings the server and returns a store over it.
func OpenRedis(ctx context.Context, url string, ttl time.Duration) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return NewRedisStore(client, ttl), nil
}

func (s *RedisStore) Create(ctx context.Context, state *State) error {
	stamp(state, 1)
	doc, err := json.Marshal(state)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, s.key(state.ID), doc, s.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrExists
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*State, error) {
	key := s.key(id)
	doc, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var state State
	if err := json.Unmarshal(doc, &state); err != nil {
		return nil, err
	}
	_ = s.client.Expire(ctx, key, s.ttl).Err()
	return &state, nil
}

func (s *RedisStore) Update(ctx context.Context, state *State) error {
	key := s.key(state.ID)
	next := *state

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		doc, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var stored State
		if err := json.Unmarshal(doc, &stored); err != nil {
			return err
		}
		if stored.Version != state.Version {
			return ErrConflict
		}

		stamp(&next, state.Version+1)
		updated, err := json.Marshal(&next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, s.ttl)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrConflict
	}
	if err != nil {
		return err
	}
	*state = next
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, s.key(id)).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(id string) string {
	return redisKeyPrefix + id
}
