package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps records as plain string keys; Persistent and Temporary
// tiers carry a Redis TTL, Durable keys have none.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a store backed by Redis at addr.
func NewRedisStore(addr, password string, db int) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisStoreFromClient(rdb, "vault:")
}

// NewRedisStoreFromClient wraps an existing client. Keys are namespaced under prefix.
func NewRedisStoreFromClient(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	v, err := s.client.Get(ctx, s.name(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key Key, value []byte) error {
	if err := s.client.Set(ctx, s.name(key), value, key.TTL()).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, key Key) error {
	if err := s.client.Del(ctx, s.name(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Touch(ctx context.Context, key Key) error {
	if key.TTL() == 0 {
		return nil
	}
	if err := s.client.Expire(ctx, s.name(key), key.TTL()).Err(); err != nil {
		return fmt.Errorf("redis expire %s: %w", key, err)
	}
	return nil
}

// Apply runs the batch in a MULTI/EXEC transaction.
func (s *RedisStore) Apply(ctx context.Context, b *Batch) error {
	if b.Len() == 0 {
		return nil
	}
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, op := range b.Ops() {
			name := s.name(op.Key)
			switch op.Kind {
			case OpSet:
				p.Set(ctx, name, op.Value, op.Key.TTL())
			case OpRemove:
				p.Del(ctx, name)
			case OpTouch:
				if ttl := op.Key.TTL(); ttl > 0 {
					p.Expire(ctx, name, ttl)
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis apply: %w", err)
	}
	return nil
}

func (s *RedisStore) name(key Key) string {
	return s.prefix + key.String()
}
