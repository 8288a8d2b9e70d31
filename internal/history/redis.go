package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each conversation in a Redis list of JSON-encoded messages.
type RedisStore struct {
	client *redis.Client
	policy Policy
	prefix string
	ttl    time.Duration
}

// RedisOptions configures NewRedisStore.
type RedisOptions struct {
	Addr   string
	DB     int
	Prefix string
	TTL    time.Duration
}

// NewRedisStore connects to Redis (or Valkey) at opts.Addr.
func NewRedisStore(opts RedisOptions, policy Policy) (*RedisStore, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr: opts.Addr,
		DB:   opts.DB,
	})
	return NewRedisStoreWithClient(client, opts.Prefix, opts.TTL, policy)
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, prefix string, ttl time.Duration, policy Policy) (*RedisStore, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = "relay:history"
	}
	return &RedisStore{client: client, policy: policy, prefix: prefix, ttl: ttl}, nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) key(key string) string { return s.prefix + ":" + key }

func (s *RedisStore) Append(ctx context.Context, key string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	values := make([]any, 0, len(msgs))
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
		values = append(values, data)
	}

	k := s.key(key)
	pipe := s.client.TxPipeline()
	length := pipe.RPush(ctx, k, values...)
	if s.ttl > 0 {
		pipe.Expire(ctx, k, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append history %q: %w", key, err)
	}
	if length.Val() > int64(s.policy.TrimAt) {
		if err := s.client.LTrim(ctx, k, int64(-s.policy.Keep), -1).Err(); err != nil {
			return fmt.Errorf("trim history %q: %w", key, err)
		}
	}
	return nil
}

func (s *RedisStore) Messages(ctx context.Context, key string) ([]Message, error) {
	raw, err := s.client.LRange(ctx, s.key(key), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read history %q: %w", key, err)
	}
	out := make([]Message, 0, len(raw))
	for _, item := range raw {
		var m Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("decode history %q: %w", key, err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
