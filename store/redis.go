package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default timeouts for redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// DefaultRedisPrefix namespaces session hashes.
const DefaultRedisPrefix = "hubdoc:session:"

// Redis stores each session as a hash at prefix+sid with a TTL.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedis connects to cfg.Addr and verifies the connection with PING.
func NewRedis(ctx context.Context, cfg Config) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, errors.New("store: redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  DefaultDialTimeout,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("store: connect to redis: %w", err)
	}
	return NewRedisWithClient(client, cfg.Prefix, cfg.TTL), nil
}

// NewRedisWithClient wraps an existing client, for example one pointed at miniredis.
func NewRedisWithClient(client redis.UniversalClient, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

func (s *Redis) key(sid string) string {
	return s.prefix + sid
}

func (s *Redis) Get(ctx context.Context, sid, key string) (string, error) {
	v, err := s.client.HGet(ctx, s.key(sid), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: redis get: %w", err)
	}
	return v, nil
}

func (s *Redis) Set(ctx context.Context, sid, key, value string) error {
	k := s.key(sid)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k, key, value)
		pipe.Expire(ctx, k, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: redis set: %w", err)
	}
	return nil
}

func (s *Redis) Delete(ctx context.Context, sid string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.HDel(ctx, s.key(sid), keys...).Err(); err != nil {
		return fmt.Errorf("store: redis delete: %w", err)
	}
	return nil
}

func (s *Redis) Close() error {
	return s.client.Close()
}
