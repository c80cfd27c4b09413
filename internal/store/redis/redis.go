// Package redis implements the production session store on Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowagencyai/wabot/internal/store"
)

const healthTimeout = 2 * time.Second

// Store is a store.KV backed by a shared go-redis client. All failures from
// the client surface as store.ErrUnavailable; absence is never an error.
type Store struct {
	client *redis.Client
}

// New connects to Redis using a redis:// URL and verifies the connection
// with a ping before returning.
func New(ctx context.Context, redisURL string, opTimeout time.Duration) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opTimeout > 0 {
		opts.DialTimeout = opTimeout
		opts.ReadTimeout = opTimeout
		opts.WriteTimeout = opTimeout
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Store{client: client}, nil
}

// NewFromClient wraps an existing client. Used by tests and by callers that
// manage the client lifecycle themselves.
func NewFromClient(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("get", err)
	}
	return val, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := store.ValidateTTL(ttl); err != nil {
		return err
	}
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return unavailable("set", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return unavailable("del", err)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, unavailable("exists", err)
	}
	return n > 0, nil
}

// MultiSet writes all entries in one transactional pipeline, so either the
// whole batch is applied or the caller gets an error and assumes nothing was.
func (s *Store) MultiSet(ctx context.Context, entries []store.Entry) error {
	for _, e := range entries {
		if err := store.ValidateTTL(e.TTL); err != nil {
			return err
		}
	}
	pipe := s.client.TxPipeline()
	for _, e := range entries {
		pipe.Set(ctx, e.Key, e.Value, e.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable("multiset", err)
	}
	return nil
}

// Increment runs INCR + EXPIRE NX + PTTL in one transactional pipeline: the
// window TTL is set only on the first increment and the remaining window is
// reported back to the caller.
func (s *Store) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if err := store.ValidateTTL(window); err != nil {
		return 0, 0, err
	}
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	pttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, unavailable("incr", err)
	}

	remaining := pttl.Val()
	if remaining < 0 {
		remaining = window
	}
	return incr.Val(), remaining, nil
}

// Scan iterates the keyspace with SCAN. Admin/CLI use only.
func (s *Store) Scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, unavailable("scan", err)
	}
	return keys, nil
}

// HealthCheck pings Redis with a short timeout and reports round-trip latency.
func (s *Store) HealthCheck(ctx context.Context) store.Health {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	start := time.Now()
	err := s.client.Ping(ctx).Err()
	latency := time.Since(start)
	if err != nil {
		return store.Health{Healthy: false, Latency: latency, Details: err.Error()}
	}
	return store.Health{Healthy: true, Latency: latency}
}

func (s *Store) Close() error {
	return s.client.Close()
}

func unavailable(op string, err error) error {
	return fmt.Errorf("redis %s: %w: %v", op, store.ErrUnavailable, err)
}
