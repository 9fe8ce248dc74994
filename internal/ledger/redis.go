package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "edgegate:ledger:"

// RedisStore shares totals across replicas. INCRBYFLOAT keeps concurrent
// updates from different processes additive.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to the Redis server at url (redis://host:port/db). An
// empty prefix uses "edgegate:ledger:".
func NewRedis(ctx context.Context, url, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisWithClient(client, prefix), nil
}

// NewRedisWithClient wraps an existing client. Keys are stored under prefix.
func NewRedisWithClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) key(orgID string) string {
	return r.prefix + orgID
}

func (r *RedisStore) Add(ctx context.Context, orgID string, eur float64) (float64, error) {
	return r.client.IncrByFloat(ctx, r.key(orgID), eur).Result()
}

func (r *RedisStore) Total(ctx context.Context, orgID string) (float64, error) {
	total, err := r.client.Get(ctx, r.key(orgID)).Float64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return total, err
}

func (r *RedisStore) keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

func (r *RedisStore) All(ctx context.Context) (map[string]float64, error) {
	keys, err := r.keys(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(keys))
	for _, k := range keys {
		total, err := r.client.Get(ctx, k).Float64()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[strings.TrimPrefix(k, r.prefix)] = total
	}
	return out, nil
}

func (r *RedisStore) Reset(ctx context.Context) error {
	keys, err := r.keys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
