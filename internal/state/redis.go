// Package state mirrors fast-changing orchestration state into Redis so
// clients can poll cluster progress without touching orchestrator internals,
// and provides the counters backing API rate limiting.
package state

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sahanasridhar/medtimeline/pkg/models"
)

// Store is the shared-state interface. All Redis operations go through here.
// Implementations must be safe for concurrent use.
type Store interface {
	SetClusterState(ctx context.Context, dateKey string, state models.ClusterState, ttl time.Duration) error
	GetClusterState(ctx context.Context, dateKey string) (models.ClusterState, bool, error)
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
	Ping(ctx context.Context) error
}

// RedisStore implements Store using go-redis/v9.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new RedisStore from a Redis URL.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisStore{client: redis.NewClient(opts)}, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) SetClusterState(ctx context.Context, dateKey string, state models.ClusterState, ttl time.Duration) error {
	return s.client.Set(ctx, ClusterStateKey(dateKey), string(state), ttl).Err()
}

func (s *RedisStore) GetClusterState(ctx context.Context, dateKey string) (models.ClusterState, bool, error) {
	val, err := s.client.Get(ctx, ClusterStateKey(dateKey)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return models.ClusterState(val), true, nil
}

func (s *RedisStore) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
