package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taskmaster/taskpad/internal/infrastructure/config"
	"github.com/taskmaster/taskpad/internal/ports"
)

// RedisStore keeps each namespace under <prefix><namespace>
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects and pings, retrying with exponential backoff
func NewRedisStore(ctx context.Context, cfg config.RedisConfig) (*RedisStore, error) {
	maxRetries := 5
	retryDelay := 500 * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.GetAddr(),
			Password:     cfg.Password,
			DB:           cfg.DB,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			PoolSize:     4,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		lastErr = client.Ping(pingCtx).Err()
		cancel()
		if lastErr == nil {
			return &RedisStore{client: client, prefix: cfg.KeyPrefix}, nil
		}
		client.Close()

		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay):
			}
			retryDelay *= 2
		}
	}

	return nil, fmt.Errorf("failed to connect to Redis after %d attempts: %w", maxRetries, lastErr)
}

// NewRedisStoreWithClient wraps an existing client
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

var (
	_ ports.BlobStore     = (*RedisStore)(nil)
	_ ports.HealthChecker = (*RedisStore)(nil)
)

func (s *RedisStore) key(namespace string) string {
	return s.prefix + namespace
}

func (s *RedisStore) Load(ctx context.Context, namespace string) ([]byte, bool, error) {
	b, err := s.client.Get(ctx, s.key(namespace)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load %s: %w", namespace, err)
	}
	return b, true, nil
}

func (s *RedisStore) Save(ctx context.Context, namespace string, blob []byte) error {
	if err := s.client.Set(ctx, s.key(namespace), blob, 0).Err(); err != nil {
		return fmt.Errorf("save %s: %w", namespace, err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}
