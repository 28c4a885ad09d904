package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tenant_gateway/internal/config"
)

// RedisClient wraps the Redis connection and provides health checks
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(cfg config.RedisConfig) (*RedisClient, error) {
	if !cfg.Enabled() {
		return nil, ErrRedisDisabled
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,

		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisClient{client: client}, nil
}

// Client returns the underlying client shared by the Redis-backed components
func (r *RedisClient) Client() *redis.Client {
	return r.client
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	return r.client.Close()
}

// Ping checks if Redis is reachable
func (r *RedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Health returns the health status of Redis
func (r *RedisClient) Health(ctx context.Context) error {
	if err := r.Ping(ctx); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// PoolStats reports the Redis connection pool
func (r *RedisClient) PoolStats() PoolStats {
	st := r.client.PoolStats()
	return PoolStats{
		Open:     int(st.TotalConns),
		InUse:    int(st.TotalConns - st.IdleConns),
		Idle:     int(st.IdleConns),
		Timeouts: int64(st.Timeouts),
		Hits:     int64(st.Hits),
		Misses:   int64(st.Misses),
	}
}
