// internal/common/database/redis.go
package database

import (
	"context"
	"fmt"
	"time"

	"document-eligibility/internal/common/config"

	"github.com/redis/go-redis/v9"
)

// RedisClient holds the connection shared by the response cache.
type RedisClient struct {
	Client *redis.Client
}

// NewRedis creates a client. Short read and write timeouts keep a slow
// cache from holding up evaluations; a failed read is treated as a miss.
func NewRedis(cfg config.RedisConfig) (*RedisClient, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
		PoolSize:     20,
		MinIdleConns: 5,
	})

	return &RedisClient{Client: rdb}, nil
}

func (c *RedisClient) Ping(ctx context.Context) error {
	if err := c.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (c *RedisClient) Close() error {
	if c.Client != nil {
		return c.Client.Close()
	}
	return nil
}
