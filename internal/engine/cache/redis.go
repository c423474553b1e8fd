// internal/engine/cache/redis.go
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"document-eligibility/internal/common/logger"

	"github.com/redis/go-redis/v9"
)

// RedisGateway keeps response bodies in Redis under a shared prefix.
type RedisGateway struct {
	client   *redis.Client
	prefix   string
	staleTTL time.Duration
	log      logger.Logger
}

func NewRedisGateway(client *redis.Client, prefix string, staleTTL time.Duration, log logger.Logger) *RedisGateway {
	if staleTTL <= 0 {
		staleTTL = DefaultStaleTTL
	}
	return &RedisGateway{
		client:   client,
		prefix:   prefix,
		staleTTL: staleTTL,
		log:      log,
	}
}

func (g *RedisGateway) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return g.read(ctx, g.prefix+key)
}

func (g *RedisGateway) GetStale(ctx context.Context, key string) ([]byte, bool, error) {
	return g.read(ctx, g.prefix+stalePrefix+key)
}

func (g *RedisGateway) read(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := g.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, true, nil
}

func (g *RedisGateway) Set(ctx context.Context, key string, body []byte, ttl time.Duration) error {
	if err := g.client.Set(ctx, g.prefix+key, body, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	if err := g.client.Set(ctx, g.prefix+stalePrefix+key, body, g.staleTTL).Err(); err != nil {
		g.log.Warn("Failed to write stale copy", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}
	return nil
}

func (g *RedisGateway) Invalidate(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, g.prefix+key, g.prefix+stalePrefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}
