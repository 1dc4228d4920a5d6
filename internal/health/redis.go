package health

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisChecker checks connectivity to the session registry.
type RedisChecker struct {
	client *redis.Client
	name   string
}

func NewRedisChecker(client *redis.Client) *RedisChecker {
	return &RedisChecker{
		client: client,
		name:   "redis",
	}
}

func (r *RedisChecker) Name() string {
	return r.name
}

// Check pings Redis. The registry is optional, so an unreachable server
// degrades the service instead of taking it down.
func (r *RedisChecker) Check(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return Degraded(fmt.Errorf("redis ping failed: %w", err))
	}
	return nil
}
