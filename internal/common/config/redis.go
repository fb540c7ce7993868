package config

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient creates the Redis client backing the expiry timer index.
// Returns (nil, nil) when no Redis address is configured; the caller then
// runs with the sweeper backstop only.
// Side effects: establishes a network connection and pings the server.
func (c *Config) NewRedisClient(ctx context.Context) (*redis.Client, error) {
	if c.RedisAddr == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return client, nil
}
