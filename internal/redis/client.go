package redis

import (
	"context"
	"fmt"

	"github.com/ashgrove-labs/webrtc-broker/config"
	"github.com/redis/go-redis/v9"
)

// Connect dials Redis and verifies the connection with a Ping before
// returning it, so callers never hold a client that has not yet proven it
// can reach the server. The caller owns the returned client's lifetime
// (Close it on shutdown) rather than reaching back into this package for
// it, per the explicit-dependency design in SPEC_FULL.md §9.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}
