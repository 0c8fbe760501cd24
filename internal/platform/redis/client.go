package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"provenance/internal/platform/config"
)

// Client is a go-redis client scoped to a key namespace.
type Client struct {
	*redis.Client
	prefix string
}

// New dials Redis and verifies the connection. It returns nil, nil when no URL
// is configured so callers can treat the projection as optional.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return Wrap(rdb, cfg.KeyPrefix), nil
}

// Wrap scopes an existing go-redis client to prefix. Tests use it with
// containerised clients.
func Wrap(rdb *redis.Client, prefix string) *Client {
	return &Client{Client: rdb, prefix: strings.TrimSuffix(prefix, ":")}
}

// Key joins parts under the client's namespace, e.g. "provenance:record:SN1".
func (c *Client) Key(parts ...string) string {
	if c.prefix == "" {
		return strings.Join(parts, ":")
	}
	return c.prefix + ":" + strings.Join(parts, ":")
}

// Health checks if the Redis connection is healthy.
func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}
