// Package redis implements the settlement caches on go-redis/v9: price
// quotes, documents and scheduler claims, pair locks, the API rate limiter
// and the signal bus.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultClientName = "fundsettle"

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
	// Workers is the liquidation batch concurrency. Each worker takes and
	// releases pair locks per asset, so that many connections are kept idle.
	Workers int
	// ClientName shows up in CLIENT LIST; it defaults to "fundsettle".
	ClientName string
}

// Client owns the go-redis connection shared by every cache.
type Client struct {
	rdb *redis.Client
}

// New connects and pings Redis.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	rdb := redis.NewClient(options(cfg))
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

func options(cfg ClientConfig) *redis.Options {
	name := cfg.ClientName
	if name == "" {
		name = defaultClientName
	}
	opts := &redis.Options{
		Addr:                  cfg.Addr,
		Password:              cfg.Password,
		DB:                    cfg.DB,
		ClientName:            name,
		PoolSize:              cfg.PoolSize,
		MaxRetries:            cfg.MaxRetries,
		MinIdleConns:          max(cfg.Workers, 0),
		ContextTimeoutEnabled: true,
	}
	if opts.PoolSize > 0 && opts.PoolSize < opts.MinIdleConns {
		opts.PoolSize = opts.MinIdleConns
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts
}

// Ping checks the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Health pings Redis and rejects an eviction policy that may drop pair
// locks or scheduler claims before their TTL. Servers that refuse CONFIG
// only get the ping.
func (c *Client) Health(ctx context.Context) error {
	if err := c.Ping(ctx); err != nil {
		return err
	}
	cfg, err := c.rdb.ConfigGet(ctx, "maxmemory-policy").Result()
	if err != nil {
		return nil
	}
	return checkEvictionPolicy(cfg["maxmemory-policy"])
}

// checkEvictionPolicy accepts noeviction only: every volatile-* policy can
// evict TTL'd lock keys and every allkeys-* policy can evict anything.
func checkEvictionPolicy(policy string) error {
	if policy == "" || policy == "noeviction" {
		return nil
	}
	return fmt.Errorf("redis: maxmemory-policy %s can evict locks and claims, want noeviction", policy)
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying returns the raw *redis.Client for the caches in this package.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}
