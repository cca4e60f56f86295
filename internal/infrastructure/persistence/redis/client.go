// Package redis connects the reminder service to Redis pub/sub: delivery
// stats are broadcast to dashboards and power signals arrive from device
// agents.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config holds Redis connection configuration.
type Config struct {
	// URL is a redis:// URL. When set it takes precedence over Addr.
	URL string

	// Addr is host:port.
	Addr string

	// Password is the Redis authentication password (empty if no auth).
	Password string

	// DB is the Redis database number (0-15).
	DB int

	PoolSize     int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		PoolSize:     4,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

func (c Config) options() (*redis.Options, error) {
	if c.URL != "" {
		opts, err := redis.ParseURL(c.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		MaxRetries:   c.MaxRetries,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// KEYS
// ══════════════════════════════════════════════════════════════════════════════

const (
	// PrefixPubSub is the prefix for pub/sub channels.
	PrefixPubSub = "pubsub:"

	// ChannelDeliveryStats carries ledger snapshots.
	ChannelDeliveryStats = PrefixPubSub + "delivery_stats"

	// ChannelPower carries power transition signals.
	ChannelPower = PrefixPubSub + "power"

	// KeyLatestStats holds the most recent snapshot for late joiners.
	KeyLatestStats = "delivery_stats:latest"
)

var (
	// ErrConnection is returned when Redis cannot be reached.
	ErrConnection = errors.New("redis: connection failed")

	// ErrSubscriptionClosed is returned when the server closes a subscription.
	ErrSubscriptionClosed = errors.New("redis: subscription closed")
)

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client wraps a go-redis client.
type Client struct {
	rdb *redis.Client
}

// NewClient connects and pings Redis.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	opts, err := cfg.options()
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opts)

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	return &Client{rdb: rdb}, nil
}

// NewClientFromRedis wraps an existing client.
func NewClientFromRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Ping checks if Redis is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}
