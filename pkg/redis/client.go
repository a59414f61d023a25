package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const defaultDialTimeout = 5 * time.Second

// Options tune a client created from a URL. Zero values keep the URL's
// settings or fall back to defaultDialTimeout.
type Options struct {
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
}

// NewClientFromURL creates a single-node Redis client from a redis:// or
// rediss:// URL and verifies it with PING.
func NewClientFromURL(ctx context.Context, redisURL string, o Options) (*goredis.Client, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis url is required")
	}

	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	opts.DialTimeout = firstPositive(o.DialTimeout, opts.DialTimeout, defaultDialTimeout)
	opts.ReadTimeout = firstPositive(o.ReadTimeout, opts.ReadTimeout, defaultDialTimeout)
	opts.WriteTimeout = firstPositive(o.WriteTimeout, opts.WriteTimeout, defaultDialTimeout)
	if o.PoolSize > 0 {
		opts.PoolSize = o.PoolSize
	}

	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

// Pinger adapts a go-redis client to the monitoring.Pinger shape.
type Pinger struct {
	Client goredis.UniversalClient
}

func (p Pinger) Ping(ctx context.Context) error {
	if p.Client == nil {
		return fmt.Errorf("redis client not configured")
	}
	return p.Client.Ping(ctx).Err()
}

func firstPositive(values ...time.Duration) time.Duration {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
