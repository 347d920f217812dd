// Package cache implements the cache-aside layer that sits between request
// handlers and the two persistent stores: a bounded hot window of recent chat
// messages per group, a filter-keyed cache of paginated job lists, and a
// circuit breaker that sends every read to the store when the cache is failing.
//
// Redis is optional. When it is disabled, unreachable, or the breaker is
// open, every public operation degrades to its fallback path; cache write
// failures are logged and never returned.
package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-jobtrack-backend/internal/config"
)

// Client owns the process-wide redis connection: connect at startup, periodic
// PING health checks, and close at shutdown. A nil redis client is a valid,
// permanently unavailable Client.
type Client struct {
	rdb            redis.UniversalClient
	commandTimeout time.Duration
	log            zerolog.Logger

	ready atomic.Bool

	mu   sync.Mutex
	cron *cron.Cron
}

// NewClient builds a client from configuration. It does not dial; call
// Connect.
func NewClient(cfg config.RedisConfig, logger zerolog.Logger) *Client {
	c := &Client{
		commandTimeout: cfg.CommandTimeout,
		log:            logger.With().Str("component", "cache_client").Logger(),
	}
	if !cfg.Enabled {
		c.log.Warn().Msg("redis disabled; cache operations use the fallback path")
		return c
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:                  cfg.Addr,
		Password:              cfg.Password,
		DB:                    cfg.DB,
		DialTimeout:           cfg.DialTimeout,
		ReadTimeout:           cfg.CommandTimeout,
		WriteTimeout:          cfg.CommandTimeout,
		PoolSize:              cfg.PoolSize,
		ContextTimeoutEnabled: true,
		MaxRetries:            1,
	})
	rdb.AddHook(metricsHook{})
	c.rdb = rdb
	return c
}

// NewClientFrom wraps an existing redis client, which is assumed reachable
// until a health check says otherwise.
func NewClientFrom(rdb redis.UniversalClient, commandTimeout time.Duration, logger zerolog.Logger) *Client {
	c := &Client{
		rdb:            rdb,
		commandTimeout: commandTimeout,
		log:            logger.With().Str("component", "cache_client").Logger(),
	}
	if rdb != nil {
		rdb.AddHook(metricsHook{})
		c.setReady(true)
	}
	return c
}

// Redis exposes the underlying client, or nil when disabled.
func (c *Client) Redis() redis.UniversalClient { return c.rdb }

// Ready reports whether the backend is enabled and passed its last check.
func (c *Client) Ready() bool { return c.rdb != nil && c.ready.Load() }

// Connect pings the backend once. An error leaves the client unavailable; the
// process keeps running and the health monitor will pick the backend up later.
func (c *Client) Connect(ctx context.Context) error {
	if c.rdb == nil {
		return ErrCacheUnavailable
	}
	if !c.CheckHealth(ctx) {
		return fmt.Errorf("redis connect: %w", ErrCacheUnavailable)
	}
	return nil
}

// CheckHealth pings the backend and updates readiness, logging transitions.
func (c *Client) CheckHealth(ctx context.Context) bool {
	if c.rdb == nil {
		return false
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	err := c.rdb.Ping(ctx).Err()
	was := c.ready.Load()
	c.setReady(err == nil)
	switch {
	case err != nil && was:
		c.log.Error().Err(err).Msg("redis health check failed; cache disabled until it recovers")
	case err != nil:
		c.log.Debug().Err(err).Msg("redis still unavailable")
	case !was:
		c.log.Info().Msg("redis available")
	}
	return err == nil
}

// StartHealthMonitor schedules CheckHealth on the given cron spec.
func (c *Client) StartHealthMonitor(schedule string) error {
	if c.rdb == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron != nil {
		return nil
	}
	cr := cron.New()
	if _, err := cr.AddFunc(schedule, func() { c.CheckHealth(context.Background()) }); err != nil {
		return fmt.Errorf("redis health schedule %q: %w", schedule, err)
	}
	cr.Start()
	c.cron = cr
	return nil
}

// Close stops the health monitor, waiting for a running check up to ctx, and
// closes the connection pool.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	cr := c.cron
	c.cron = nil
	c.mu.Unlock()
	if cr != nil {
		select {
		case <-cr.Stop().Done():
		case <-ctx.Done():
		}
	}
	if c.rdb == nil {
		return nil
	}
	c.setReady(false)
	return c.rdb.Close()
}

func (c *Client) setReady(v bool) {
	c.ready.Store(v)
	if v {
		redisUp.Set(1)
	} else {
		redisUp.Set(0)
	}
}

// withTimeout bounds a single cache operation. A timeout surfaces as an error
// like any other backend failure.
func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.commandTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.commandTimeout)
}

// guarded runs a breaker-protected read. An unavailable backend goes straight
// to the fallback without counting against the breaker.
func guarded[T any](ctx context.Context, c *Client, b *Breaker, op string, cacheOp, fallbackOp func(context.Context) (T, error)) (T, error) {
	if !c.Ready() {
		lookups.WithLabelValues(b.Name(), op, "unavailable").Inc()
		fallbacks.WithLabelValues(b.Name(), op).Inc()
		return fallbackOp(ctx)
	}
	return ExecuteWithFallback(ctx, b, op, func(ctx context.Context) (T, error) {
		ctx, cancel := c.withTimeout(ctx)
		defer cancel()
		return cacheOp(ctx)
	}, fallbackOp)
}
