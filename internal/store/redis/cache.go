// Package redis holds the Redis-backed pieces of the analytics service: a
// caching CandleSupplier decorator, universe sets, the scan result
// publisher and the circuit breaker that guards all of them.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"analytics-enginev1/internal/metrics"
	"analytics-enginev1/internal/model"
)

// CandleCache decorates a CandleSupplier with a Redis read-through cache.
// Entries are JSON candle arrays keyed by instrument, timeframe and bar count
// and expire after the TTL. Every Redis failure degrades to the inner
// supplier; only inner errors reach the caller.
type CandleCache struct {
	rdb       *goredis.Client
	inner     model.CandleSupplier
	ttl       time.Duration
	namespace string
	breaker   *CircuitBreaker
	metrics   *metrics.Metrics
	log       *slog.Logger
}

// CacheOption customizes a CandleCache.
type CacheOption func(*CandleCache)

// WithBreaker guards every Redis call with cb.
func WithBreaker(cb *CircuitBreaker) CacheOption { return func(c *CandleCache) { c.breaker = cb } }

// WithCacheMetrics records hit/miss/error counts and Redis latency.
func WithCacheMetrics(m *metrics.Metrics) CacheOption { return func(c *CandleCache) { c.metrics = m } }

// WithCacheLogger sets the logger for degraded-mode warnings.
func WithCacheLogger(l *slog.Logger) CacheOption { return func(c *CandleCache) { c.log = l } }

// NewCandleCache returns a cache in front of inner. A ttl of 0 defaults to
// one minute, an empty namespace to "candles". A nil rdb bypasses the cache.
func NewCandleCache(rdb *goredis.Client, inner model.CandleSupplier, ttl time.Duration, namespace string, opts ...CacheOption) *CandleCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if namespace == "" {
		namespace = "candles"
	}
	c := &CandleCache{
		rdb:       rdb,
		inner:     inner,
		ttl:       ttl,
		namespace: namespace,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch implements model.CandleSupplier.
func (c *CandleCache) Fetch(ctx context.Context, instrument string, tf model.Timeframe, lookbackBars int) (*model.Series, error) {
	if c.rdb == nil {
		return c.inner.Fetch(ctx, instrument, tf, lookbackBars)
	}
	key := c.key(instrument, tf, lookbackBars)

	if s, ok := c.lookup(ctx, key, instrument, tf); ok {
		return s, nil
	}

	s, err := c.inner.Fetch(ctx, instrument, tf, lookbackBars)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("%w: %s %s: supplier returned no series", model.ErrUpstreamFetch, instrument, tf)
	}

	b, err := json.Marshal(s.Candles)
	if err == nil {
		err = c.do(ctx, func(ctx context.Context) error {
			return c.rdb.Set(ctx, key, b, c.ttl).Err()
		})
	}
	if err != nil && !errors.Is(err, ErrCircuitOpen) {
		c.log.Warn("candle cache store failed", "key", key, "error", err)
	}
	return s, nil
}

// lookup returns a cached series. Corrupt or invalid entries are deleted and
// reported as a miss.
func (c *CandleCache) lookup(ctx context.Context, key, instrument string, tf model.Timeframe) (*model.Series, bool) {
	var raw []byte
	start := time.Now()
	err := c.do(ctx, func(ctx context.Context) error {
		b, err := c.rdb.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		raw = b
		return err
	})
	c.metrics.ObserveFetch("redis", time.Since(start))
	if err != nil {
		c.metrics.Cache("error")
		if !errors.Is(err, ErrCircuitOpen) {
			c.log.Warn("candle cache read failed", "key", key, "error", err)
		}
		return nil, false
	}
	if len(raw) == 0 {
		c.metrics.Cache("miss")
		return nil, false
	}

	var candles []model.Candle
	if err := json.Unmarshal(raw, &candles); err == nil {
		if s, err := model.NewSeries(instrument, tf, candles); err == nil {
			c.metrics.Cache("hit")
			return s, true
		}
	}
	c.metrics.Cache("miss")
	c.log.Warn("dropping corrupt candle cache entry", "key", key)
	_ = c.do(ctx, func(ctx context.Context) error { return c.rdb.Del(ctx, key).Err() })
	return nil, false
}

// Invalidate removes every cached entry for instrument on tf.
func (c *CandleCache) Invalidate(ctx context.Context, instrument string, tf model.Timeframe) error {
	if c.rdb == nil {
		return nil
	}
	pattern := c.prefix(instrument, tf) + "*"
	var cursor uint64
	for {
		keys, cur, err := c.rdb.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = cur
		if cursor == 0 {
			return nil
		}
	}
}

func (c *CandleCache) do(ctx context.Context, fn func(ctx context.Context) error) error {
	if c.breaker == nil {
		return fn(ctx)
	}
	return c.breaker.Execute(ctx, fn)
}

func (c *CandleCache) key(instrument string, tf model.Timeframe, bars int) string {
	return fmt.Sprintf("%s%d", c.prefix(instrument, tf), bars)
}

func (c *CandleCache) prefix(instrument string, tf model.Timeframe) string {
	return fmt.Sprintf("%s:%s:%s:", c.namespace, safe(instrument), safe(string(tf)))
}

// safe escapes characters that would break the key layout.
func safe(s string) string {
	s = strings.ReplaceAll(s, " ", "_")
	return strings.ReplaceAll(s, ":", "_")
}
