// ABOUTME: Shared provider report cache in Redis, one key per provider role and fingerprint
// ABOUTME: Each key holds a JSON report and expires on its own TTL

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hikmaai-io/hikmaai-codescan/internal/types"
)

// DefaultRedisPrefix namespaces every key this cache writes.
const DefaultRedisPrefix = "codescan:"

const reportsKeyPart = "reports:"

// RedisConfig configures a RedisCache.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string

	// Password for Redis authentication (optional).
	Password string

	// DB is the Redis database number.
	DB int

	// Prefix is prepended to all keys. Empty uses DefaultRedisPrefix.
	Prefix string

	// PoolSize is the number of connections in the pool.
	PoolSize int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// TTL expires each report after it is written. Zero uses DefaultTTL.
	TTL time.Duration
}

func (c *RedisConfig) setDefaults() {
	if c.Prefix == "" {
		c.Prefix = DefaultRedisPrefix
	}
	if c.PoolSize == 0 {
		c.PoolSize = 10
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 5 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
}

// RedisCache caches provider reports in Redis so several instances share them.
type RedisCache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects and verifies connectivity with a PING.
func NewRedisCache(cfg RedisConfig) (*RedisCache, error) {
	cfg.setDefaults()

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ReadTimeout)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connecting to redis %s: %w", cfg.Addr, err)
	}

	return &RedisCache{rdb: rdb, prefix: cfg.Prefix, ttl: cfg.TTL}, nil
}

// Key returns the key holding role's report for fingerprint.
func (c *RedisCache) Key(role types.ProviderRole, fingerprint string) string {
	return c.prefix + reportsKeyPart + string(role) + ":" + strings.ToLower(fingerprint)
}

// Backend names the cache implementation.
func (c *RedisCache) Backend() string {
	return "redis"
}

// Ping verifies connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("pinging redis: %w", err)
	}
	return nil
}

// Set stores a report with the cache TTL. Other roles' reports for the same
// fingerprint keep their own expiry.
func (c *RedisCache) Set(ctx context.Context, report types.ProviderReport) error {
	if err := validate(report); err != nil {
		return err
	}
	report.Cached = false

	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}

	key := c.Key(report.Role, report.Fingerprint)
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("storing %s report on %s: %w", report.Role, key, err)
	}
	return nil
}

// Get returns the cached report for role and fingerprint.
func (c *RedisCache) Get(ctx context.Context, role types.ProviderRole, fingerprint string) (*types.ProviderReport, bool, error) {
	key := c.Key(role, fingerprint)
	val, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("getting %s report from %s: %w", role, key, err)
	}

	var report types.ProviderReport
	if err := json.Unmarshal([]byte(val), &report); err != nil {
		return nil, false, fmt.Errorf("unmarshaling %s report: %w", role, err)
	}
	return &report, true, nil
}

// Count returns the number of cached reports across all fingerprints.
func (c *RedisCache) Count(ctx context.Context) (int64, error) {
	var total int64
	err := c.scan(ctx, func(keys []string) error {
		total += int64(len(keys))
		return nil
	})
	return total, err
}

// Clear removes every cached report under the prefix.
func (c *RedisCache) Clear(ctx context.Context) error {
	return c.scan(ctx, func(keys []string) error {
		if len(keys) == 0 {
			return nil
		}
		if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("deleting %d keys: %w", len(keys), err)
		}
		return nil
	})
}

func (c *RedisCache) scan(ctx context.Context, fn func(keys []string) error) error {
	pattern := c.prefix + reportsKeyPart + "*"
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("scanning %s: %w", pattern, err)
		}
		if err := fn(keys); err != nil {
			return err
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Close closes the connection pool.
func (c *RedisCache) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("closing redis client: %w", err)
	}
	return nil
}
