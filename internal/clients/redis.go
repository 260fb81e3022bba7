package clients

import (
	"context"
	"errors"
	"time"

	"lease-ledger/pkg/cache/redis"
)

type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	MaxRetries  int
	DialTimeout time.Duration
	Timeout     time.Duration
	PoolSize    int

	// Prefix comes from config.RedisConfig (REDIS_PREFIX) and is used as is.
	Prefix string
}

// RedisClient namespaces every key under prefix so several deployments can
// share one Redis database.
type RedisClient struct {
	raw    *redis.Client
	prefix string
}

func NewRedisClient(cfg RedisConfig) (*RedisClient, error) {
	rdb, err := redis.NewRedisConnection(redis.ConnectionInfo{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		MaxRetries:  cfg.MaxRetries,
		DialTimeout: cfg.DialTimeout,
		Timeout:     cfg.Timeout,
		PoolSize:    cfg.PoolSize,
	})
	if err != nil {
		return nil, err
	}
	return newRedisClient(rdb, cfg.Prefix), nil
}

func newRedisClient(raw *redis.Client, prefix string) *RedisClient {
	return &RedisClient{raw: raw, prefix: prefix}
}

func (c *RedisClient) Close() error {
	if c == nil {
		return nil
	}
	return redis.Close(c.raw)
}

// Ping is used by the health endpoint.
func (c *RedisClient) Ping(ctx context.Context) error {
	return c.raw.Ping(ctx).Err()
}

func (c *RedisClient) withPrefix(key string) string {
	return c.prefix + key
}

func (c *RedisClient) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return c.raw.Set(ctx, c.withPrefix(key), value, ttl).Err()
}

func (c *RedisClient) Get(ctx context.Context, key string) (string, error) {
	return c.raw.Get(ctx, c.withPrefix(key)).Result()
}

func (c *RedisClient) SAdd(ctx context.Context, key string, members ...any) error {
	return c.raw.SAdd(ctx, c.withPrefix(key), members...).Err()
}

func (c *RedisClient) SMembers(ctx context.Context, key string) ([]string, error) {
	return c.raw.SMembers(ctx, c.withPrefix(key)).Result()
}

func (c *RedisClient) SRem(ctx context.Context, key string, members ...any) error {
	return c.raw.SRem(ctx, c.withPrefix(key), members...).Err()
}

// IsMiss reports whether err is the "key does not exist" reply.
func (c *RedisClient) IsMiss(err error) bool {
	return errors.Is(err, redis.Nil)
}
