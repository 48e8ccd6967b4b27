package connection

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hostdash/cachetier/types"
)

// redisStore adapts a go-redis client to the narrow StoreClient surface the
// cache tier commands against. Client-internal retries are disabled; the
// executor owns the retry policy.
type redisStore struct {
	client *redis.Client
}

// Dialer establishes a transport-level connection and returns the store
// handle. The manager takes one so tests can substitute a fake transport.
type Dialer func(config *types.RedisConfig) (types.StoreClient, error)

func DialRedis(config *types.RedisConfig) (types.StoreClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		MaxRetries:   -1,
	})

	return &redisStore{client: client}, nil
}

func (s *redisStore) Ping(ctx context.Context) error {
	pong, err := s.client.Ping(ctx).Result()
	if err != nil {
		return err
	}
	if pong != "PONG" {
		return fmt.Errorf("unexpected ping response: %s", pong)
	}
	return nil
}

func (s *redisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", types.ErrKeyNotFound
		}
		return "", err
	}
	return val, nil
}

func (s *redisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *redisStore) Del(ctx context.Context, keys ...string) (int64, error) {
	return s.client.Del(ctx, keys...).Result()
}

func (s *redisStore) Exists(ctx context.Context, keys ...string) (int64, error) {
	return s.client.Exists(ctx, keys...).Result()
}

func (s *redisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Expire(ctx, key, ttl).Err()
}

func (s *redisStore) TTL(ctx context.Context, key string) (int64, error) {
	d, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	return ttlSeconds(d), nil
}

func (s *redisStore) TTLBatch(ctx context.Context, keys []string) ([]int64, error) {
	pipe := s.client.Pipeline()
	cmds := make([]*redis.DurationCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.TTL(ctx, key)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	results := make([]int64, len(keys))
	for i, cmd := range cmds {
		d, err := cmd.Result()
		if err != nil {
			return nil, err
		}
		results[i] = ttlSeconds(d)
	}
	return results, nil
}

// ttlSeconds preserves the store's -1 (no expiry) and -2 (missing key)
// sentinels while converting positive durations to whole seconds.
func ttlSeconds(d time.Duration) int64 {
	if d < 0 {
		return int64(d)
	}
	return int64(d / time.Second)
}

func (s *redisStore) Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error) {
	return s.client.Scan(ctx, cursor, match, count).Result()
}

func (s *redisStore) LPush(ctx context.Context, key string, values ...string) error {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return s.client.LPush(ctx, key, args...).Err()
}

func (s *redisStore) LTrim(ctx context.Context, key string, start, stop int64) error {
	return s.client.LTrim(ctx, key, start, stop).Err()
}

func (s *redisStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return s.client.LRange(ctx, key, start, stop).Result()
}

func (s *redisStore) Info(ctx context.Context, sections ...string) (string, error) {
	return s.client.Info(ctx, sections...).Result()
}

func (s *redisStore) DBSize(ctx context.Context) (int64, error) {
	return s.client.DBSize(ctx).Result()
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
