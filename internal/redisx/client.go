package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

func Exists(ctx context.Context, rdb redis.Cmdable, key string) (bool, error) {
	n, err := rdb.Exists(ctx, key).Result()
	return n > 0, err
}

// ClaimOnce sets key only if absent. On failure it returns the current value.
func ClaimOnce(ctx context.Context, rdb redis.Cmdable, key, value string, ttl time.Duration) (claimed bool, current string, err error) {
	ok, err := rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil || ok {
		return ok, "", err
	}
	current, err = rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET, try once more
		ok, err = rdb.SetNX(ctx, key, value, ttl).Result()
		return ok, "", err
	}
	return false, current, err
}

// GetJSON decodes the cached value into out. found is false on a cache miss.
func GetJSON(ctx context.Context, rdb redis.Cmdable, key string, out any) (found bool, err error) {
	b, err := rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func SetJSON(ctx context.Context, rdb redis.Cmdable, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return rdb.Set(ctx, key, b, ttl).Err()
}
