package redisstore

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// getJSON loads and decodes one key. A missing key yields nil and no error.
func getJSON[T any](ctx context.Context, c redis.Cmdable, key string) (*T, error) {
	data, err := c.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// mgetJSON loads and decodes many keys, skipping missing ones.
func mgetJSON[T any](ctx context.Context, c redis.Cmdable, keys []string) ([]T, error) {
	values, err := c.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(values))
	for _, raw := range values {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		var v T
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
