package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// ErrDisabled is returned by KV operations when Redis is not configured
var ErrDisabled = errors.New("redis disabled")

// KV is a string key/value store on Redis, shared across service instances.
// Values never expire at the Redis level; expiry is embedded in the stored value by the caller.
// ⭐ SSOT: 세션 저장소용 Redis 키는 여기서만 생성
type KV struct {
	client *Client
	prefix string
}

// NewKV creates a KV whose keys live under "<prefix>:kv:"
func NewKV(client *Client, prefix string) *KV {
	return &KV{
		client: client,
		prefix: prefix,
	}
}

func (k *KV) fullKey(key string) string {
	return fmt.Sprintf("%s:kv:%s", k.prefix, key)
}

// Get returns the stored value and whether it exists
func (k *KV) Get(ctx context.Context, key string) (string, bool, error) {
	if !k.client.Enabled() {
		return "", false, ErrDisabled
	}

	value, err := k.client.Redis().Get(ctx, k.fullKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}

	return value, true, nil
}

// Set stores a value without TTL
func (k *KV) Set(ctx context.Context, key, value string) error {
	if !k.client.Enabled() {
		return ErrDisabled
	}

	if err := k.client.Redis().Set(ctx, k.fullKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes a key (missing keys are not an error)
func (k *KV) Delete(ctx context.Context, key string) error {
	if !k.client.Enabled() {
		return ErrDisabled
	}

	if err := k.client.Redis().Del(ctx, k.fullKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Keys lists stored keys (without the prefix) matching a key prefix
func (k *KV) Keys(ctx context.Context, keyPrefix string) ([]string, error) {
	if !k.client.Enabled() {
		return nil, ErrDisabled
	}

	base := k.fullKey("")
	var keys []string

	iter := k.client.Redis().Scan(ctx, 0, base+keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), base))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}

	return keys, nil
}
