package redis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/stocktop/pkg/config"
)

func disabledClient(t *testing.T) *Client {
	t.Helper()

	cfg := &config.Config{
		Redis: config.RedisConfig{
			Enabled: false,
		},
	}

	client, err := New(context.Background(), cfg)
	require.NoError(t, err)
	return client
}

func TestNewClient_Disabled(t *testing.T) {
	client := disabledClient(t)

	assert.False(t, client.Enabled())
	assert.NoError(t, client.HealthCheck(context.Background()))
	assert.NoError(t, client.Close())
}

func TestRateLimiter_Disabled(t *testing.T) {
	limiter := NewRateLimiter(disabledClient(t), "test")
	cfg := SignInRateLimit("user@example.com", 5)

	// Redis 비활성화 시 모든 요청 허용
	allowed, remaining, err := limiter.Allow(context.Background(), cfg)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 5, remaining)

	assert.NoError(t, limiter.Wait(context.Background(), cfg))
}

func TestKV_Disabled(t *testing.T) {
	kv := NewKV(disabledClient(t), "test")
	ctx := context.Background()

	_, found, err := kv.Get(ctx, "key")
	assert.ErrorIs(t, err, ErrDisabled)
	assert.False(t, found)

	assert.ErrorIs(t, kv.Set(ctx, "key", "value"), ErrDisabled)
	assert.ErrorIs(t, kv.Delete(ctx, "key"), ErrDisabled)
}

func TestSignInRateLimit(t *testing.T) {
	cfg := SignInRateLimit("a@b.c", 3)

	assert.Equal(t, "signin:a@b.c", cfg.Key)
	assert.Equal(t, 3, cfg.Limit)
	assert.Equal(t, "1m0s", cfg.Window.String())
}

func TestKV_FullKey(t *testing.T) {
	kv := NewKV(disabledClient(t), "stocktop")
	assert.Equal(t, "stocktop:kv:client-1:sb-auth-token", kv.fullKey("client-1:sb-auth-token"))
}
