package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/stocktop/internal/clock"
	"github.com/wonny/stocktop/pkg/logger"
)

func newTestStore() (*Store, *MemoryKV, *clock.Manual) {
	kv := NewMemoryKV()
	clk := clock.NewManual(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	return NewStore(kv, clk, 8*time.Hour, logger.Nop()), kv, clk
}

func TestStore_Expiry(t *testing.T) {
	tests := []struct {
		name    string
		advance time.Duration
		exempt  bool
		want    bool
	}{
		{name: "before expiry", advance: 7 * time.Hour, want: true},
		{name: "exactly at expiry", advance: 8 * time.Hour, want: true},
		{name: "after expiry", advance: 8*time.Hour + time.Millisecond, want: false},
		{name: "after expiry but exempt", advance: 72 * time.Hour, exempt: true, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store, kv, clk := newTestStore()

			require.NoError(t, store.Set(ctx, "sb-auth-token", `{"access_token":"abc"}`))
			if tt.exempt {
				require.NoError(t, store.SetExempt(ctx, true))
			}

			clk.Advance(tt.advance)

			value, ok, err := store.Get(ctx, "sb-auth-token")
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)

			_, stored, _ := kv.Get(ctx, "sb-auth-token")
			if tt.want {
				assert.Equal(t, `{"access_token":"abc"}`, value)
				assert.True(t, stored)
			} else {
				assert.Empty(t, value)
				assert.False(t, stored, "expired entry must be deleted")
			}
		})
	}
}

func TestStore_ExemptSetAfterExpiry(t *testing.T) {
	ctx := context.Background()
	store, _, clk := newTestStore()

	require.NoError(t, store.Set(ctx, "k", "v"))
	clk.Advance(9 * time.Hour)
	require.NoError(t, store.SetExempt(ctx, true))

	value, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", value)

	require.NoError(t, store.SetExempt(ctx, false))
	_, ok, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_RawValuesVerbatim(t *testing.T) {
	ctx := context.Background()
	store, kv, clk := newTestStore()

	raws := []string{"plain", `{"value":"x"}`, `{"expiresAt":1}`, "42", ""}
	for _, raw := range raws {
		require.NoError(t, kv.Set(ctx, "legacy", raw))
		clk.Advance(24 * time.Hour)

		value, ok, err := store.Get(ctx, "legacy")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, raw, value)
	}
}

func TestStore_Remove(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore()

	require.NoError(t, store.Set(ctx, "k", "v"))
	require.NoError(t, store.Remove(ctx, "k"))
	require.NoError(t, store.Remove(ctx, "missing"))

	_, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_ExemptFlagNeverWrapped(t *testing.T) {
	ctx := context.Background()
	store, kv, clk := newTestStore()

	require.NoError(t, store.SetExempt(ctx, true))
	clk.Advance(100 * time.Hour)

	raw, ok, _ := kv.Get(ctx, ExemptKey)
	assert.True(t, ok)
	assert.Equal(t, "true", raw)

	exempt, err := store.IsExempt(ctx)
	require.NoError(t, err)
	assert.True(t, exempt)
}

func TestStore_Sweep(t *testing.T) {
	ctx := context.Background()
	store, kv, clk := newTestStore()

	require.NoError(t, store.Set(ctx, "old", "1"))
	clk.Advance(5 * time.Hour)
	require.NoError(t, store.Set(ctx, "new", "2"))
	require.NoError(t, kv.Set(ctx, "raw", "3"))
	clk.Advance(4 * time.Hour)

	removed, err := store.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	keys, _ := kv.Keys(ctx, "")
	assert.Equal(t, []string{"new", "raw"}, keys)
}

func TestStore_SweepWhileExempt(t *testing.T) {
	ctx := context.Background()
	store, _, clk := newTestStore()

	require.NoError(t, store.Set(ctx, "k", "v"))
	require.NoError(t, store.SetExempt(ctx, true))
	clk.Advance(10 * time.Hour)

	removed, err := store.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestNamespaced(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryKV()
	a := NewNamespaced(inner, "client-a")
	b := NewNamespaced(inner, "client-b")

	require.NoError(t, a.Set(ctx, "token", "A"))
	require.NoError(t, b.Set(ctx, "token", "B"))

	v, ok, _ := a.Get(ctx, "token")
	assert.True(t, ok)
	assert.Equal(t, "A", v)

	keys, err := b.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"token"}, keys)

	require.NoError(t, a.Purge(ctx))
	_, ok, _ = a.Get(ctx, "token")
	assert.False(t, ok)
	_, ok, _ = b.Get(ctx, "token")
	assert.True(t, ok)
}

func TestStore_SharedAcrossViews(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	clk := clock.NewManual(time.Unix(0, 0))

	tab1 := NewStore(kv, clk, time.Hour, logger.Nop())
	tab2 := NewStore(kv, clk, time.Hour, logger.Nop())

	require.NoError(t, tab1.Set(ctx, "k", "v"))
	require.NoError(t, tab2.SetExempt(ctx, true))
	clk.Advance(2 * time.Hour)

	_, ok, err := tab1.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok, "exempt flag written by another view is visible on next read")
}
