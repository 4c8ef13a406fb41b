package clock

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManual_AdvanceFiresDueTimers(t *testing.T) {
	start := time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC)
	c := NewManual(start)

	var a, b, late atomic.Int32
	c.AfterFunc(2*time.Second, func() { b.Add(1) })
	c.AfterFunc(time.Second, func() { a.Add(1) })
	c.AfterFunc(5*time.Second, func() { late.Add(1) })

	c.Advance(3 * time.Second)

	require.Eventually(t, func() bool { return a.Load() == 1 && b.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(0), late.Load())
	assert.Equal(t, start.Add(3*time.Second), c.Now())
}

func TestManual_Stop(t *testing.T) {
	c := NewManual(time.Unix(0, 0))

	var called atomic.Bool
	timer := c.AfterFunc(time.Second, func() { called.Store(true) })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())

	c.Advance(time.Minute)
	assert.False(t, called.Load())
}

func TestManual_BlockUntilArmed(t *testing.T) {
	c := NewManual(time.Unix(0, 0))

	var count atomic.Int32
	var tick func()
	tick = func() {
		count.Add(1)
		c.AfterFunc(time.Second, tick)
	}
	c.AfterFunc(time.Second, tick)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 0; i < 5; i++ {
		require.NoError(t, c.BlockUntilContext(ctx, 1))
		c.Advance(time.Second)
		want := int32(i + 1)
		require.Eventually(t, func() bool { return count.Load() == want }, time.Second, time.Millisecond)
	}
}

func TestNewReal(t *testing.T) {
	before := time.Now()
	assert.False(t, NewReal().Now().Before(before))
}
