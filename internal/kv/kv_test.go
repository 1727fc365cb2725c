package kv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGetSetDelete(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, ok, err := m.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, "k", "v", 0))
	got, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", got)

	require.NoError(t, m.Delete(ctx, "k"))
	_, ok, _ = m.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryTTLExpiry(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()
	m.SetClock(func() time.Time { return now })

	require.NoError(t, m.Set(ctx, "k", "v", time.Minute))
	_, ok, _ := m.Get(ctx, "k")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok, _ = m.Get(ctx, "k")
	assert.False(t, ok, "expired entry must not be returned")
}

func TestMemoryTryLock(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()
	m.SetClock(func() time.Time { return now })

	ok, err := m.TryLock(ctx, "lock", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.TryLock(ctx, "lock", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "held lock must not be re-acquired")

	require.NoError(t, m.Unlock(ctx, "lock"))
	ok, _ = m.TryLock(ctx, "lock", 30*time.Second)
	assert.True(t, ok)

	// A crashed holder's lease expires on its own.
	now = now.Add(time.Minute)
	ok, _ = m.TryLock(ctx, "lock", 30*time.Second)
	assert.True(t, ok)
}

func TestMemorySweep(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()
	m.SetClock(func() time.Time { return now })

	require.NoError(t, m.Set(ctx, "forever", "v", 0))
	require.NoError(t, m.Set(ctx, "short", "v", time.Second))
	require.NoError(t, m.Set(ctx, "long", "v", time.Hour))

	now = now.Add(time.Minute)
	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, 2, m.Len())
}
