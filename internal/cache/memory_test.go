package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_GetSetExpire(t *testing.T) {
	ctx := context.Background()
	m, err := NewMemory(4)
	require.NoError(t, err)

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	_, err = m.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Set(ctx, PointPriceKey, "100", time.Minute))
	v, err := m.Get(ctx, PointPriceKey)
	require.NoError(t, err)
	assert.Equal(t, "100", v)

	now = now.Add(2 * time.Minute)
	_, err = m.Get(ctx, PointPriceKey)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_NoTTL(t *testing.T) {
	ctx := context.Background()
	m, err := NewMemory(0)
	require.NoError(t, err)

	require.NoError(t, m.Set(ctx, "k", "v", 0))
	m.now = func() time.Time { return time.Now().Add(24 * time.Hour) }

	v, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	require.NoError(t, m.Delete(ctx, "k"))
	_, err = m.Get(ctx, "k")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_Evicts(t *testing.T) {
	ctx := context.Background()
	m, err := NewMemory(2)
	require.NoError(t, err)

	require.NoError(t, m.Set(ctx, "a", "1", 0))
	require.NoError(t, m.Set(ctx, "b", "2", 0))
	require.NoError(t, m.Set(ctx, "c", "3", 0))

	_, err = m.Get(ctx, "a")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestNew_Unsupported(t *testing.T) {
	_, err := New(context.Background(), Config{Provider: "memcached"})
	require.Error(t, err)
}
