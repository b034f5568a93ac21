package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_GetSetExpiry(t *testing.T) {
	ctx := context.Background()
	m, err := NewMemory(8)
	require.NoError(t, err)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	require.NoError(t, m.Set(ctx, "a", []byte("1"), time.Hour))
	got, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), got)

	now = now.Add(time.Hour)
	_, err = m.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrMiss, "entry must expire at its deadline")
	assert.Equal(t, 0, m.Len())
}

func TestMemory_NoTTLNeverExpires(t *testing.T) {
	ctx := context.Background()
	m, err := NewMemory(8)
	require.NoError(t, err)

	require.NoError(t, m.Set(ctx, "k", []byte("v"), 0))
	m.now = func() time.Time { return time.Now().Add(24 * 365 * time.Hour) }
	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestMemory_DeleteAndPrefix(t *testing.T) {
	ctx := context.Background()
	m, err := NewMemory(16)
	require.NoError(t, err)

	for _, k := range []string{"visibility:p1:a", "visibility:p1:b", "visibility:p2:a"} {
		require.NoError(t, m.Set(ctx, k, []byte("1"), time.Minute))
	}

	require.NoError(t, m.DeletePrefix(ctx, "visibility:p1:"))
	_, err = m.Get(ctx, "visibility:p1:a")
	assert.ErrorIs(t, err, ErrMiss)
	_, err = m.Get(ctx, "visibility:p2:a")
	assert.NoError(t, err)

	require.NoError(t, m.Delete(ctx, "visibility:p2:a"))
	_, err = m.Get(ctx, "visibility:p2:a")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemory_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	m, err := NewMemory(2)
	require.NoError(t, err)

	require.NoError(t, m.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, m.Set(ctx, "b", []byte("2"), 0))
	_, _ = m.Get(ctx, "a")
	require.NoError(t, m.Set(ctx, "c", []byte("3"), 0))

	_, err = m.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrMiss)
	_, err = m.Get(ctx, "a")
	assert.NoError(t, err)
}

func TestNoop(t *testing.T) {
	ctx := context.Background()
	var c Cache = Noop{}
	require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Minute))
	_, err := c.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRedis_Integration(t *testing.T) {
	addr := os.Getenv("PLANENGINE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PLANENGINE_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	r, err := NewRedis(ctx, RedisOptions{Addr: addr}, nil)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Set(ctx, "planengine-test:p1:a", []byte("1"), time.Minute))
	got, err := r.Get(ctx, "planengine-test:p1:a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), got)

	require.NoError(t, r.DeletePrefix(ctx, "planengine-test:p1:"))
	_, err = r.Get(ctx, "planengine-test:p1:a")
	assert.ErrorIs(t, err, ErrMiss)
}
