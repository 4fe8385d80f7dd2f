package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRedisLock_AcquireRelease(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	l1 := NewRedisLock(client, "scheduler-tick", time.Minute)
	l2 := NewRedisLock(client, "scheduler-tick", time.Minute)

	ok, err := l1.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second holder is refused while the first holds the lock
	ok, err = l2.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l1.Release(ctx))

	ok, err = l2.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLock_ReleaseDoesNotStealForeignLock(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	l1 := NewRedisLock(client, "scheduler-tick", time.Minute)
	l2 := NewRedisLock(client, "scheduler-tick", time.Minute)

	ok, err := l1.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// l2 never acquired; its release must not free l1's lock
	require.NoError(t, l2.Release(ctx))

	ok, err = l2.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisLock_DistinctKeysIndependent(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	a := NewRedisLock(client, "scheduler-tick", time.Minute)
	b := NewRedisLock(client, "event-processor", time.Minute)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}
