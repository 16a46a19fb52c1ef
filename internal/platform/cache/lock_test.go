package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestLockerAcquireRelease(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := NewLocker(client)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "pos:order:o1:lock", time.Minute)
	require.NoError(t, err)
	require.True(t, mr.Exists("pos:order:o1:lock"))

	_, err = locker.Acquire(ctx, "pos:order:o1:lock", time.Minute)
	require.ErrorIs(t, err, ErrLockHeld)

	release()
	require.False(t, mr.Exists("pos:order:o1:lock"))

	release2, err := locker.Acquire(ctx, "pos:order:o1:lock", time.Minute)
	require.NoError(t, err)
	release2()
}

func TestLockerReleaseKeepsForeignToken(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := NewLocker(client)
	release, err := locker.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set("k", "someone-else"))

	release()
	v, err := mr.Get("k")
	require.NoError(t, err)
	require.Equal(t, "someone-else", v)
}

func TestNilLockerGrants(t *testing.T) {
	var locker *Locker
	release, err := locker.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)
	release()
	require.Nil(t, NewLocker(nil))
}
