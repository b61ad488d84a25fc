package lock_test

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/itinera/pkg/lock"
)

func newRedisLocker(t *testing.T) (*lock.RedisLocker, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return lock.NewRedisLocker(client, "itinera:"), mr
}

func TestRedisLocker_AcquireAndRelease(t *testing.T) {
	locker, mr := newRedisLocker(t)

	unlock, ok, err := locker.TryAcquire(t.Context(), "sweep", 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists("itinera:lock:sweep"))

	require.NoError(t, unlock(t.Context()))
	assert.False(t, mr.Exists("itinera:lock:sweep"))
}

func TestRedisLocker_HeldLockRefusesSecondHolder(t *testing.T) {
	locker, _ := newRedisLocker(t)

	unlock, ok, err := locker.TryAcquire(t.Context(), "sweep", 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.TryAcquire(t.Context(), "sweep", 5*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, unlock(t.Context()))

	_, ok, err = locker.TryAcquire(t.Context(), "sweep", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLocker_StaleUnlockKeepsNewHolder(t *testing.T) {
	locker, mr := newRedisLocker(t)

	staleUnlock, ok, err := locker.TryAcquire(t.Context(), "sweep", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// The first holder's ttl expires and a second holder takes over
	mr.FastForward(2 * time.Second)

	_, ok, err = locker.TryAcquire(t.Context(), "sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// The stale unlock must not release the new holder's lock
	require.NoError(t, staleUnlock(t.Context()))
	assert.True(t, mr.Exists("itinera:lock:sweep"))
}

func TestMemoryLocker(t *testing.T) {
	locker := lock.NewMemoryLocker()

	unlock, ok, err := locker.TryAcquire(t.Context(), "sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.TryAcquire(t.Context(), "sweep", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, unlock(t.Context()))

	_, ok, err = locker.TryAcquire(t.Context(), "sweep", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryLocker_ExpiredLockIsReacquirable(t *testing.T) {
	locker := lock.NewMemoryLocker()

	_, ok, err := locker.TryAcquire(t.Context(), "sweep", -time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.TryAcquire(t.Context(), "sweep", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
