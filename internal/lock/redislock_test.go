package lock_test

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-kasir/internal/lock"
)

func newLocker(t *testing.T) lock.Locker {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond}
}

func TestTryAcquireRejectsSecondHolder(t *testing.T) {
	locker := newLocker(t)
	ctx := context.Background()

	lease, err := locker.TryAcquire(ctx, lock.SessionTxKey("ses-1"), time.Minute)
	require.NoError(t, err)

	_, err = locker.TryAcquire(ctx, lock.SessionTxKey("ses-1"), time.Minute)
	require.ErrorIs(t, err, lock.ErrAlreadyHeld)

	// A different session is unaffected.
	other, err := locker.TryAcquire(ctx, lock.SessionTxKey("ses-2"), time.Minute)
	require.NoError(t, err)
	other.Release(ctx)

	lease.Release(ctx)
	reacquired, err := locker.TryAcquire(ctx, lock.SessionTxKey("ses-1"), time.Minute)
	require.NoError(t, err)
	reacquired.Release(ctx)
}

func TestReleaseIsIdempotent(t *testing.T) {
	locker := newLocker(t)
	ctx := context.Background()

	lease, err := locker.TryAcquire(ctx, "demo", time.Minute)
	require.NoError(t, err)
	lease.Release(ctx)
	lease.Release(ctx)

	next, err := locker.TryAcquire(ctx, "demo", time.Minute)
	require.NoError(t, err)

	// Releasing the stale lease must not free the new holder's key.
	lease.Release(ctx)
	_, err = locker.TryAcquire(ctx, "demo", time.Minute)
	require.ErrorIs(t, err, lock.ErrAlreadyHeld)
	next.Release(ctx)
}

func TestWithLockSerializes(t *testing.T) {
	locker := newLocker(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var order []string
	var mu sync.Mutex
	firstDone := make(chan struct{})
	releaseFirst := make(chan struct{})

	go func() {
		err := locker.WithLock(ctx, "demo", 100*time.Millisecond, func(context.Context) error {
			mu.Lock()
			order = append(order, "first")
			mu.Unlock()
			close(firstDone)
			<-releaseFirst
			return nil
		})
		require.NoError(t, err)
	}()

	<-firstDone

	go func() {
		err := locker.WithLock(ctx, "demo", 100*time.Millisecond, func(context.Context) error {
			mu.Lock()
			order = append(order, "second")
			mu.Unlock()
			return nil
		})
		require.NoError(t, err)
	}()

	close(releaseFirst)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, time.Second, 10*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"first", "second"}, order)
}
