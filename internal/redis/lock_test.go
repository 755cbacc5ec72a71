package redisclient

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisLocker(t *testing.T) (Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisProfessionalLocker(client, 5*time.Second), mr
}

func TestRedisLockerRunsCallback(t *testing.T) {
	locker, _ := newTestRedisLocker(t)

	ran := false
	err := locker.WithProfessionalLock(context.Background(), uuid.New(), func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestRedisLockerContention(t *testing.T) {
	locker, _ := newTestRedisLocker(t)
	professionalID := uuid.New()

	err := locker.WithProfessionalLock(context.Background(), professionalID, func(ctx context.Context) error {
		// Same professional while held: fail fast, no blocking.
		inner := locker.WithProfessionalLock(ctx, professionalID, func(ctx context.Context) error {
			return nil
		})
		assert.ErrorIs(t, inner, ErrLockNotAcquired)

		// A different professional is independent.
		return locker.WithProfessionalLock(ctx, uuid.New(), func(ctx context.Context) error {
			return nil
		})
	})
	require.NoError(t, err)
}

func TestRedisLockerReleasesOnReturn(t *testing.T) {
	locker, mr := newTestRedisLocker(t)
	professionalID := uuid.New()

	boom := errors.New("boom")
	err := locker.WithProfessionalLock(context.Background(), professionalID, func(ctx context.Context) error {
		assert.True(t, mr.Exists("lock:professional:"+professionalID.String()))
		return boom
	})
	require.ErrorIs(t, err, boom)

	// Released even though the callback failed.
	assert.False(t, mr.Exists("lock:professional:"+professionalID.String()))

	require.NoError(t, locker.WithProfessionalLock(context.Background(), professionalID, func(ctx context.Context) error {
		return nil
	}))
}

func TestRedisLockerDoesNotStealExpiredLock(t *testing.T) {
	locker, mr := newTestRedisLocker(t)
	professionalID := uuid.New()
	key := "lock:professional:" + professionalID.String()

	err := locker.WithProfessionalLock(context.Background(), professionalID, func(ctx context.Context) error {
		// Simulate TTL expiry and takeover by another process mid-section.
		mr.FastForward(10 * time.Second)
		require.NoError(t, mr.Set(key, "other-token"))
		return nil
	})
	require.NoError(t, err)

	// The guarded release must not delete a lock it no longer owns.
	got, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "other-token", got)
}

func TestLocalLockerSerializesPerProfessional(t *testing.T) {
	locker := NewLocalLocker()
	professionalID := uuid.New()

	// An unguarded counter only ends up exact if the critical sections are
	// mutually exclusive.
	counter := 0
	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = locker.WithProfessionalLock(context.Background(), professionalID, func(ctx context.Context) error {
				v := counter
				time.Sleep(time.Millisecond)
				counter = v + 1
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, workers, counter)
}

func TestLocalLockerPropagatesError(t *testing.T) {
	locker := NewLocalLocker()
	boom := errors.New("boom")
	err := locker.WithProfessionalLock(context.Background(), uuid.New(), func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}
