package locking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction(
			"github.com/go-redis/redis/v8/internal/pool.(*ConnPool).reaper",
		),
	)
}

func TestLocalLocker_SerializesSameKey(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(ctx, "user-1")
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()

			mu.Lock()
			active++
			maxSeen = max(maxSeen, active)
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, locker.Len())
}

func TestLocalLocker_DifferentKeysDoNotContend(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	unlockA, err := locker.Lock(ctx, "user-a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	unlockB, err := locker.Lock(ctx, "user-b")
	require.NoError(t, err)
	unlockB()
}

func TestLocalLocker_ContextCancelled(t *testing.T) {
	locker := NewLocalLocker()

	unlock, err := locker.Lock(context.Background(), "user-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "user-1")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()
	assert.Equal(t, 0, locker.Len())
}

func TestRedisLocker_AcquireAndRelease(t *testing.T) {
	db, mock := redismock.NewClientMock()
	defer db.Close()

	locker := NewRedisLocker(db, time.Second, time.Millisecond)
	locker.NewToken = func() string { return "token-1" }

	key := keyPrefix + "user-1"
	mock.ExpectSetNX(key, "token-1", time.Second).SetVal(true)
	mock.ExpectEval(releaseScript, []string{key}, "token-1").SetVal(int64(1))

	unlock, err := locker.Lock(context.Background(), "user-1")
	require.NoError(t, err)
	unlock()

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLocker_RetriesWhileHeld(t *testing.T) {
	db, mock := redismock.NewClientMock()
	defer db.Close()

	locker := NewRedisLocker(db, time.Second, time.Millisecond)
	locker.NewToken = func() string { return "token-2" }

	key := keyPrefix + "user-2"
	mock.ExpectSetNX(key, "token-2", time.Second).SetVal(false)
	mock.ExpectSetNX(key, "token-2", time.Second).SetVal(false)
	mock.ExpectSetNX(key, "token-2", time.Second).SetVal(true)
	mock.ExpectEval(releaseScript, []string{key}, "token-2").SetVal(int64(1))

	unlock, err := locker.Lock(context.Background(), "user-2")
	require.NoError(t, err)
	unlock()

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLocker_GivesUpWhenContextEnds(t *testing.T) {
	db, mock := redismock.NewClientMock()
	defer db.Close()

	locker := NewRedisLocker(db, time.Second, 50*time.Millisecond)
	locker.NewToken = func() string { return "token-3" }

	key := keyPrefix + "user-3"
	mock.ExpectSetNX(key, "token-3", time.Second).SetVal(false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := locker.Lock(ctx, "user-3")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedisLocker_RedisError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	defer db.Close()

	locker := NewRedisLocker(db, time.Second, time.Millisecond)
	locker.NewToken = func() string { return "token-4" }

	mock.ExpectSetNX(keyPrefix+"user-4", "token-4", time.Second).SetErr(errors.New("connection refused"))

	_, err := locker.Lock(context.Background(), "user-4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}
