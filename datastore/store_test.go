package datastore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ts4z/contentqueue/future"
)

func await[T any](t *testing.T, f *future.Future[T]) (T, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := f.Await(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "future never settled")
	return v, err
}

func sequenceFetcher(calls *atomic.Int32, values ...string) Fetcher[string] {
	return func(context.Context, string, time.Time) (string, error) {
		n := calls.Add(1)
		return values[int(n-1)%len(values)], nil
	}
}

func TestStoreScenario(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var calls atomic.Int32
	s := NewStore(sequenceFetcher(&calls, "v1", "v2"), WithCacheTime(1000*time.Millisecond), WithClock(clock))

	v, err := await(t, s.GetData(context.Background()))
	require.NoError(t, err)
	assert.Equal(t, "v1", v)

	v, err = await(t, s.GetData(context.Background()))
	require.NoError(t, err)
	assert.Equal(t, "v1", v)
	assert.Equal(t, int32(1), calls.Load(), "read within the TTL must not fetch")

	clock.Advance(1100 * time.Millisecond)

	v, err = await(t, s.GetData(context.Background()))
	require.NoError(t, err)
	assert.Equal(t, "v2", v)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCacheExpired(t *testing.T) {
	const ttl = 30 * time.Second
	clock := clockwork.NewFakeClock()
	var calls atomic.Int32
	s := NewStore(sequenceFetcher(&calls, "v"), WithCacheTime(ttl), WithClock(clock))

	assert.True(t, s.CacheExpired(), "a new store starts expired")

	_, err := await(t, s.GetData(context.Background()))
	require.NoError(t, err)
	assert.False(t, s.CacheExpired())

	clock.Advance(ttl - time.Millisecond)
	assert.False(t, s.CacheExpired())

	clock.Advance(time.Millisecond)
	assert.True(t, s.CacheExpired(), "expired once exactly the TTL has passed")
}

func TestSnapshotExpiredMatchesCacheExpired(t *testing.T) {
	const ttl = 30 * time.Second
	clock := clockwork.NewFakeClock()
	var calls atomic.Int32
	s := NewStore(sequenceFetcher(&calls, "v"), WithCacheTime(ttl), WithClock(clock))

	assert.True(t, s.Snapshot().Expired)

	_, err := await(t, s.GetData(context.Background()))
	require.NoError(t, err)
	assert.False(t, s.Snapshot().Expired)

	clock.Advance(ttl)
	assert.True(t, s.Snapshot().Expired)
}

func TestSnapshotIsConsistentDuringFetches(t *testing.T) {
	// The clock never moves, so a store is expired exactly when it is empty.
	clock := clockwork.NewFakeClock()
	var calls atomic.Int32
	s := NewStore(func(context.Context, string, time.Time) (string, error) {
		if calls.Add(1)%2 == 0 {
			return "", ErrNoData
		}
		return "v", nil
	}, WithName("flappy"), WithClock(clock))
	h := &Holder{names: []string{"flappy"}, members: map[string]member{"flappy": s}}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := s.Snapshot()
				if snap.Valid == snap.Expired {
					t.Errorf("snapshot valid=%v expired=%v", snap.Valid, snap.Expired)
					return
				}
				info := h.Snapshots()["flappy"]
				if info.Valid == info.Expired {
					t.Errorf("info valid=%v expired=%v", info.Valid, info.Expired)
					return
				}
			}
		}()
	}

	for range 200 {
		_, _ = await(t, s.Refresh(context.Background()))
	}
	close(stop)
	wg.Wait()
}

func TestDefaultCacheTime(t *testing.T) {
	s := NewStore(func(context.Context, int, time.Time) (int, error) { return 0, nil })
	assert.Equal(t, 60*time.Second, s.CacheTime())
	assert.Equal(t, "anonymous", s.Name())
}

func TestConcurrentReadsShareOneFetch(t *testing.T) {
	for _, n := range []int{2, 10, 100} {
		t.Run(fmt.Sprintf("%d readers", n), func(t *testing.T) {
			var calls atomic.Int32
			release := make(chan struct{})
			s := NewStore(func(context.Context, string, time.Time) (string, error) {
				calls.Add(1)
				<-release
				return "deduped", nil
			}, WithClock(clockwork.NewFakeClock()))

			futures := make([]*future.Future[string], n)
			var wg sync.WaitGroup
			wg.Add(n)
			for i := range n {
				go func(i int) {
					defer wg.Done()
					futures[i] = s.GetData(context.Background())
				}(i)
			}
			wg.Wait()
			close(release)

			for i, f := range futures {
				assert.Same(t, futures[0], f, "reader %d got a different future", i)
				v, err := await(t, f)
				require.NoError(t, err)
				assert.Equal(t, "deduped", v)
			}
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestFailureClearsInFlight(t *testing.T) {
	var calls atomic.Int32
	errBoom := errors.New("boom")
	s := NewStore(func(context.Context, string, time.Time) (string, error) {
		if calls.Add(1) == 1 {
			return "", errBoom
		}
		return "ok", nil
	}, WithName("flaky"), WithClock(clockwork.NewFakeClock()))

	_, err := await(t, s.GetData(context.Background()))
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "flaky", fe.Store)

	assert.True(t, s.CacheExpired())
	assert.False(t, s.Snapshot().Fetching)

	v, err := await(t, s.GetData(context.Background()))
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFailureIsSharedByAllWaiters(t *testing.T) {
	release := make(chan struct{})
	errBoom := errors.New("boom")
	s := NewStore(func(context.Context, int, time.Time) (int, error) {
		<-release
		return 0, errBoom
	}, WithClock(clockwork.NewFakeClock()))

	f1 := s.GetData(context.Background())
	f2 := s.GetData(context.Background())
	close(release)

	_, err1 := await(t, f1)
	_, err2 := await(t, f2)
	assert.ErrorIs(t, err1, errBoom)
	assert.ErrorIs(t, err2, errBoom)
}

func TestFailureKeepsPreviousValue(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var calls atomic.Int32
	s := NewStore(func(context.Context, string, time.Time) (string, error) {
		if calls.Add(1) == 1 {
			return "good", nil
		}
		return "", errors.New("down")
	}, WithCacheTime(time.Minute), WithClock(clock))

	_, err := await(t, s.GetData(context.Background()))
	require.NoError(t, err)
	updatedAt := s.Snapshot().UpdatedAt

	clock.Advance(2 * time.Minute)
	_, err = await(t, s.GetData(context.Background()))
	require.Error(t, err)

	snap := s.Snapshot()
	assert.Equal(t, "good", snap.Value)
	assert.True(t, snap.Valid)
	assert.Equal(t, updatedAt, snap.UpdatedAt)
	assert.True(t, s.CacheExpired())
}

func TestFetcherPanicIsAFailure(t *testing.T) {
	var calls atomic.Int32
	s := NewStore(func(context.Context, string, time.Time) (string, error) {
		if calls.Add(1) == 1 {
			panic("kaboom")
		}
		return "recovered", nil
	}, WithClock(clockwork.NewFakeClock()))

	_, err := await(t, s.GetData(context.Background()))
	var pe *future.PanicError
	require.ErrorAs(t, err, &pe)

	v, err := await(t, s.GetData(context.Background()))
	require.NoError(t, err)
	assert.Equal(t, "recovered", v)
}

func TestFetcherSeesPreviousValue(t *testing.T) {
	clock := clockwork.NewFakeClock()
	type call struct {
		previous   int
		lastUpdate time.Time
	}
	var seen []call
	s := NewStore(func(_ context.Context, previous int, lastUpdate time.Time) (int, error) {
		seen = append(seen, call{previous, lastUpdate})
		return previous + 1, nil
	}, WithCacheTime(time.Second), WithClock(clock))

	_, err := await(t, s.GetData(context.Background()))
	require.NoError(t, err)
	firstFetch := clock.Now()

	clock.Advance(time.Second)
	v, err := await(t, s.GetData(context.Background()))
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	require.Len(t, seen, 2)
	assert.Equal(t, 0, seen[0].previous)
	assert.True(t, seen[0].lastUpdate.IsZero())
	assert.Equal(t, 1, seen[1].previous)
	assert.Equal(t, firstFetch, seen[1].lastUpdate)
}

func TestNoDataEmptiesTheStore(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var calls atomic.Int32
	s := NewStore(func(_ context.Context, previous string, _ time.Time) (string, error) {
		switch calls.Add(1) {
		case 1:
			return "v1", nil
		case 2:
			return "", fmt.Errorf("repository gone: %w", ErrNoData)
		default:
			assert.Equal(t, "", previous, "emptied store hands the fetcher the zero value")
			return "v3", nil
		}
	}, WithCacheTime(time.Minute), WithClock(clock))

	_, err := await(t, s.GetData(context.Background()))
	require.NoError(t, err)

	clock.Advance(time.Minute)
	v, err := await(t, s.GetData(context.Background()))
	require.NoError(t, err, "no data is not a failure")
	assert.Equal(t, "", v)
	assert.False(t, s.Snapshot().Valid)
	assert.True(t, s.CacheExpired(), "an empty store is expired even within the TTL")

	v, err = await(t, s.GetData(context.Background()))
	require.NoError(t, err)
	assert.Equal(t, "v3", v)
	assert.Equal(t, int32(3), calls.Load())
}

func TestZeroValueIsCacheable(t *testing.T) {
	var calls atomic.Int32
	s := NewStore(func(context.Context, *int, time.Time) (*int, error) {
		calls.Add(1)
		return nil, nil
	}, WithClock(clockwork.NewFakeClock()))

	for range 3 {
		v, err := await(t, s.GetData(context.Background()))
		require.NoError(t, err)
		assert.Nil(t, v)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestRefreshIgnoresFreshness(t *testing.T) {
	var calls atomic.Int32
	s := NewStore(sequenceFetcher(&calls, "v1", "v2"), WithCacheTime(time.Hour), WithClock(clockwork.NewFakeClock()))

	_, err := await(t, s.GetData(context.Background()))
	require.NoError(t, err)

	v, err := await(t, s.Refresh(context.Background()))
	require.NoError(t, err)
	assert.Equal(t, "v2", v)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRefreshJoinsInFlightFetch(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	s := NewStore(func(context.Context, string, time.Time) (string, error) {
		calls.Add(1)
		<-release
		return "v", nil
	}, WithClock(clockwork.NewFakeClock()))

	f1 := s.GetData(context.Background())
	f2 := s.Refresh(context.Background())
	assert.Same(t, f1, f2)
	assert.True(t, s.Snapshot().Fetching)

	close(release)
	_, err := await(t, f2)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCallerCancellationDoesNotCancelFetch(t *testing.T) {
	release := make(chan struct{})
	fetchCtxErr := make(chan error, 1)
	s := NewStore(func(ctx context.Context, _ string, _ time.Time) (string, error) {
		<-release
		fetchCtxErr <- ctx.Err()
		return "v", nil
	}, WithClock(clockwork.NewFakeClock()))

	ctx, cancel := context.WithCancel(context.Background())
	f := s.GetData(ctx)
	cancel()

	_, err := f.Await(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	v, err := await(t, f)
	require.NoError(t, err)
	assert.Equal(t, "v", v)
	assert.NoError(t, <-fetchCtxErr)
}

func TestStoreCounters(t *testing.T) {
	const name = "countersTestStore"
	release := make(chan struct{})
	s := NewStore(func(context.Context, int, time.Time) (int, error) {
		<-release
		return 1, nil
	}, WithName(name), WithClock(clockwork.NewFakeClock()))

	f := s.GetData(context.Background())
	s.GetData(context.Background())
	close(release)
	_, err := await(t, f)
	require.NoError(t, err)
	s.GetData(context.Background())

	assert.Equal(t, int64(1), storeStats.Value(name, "misses"))
	assert.Equal(t, int64(1), storeStats.Value(name, "dedups"))
	assert.Equal(t, int64(1), storeStats.Value(name, "hits"))
}
