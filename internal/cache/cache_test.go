package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 2, 14, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func counting(v string, calls *atomic.Int32) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		calls.Add(1)
		return v, nil
	}
}

func TestKey(t *testing.T) {
	assert.Equal(t, "elements:25544", Key("elements", 25544))
	assert.Equal(t, "transits:25544:0.5:-1.25", Key("transits", 25544, 0.5, -1.25))
	assert.Equal(t, "stats", Key("stats"))
}

func TestGetOrComputeSingleFlight(t *testing.T) {
	c := New[string]("test", newFakeClock(), testLogger())

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	compute := func(context.Context) (string, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return "value", nil
	}

	const n = 50
	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.GetOrCompute(context.Background(), "k", time.Minute, compute)
		}(i)
	}

	<-started
	// Every caller has missed before the value exists; give the last of them
	// time to reach the flight.
	require.Eventually(t, func() bool { return c.Stats().Misses == n },
		5*time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "compute must run exactly once")
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "value", results[i])
	}
	assert.Equal(t, 1, c.Len())

	// One caller led the flight, the rest joined it; none was served from
	// the cache.
	stats := c.Stats()
	assert.Equal(t, int64(0), stats.Hits)
	assert.Equal(t, int64(n-1), stats.Joins)
}

func TestGetOrComputeExpiry(t *testing.T) {
	clock := newFakeClock()
	c := New[string]("test", clock, testLogger())
	var calls atomic.Int32
	ctx := context.Background()

	v, err := c.GetOrCompute(ctx, "k", time.Minute, counting("a", &calls))
	require.NoError(t, err)
	assert.Equal(t, "a", v)

	// Reads inside the TTL are served from the cache and do not extend it.
	clock.Advance(30 * time.Second)
	_, err = c.GetOrCompute(ctx, "k", time.Minute, counting("b", &calls))
	require.NoError(t, err)
	clock.Advance(30*time.Second - time.Nanosecond)
	v, err = c.GetOrCompute(ctx, "k", time.Minute, counting("b", &calls))
	require.NoError(t, err)
	assert.Equal(t, "a", v)
	assert.Equal(t, int32(1), calls.Load())

	// Expiry is exactly createdAt + ttl.
	clock.Advance(time.Nanosecond)
	v, err = c.GetOrCompute(ctx, "k", time.Minute, counting("b", &calls))
	require.NoError(t, err)
	assert.Equal(t, "b", v)
	assert.Equal(t, int32(2), calls.Load())

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(2), stats.Misses)
}

func TestGetOrComputeErrorsNotCached(t *testing.T) {
	c := New[string]("test", newFakeClock(), testLogger())
	boom := errors.New("boom")
	var calls atomic.Int32

	_, err := c.GetOrCompute(context.Background(), "k", time.Minute, func(context.Context) (string, error) {
		calls.Add(1)
		return "", boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len())

	v, err := c.GetOrCompute(context.Background(), "k", time.Minute, counting("ok", &calls))
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGetOrComputeZeroTTL(t *testing.T) {
	c := New[int]("test", newFakeClock(), testLogger())
	v, err := c.GetOrCompute(context.Background(), "k", 0, func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, 0, c.Len())
}

func TestInvalidate(t *testing.T) {
	c := New[string]("test", newFakeClock(), testLogger())
	var calls atomic.Int32
	ctx := context.Background()

	_, err := c.GetOrCompute(ctx, "elements:1", time.Hour, counting("old", &calls))
	require.NoError(t, err)

	assert.True(t, c.Invalidate("elements:1"))
	assert.False(t, c.Invalidate("elements:1"))

	v, err := c.GetOrCompute(ctx, "elements:1", time.Hour, counting("new", &calls))
	require.NoError(t, err)
	assert.Equal(t, "new", v)
	assert.Equal(t, int32(2), calls.Load())
}

func TestInvalidatePrefix(t *testing.T) {
	c := New[int]("test", newFakeClock(), testLogger())
	c.Set("transits:1:a", 1, time.Hour)
	c.Set("transits:1:b", 2, time.Hour)
	c.Set("transits:10:a", 3, time.Hour)
	c.Set("elements:1", 4, time.Hour)

	assert.Equal(t, 2, c.InvalidatePrefix("transits:1:"))
	assert.Equal(t, 2, c.Len())

	_, ok := c.Get("transits:10:a")
	assert.True(t, ok)
	_, ok = c.Get("elements:1")
	assert.True(t, ok)
	assert.Equal(t, int64(2), c.Stats().Evictions)
}

// TestInvalidateDuringCompute verifies a compute that started before an
// invalidation answers its caller but leaves nothing behind.
func TestInvalidateDuringCompute(t *testing.T) {
	c := New[string]("test", newFakeClock(), testLogger())
	started := make(chan struct{})
	release := make(chan struct{})

	done := make(chan string)
	go func() {
		v, _ := c.GetOrCompute(context.Background(), "k", time.Hour, func(context.Context) (string, error) {
			close(started)
			<-release
			return "stale", nil
		})
		done <- v
	}()

	<-started
	c.Invalidate("k")

	// A caller arriving after the invalidation starts its own compute.
	v, err := c.GetOrCompute(context.Background(), "k", time.Hour, func(context.Context) (string, error) {
		return "fresh", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)

	close(release)
	assert.Equal(t, "stale", <-done)

	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "fresh", v, "the revoked compute must not overwrite the newer value")
}

func TestGetOrComputeCallerCancel(t *testing.T) {
	c := New[string]("test", newFakeClock(), testLogger())
	release := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())

	var computeCtxErr atomic.Value
	errCh := make(chan error)
	go func() {
		_, err := c.GetOrCompute(ctx, "k", time.Hour, func(cctx context.Context) (string, error) {
			<-release
			computeCtxErr.Store(cctx.Err() == nil)
			return "v", nil
		})
		errCh <- err
	}()

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
	close(release)

	// The compute outlives the departed caller and still populates the cache.
	require.Eventually(t, func() bool {
		_, ok := c.Get("k")
		return ok
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, true, computeCtxErr.Load())
}

// TestUnrelatedKeysDoNotBlock verifies a slow compute for one key does not
// hold up another key.
func TestUnrelatedKeysDoNotBlock(t *testing.T) {
	c := New[string]("test", newFakeClock(), testLogger())
	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})

	go func() {
		_, _ = c.GetOrCompute(context.Background(), "slow", time.Hour, func(context.Context) (string, error) {
			close(started)
			<-release
			return "slow", nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := c.GetOrCompute(ctx, "fast", time.Hour, func(context.Context) (string, error) {
		return "fast", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fast", v)
}

func TestEvictExpired(t *testing.T) {
	clock := newFakeClock()
	c := New[int]("test", clock, testLogger())
	c.Set("short", 1, time.Minute)
	c.Set("long", 2, time.Hour)

	assert.Equal(t, 0, c.EvictExpired())
	clock.Advance(time.Minute)
	assert.Equal(t, 1, c.EvictExpired())
	assert.Equal(t, 1, c.Len())

	_, ok := c.Get("long")
	assert.True(t, ok)
}

func TestStartJanitor(t *testing.T) {
	clock := newFakeClock()
	c := New[int]("test", clock, testLogger())
	c.Set("k", 1, time.Minute)
	clock.Advance(2 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		c.Start(ctx, 5*time.Millisecond)
		close(stopped)
	}()

	require.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop on cancel")
	}
}
