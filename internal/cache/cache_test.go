package cache

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Unisami/ProspectAI-sub000/internal/errkind"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(Config{MaxEntries: 100, MaxBytes: 1 << 20, Dir: t.TempDir()})
	require.NoError(t, err)
	return c
}

func TestSetGet(t *testing.T) {
	c := newTestCache(t)

	c.Set("profile:abc", []byte("hello"), time.Minute)
	v, ok := c.Get("profile:abc")
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), v)

	_, ok = c.Get("profile:missing")
	assert.False(t, ok)
}

func TestGetPromotesFromDisk(t *testing.T) {
	dir := t.TempDir()
	c1, err := New(Config{MaxEntries: 10, MaxBytes: 1 << 20, Dir: dir})
	require.NoError(t, err)
	c1.Set("team:acme", []byte("payload"), time.Minute)

	// A fresh instance over the same directory has a cold memory tier.
	c2, err := New(Config{MaxEntries: 10, MaxBytes: 1 << 20, Dir: dir})
	require.NoError(t, err)

	v, ok := c2.Get("team:acme")
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), v)
	assert.Equal(t, 1, c2.Stats().Entries, "disk hit should be promoted into memory")
}

func TestExpiry(t *testing.T) {
	c := newTestCache(t)

	c.Set("short", []byte("x"), 30*time.Millisecond)
	time.Sleep(60 * time.Millisecond)

	_, ok := c.Get("short")
	assert.False(t, ok)
	_, err := os.Stat(c.filePath("short"))
	assert.True(t, os.IsNotExist(err), "expired entry should be removed from disk")
}

func TestSetNonPositiveTTLExpiresOnWrite(t *testing.T) {
	c := newTestCache(t)

	c.Set("k", []byte("v1"), time.Minute)
	c.Set("k", []byte("v2"), 0)

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestLRUEvictionByCount(t *testing.T) {
	c, err := New(Config{MaxEntries: 3, MaxBytes: 1 << 20})
	require.NoError(t, err)

	c.Set("a", []byte("1"), time.Minute)
	c.Set("b", []byte("2"), time.Minute)
	c.Set("c", []byte("3"), time.Minute)
	// Touch "a" so "b" is the least recently used.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Set("d", []byte("4"), time.Minute)

	_, ok = c.Get("b")
	assert.False(t, ok)
	for _, k := range []string{"a", "c", "d"} {
		_, ok := c.Get(k)
		assert.True(t, ok, "key %s should survive", k)
	}
	assert.GreaterOrEqual(t, c.Stats().Evictions, int64(1))
}

func TestLRUEvictionByBytes(t *testing.T) {
	c, err := New(Config{MaxEntries: 100, MaxBytes: 100})
	require.NoError(t, err)

	big := make([]byte, 60)
	c.Set("first", big, time.Minute)
	c.Set("second", big, time.Minute)

	_, ok := c.Get("first")
	assert.False(t, ok)
	_, ok = c.Get("second")
	assert.True(t, ok)
}

func TestInvalidatePattern(t *testing.T) {
	dir := t.TempDir()
	c, err := New(Config{MaxEntries: 100, MaxBytes: 1 << 20, Dir: dir})
	require.NoError(t, err)

	c.Set("profile:a", []byte("1"), time.Minute)
	c.Set("profile:b", []byte("2"), time.Minute)
	c.Set("product:c", []byte("3"), time.Minute)

	n := c.InvalidatePattern("profile:*")
	assert.Equal(t, 2, n)

	_, ok := c.Get("profile:a")
	assert.False(t, ok)
	_, ok = c.Get("product:c")
	assert.True(t, ok)

	// The persistent tier was scrubbed too.
	c2, err := New(Config{MaxEntries: 100, MaxBytes: 1 << 20, Dir: dir})
	require.NoError(t, err)
	_, ok = c2.Get("profile:b")
	assert.False(t, ok)
	_, ok = c2.Get("product:c")
	assert.True(t, ok)
}

func TestGetOrComputeCoalesces(t *testing.T) {
	c := newTestCache(t)
	var computes int32

	compute := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&computes, 1)
		time.Sleep(50 * time.Millisecond)
		return []byte("result"), nil
	}

	var wg sync.WaitGroup
	results := make([][]byte, 5)
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _, errs[i] = c.GetOrCompute(context.Background(), "slow", time.Minute, compute)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&computes))
	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, []byte("result"), results[i])
	}

	// A later call is served from cache.
	v, cached, err := c.GetOrCompute(context.Background(), "slow", time.Minute, compute)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, []byte("result"), v)
	assert.Equal(t, int32(1), atomic.LoadInt32(&computes))
}

func TestGetOrComputeErrorNotCached(t *testing.T) {
	c := newTestCache(t)
	var computes int32

	boom := errors.New("upstream down")
	failing := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&computes, 1)
		time.Sleep(20 * time.Millisecond)
		return nil, boom
	}

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, errs[i] = c.GetOrCompute(context.Background(), "flaky", time.Minute, failing)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&computes))
	for _, err := range errs {
		assert.ErrorIs(t, err, boom)
	}

	// The failure was not cached: the next call computes again.
	v, cached, err := c.GetOrCompute(context.Background(), "flaky", time.Minute, func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&computes, 1)
		return []byte("recovered"), nil
	})
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, []byte("recovered"), v)
	assert.Equal(t, int32(2), atomic.LoadInt32(&computes))
}

func TestGetOrComputeWaiterCancellation(t *testing.T) {
	c := newTestCache(t)

	started := make(chan struct{})
	slow := func(ctx context.Context) ([]byte, error) {
		close(started)
		time.Sleep(150 * time.Millisecond)
		return []byte("eventually"), nil
	}

	first := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrCompute(context.Background(), "long", time.Minute, slow)
		first <- err
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err := c.GetOrCompute(ctx, "long", time.Minute, slow)
	require.Error(t, err)
	assert.Equal(t, errkind.Cancelled, errkind.Of(err))

	// The initiating caller still receives the computed value.
	require.NoError(t, <-first)
	v, ok := c.Get("long")
	require.True(t, ok)
	assert.Equal(t, []byte("eventually"), v)
}

func TestWarm(t *testing.T) {
	c := newTestCache(t)
	c.Set("already", []byte("warm"), time.Minute)

	var mu sync.Mutex
	var order []string
	job := func(name string) func(context.Context) ([]byte, error) {
		return func(ctx context.Context) ([]byte, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return []byte(name), nil
		}
	}

	done := c.Warm(context.Background(), []WarmJob{
		{Key: "low", TTL: time.Minute, Priority: 1, Compute: job("low")},
		{Key: "already", TTL: time.Minute, Priority: 100, Compute: job("already")},
		{Key: "high", TTL: time.Minute, Priority: 10, Compute: job("high")},
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("warming did not finish")
	}

	// Cached keys are skipped; the rest run highest priority first.
	assert.Equal(t, []string{"high", "low"}, order)
	v, ok := c.Get("high")
	require.True(t, ok)
	assert.Equal(t, []byte("high"), v)
}

func TestStats(t *testing.T) {
	c := newTestCache(t)

	c.Set("k", []byte("v"), time.Minute)
	c.Get("k")
	c.Get("k")
	c.Get("nope")

	s := c.Stats()
	assert.Equal(t, int64(2), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.Equal(t, 1, s.Entries)
	assert.InDelta(t, 2.0/3.0, s.HitRate, 0.001)
	assert.Greater(t, s.MemoryBytes, int64(0))
}

func TestCorruptDiskEntryDegradesToMiss(t *testing.T) {
	c := newTestCache(t)

	require.NoError(t, os.WriteFile(c.filePath("bad"), []byte("{not json"), 0644))

	_, ok := c.Get("bad")
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().DiskErrors)
}

func TestKeyDeterministic(t *testing.T) {
	k1 := Key("profile", "https://linkedin.com/in/jane")
	k2 := Key("profile", "https://linkedin.com/in/jane")
	k3 := Key("profile", "https://linkedin.com/in/john")

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.Contains(t, k1, "profile:")
}
