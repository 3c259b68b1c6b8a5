package ratelimit

import (
	"context"
	"errors"
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

func TestAcquireImmediate(t *testing.T) {
	l := New(map[string]ServiceConfig{
		"hunter": {PerMinute: 60},
	})

	start := time.Now()
	err := l.Acquire(context.Background(), "hunter", 1)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestAcquireRequiresAllWindows(t *testing.T) {
	l := New(map[string]ServiceConfig{
		"hunter": {PerMinute: 100, PerDay: 2},
	})

	require.NoError(t, l.Acquire(context.Background(), "hunter", 1))
	require.NoError(t, l.Acquire(context.Background(), "hunter", 1))

	// The per-minute window still has tokens; the day window is drained.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx, "hunter", 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimitTimeout))
	assert.Equal(t, errkind.RateLimited, errkind.Of(err))
}

func TestAcquireExpiredDeadlineFailsFast(t *testing.T) {
	l := New(map[string]ServiceConfig{
		"search": {PerMinute: 1},
	})
	require.NoError(t, l.Acquire(context.Background(), "search", 1))

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	start := time.Now()
	err := l.Acquire(ctx, "search", 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimitTimeout))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestAcquireCancellation(t *testing.T) {
	l := New(map[string]ServiceConfig{
		"search": {PerMinute: 1},
	})
	require.NoError(t, l.Acquire(context.Background(), "search", 1))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- l.Acquire(ctx, "search", 1)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, errkind.Cancelled, errkind.Of(err))
	case <-time.After(2 * time.Second):
		t.Fatal("acquire did not return after cancellation")
	}
}

func TestAcquireFIFOOrder(t *testing.T) {
	l := New(map[string]ServiceConfig{
		"scraping": {PerMinute: 600, MinInterval: 100 * time.Millisecond},
	})
	// Consume one grant so every subsequent acquire has to wait out the
	// spacing interval.
	require.NoError(t, l.Acquire(context.Background(), "scraping", 1))

	order := make(chan int, 3)
	for i := 1; i <= 3; i++ {
		i := i
		go func() {
			if err := l.Acquire(context.Background(), "scraping", 1); err == nil {
				order <- i
			}
		}()
		// Stagger arrivals so queue positions are deterministic.
		time.Sleep(40 * time.Millisecond)
	}

	var got []int
	for len(got) < 3 {
		select {
		case i := <-order:
			got = append(got, i)
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for acquires, got %v", got)
		}
	}
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestMinIntervalSpacing(t *testing.T) {
	l := New(map[string]ServiceConfig{
		"scraping": {PerMinute: 600, MinInterval: 60 * time.Millisecond},
	})

	require.NoError(t, l.Acquire(context.Background(), "scraping", 1))
	start := time.Now()
	require.NoError(t, l.Acquire(context.Background(), "scraping", 1))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestTryAcquire(t *testing.T) {
	l := New(map[string]ServiceConfig{
		"notion": {PerMinute: 2},
	})

	assert.True(t, l.TryAcquire("notion", 1))
	assert.True(t, l.TryAcquire("notion", 1))
	assert.False(t, l.TryAcquire("notion", 1))
}

func TestUpdateLimitClamps(t *testing.T) {
	l := New(map[string]ServiceConfig{
		"openai": {PerMinute: 40},
	})

	assert.Equal(t, 40, l.UpdateLimit("openai", 100))
	assert.Equal(t, 10, l.UpdateLimit("openai", 1))
	assert.Equal(t, 10, l.CurrentLimit("openai"))
	assert.Equal(t, 25, l.UpdateLimit("openai", 25))
}

func TestAdaptiveLowersOnFailures(t *testing.T) {
	l := New(map[string]ServiceConfig{
		"openai": {PerMinute: 40},
	})

	for i := 0; i < adaptWindow; i++ {
		l.RecordOutcome("openai", i%2 == 0)
	}
	// 50% success rate shrinks the target by ceil(10%).
	assert.Equal(t, 36, l.CurrentLimit("openai"))
}

func TestAdaptiveRaisesTowardCeiling(t *testing.T) {
	l := New(map[string]ServiceConfig{
		"openai": {PerMinute: 40},
	})
	l.UpdateLimit("openai", 20)

	for i := 0; i < adaptWindow; i++ {
		l.RecordOutcome("openai", true)
	}
	assert.Equal(t, 22, l.CurrentLimit("openai"))

	// The target never exceeds the configured ceiling.
	for j := 0; j < 20; j++ {
		for i := 0; i < adaptWindow; i++ {
			l.RecordOutcome("openai", true)
		}
	}
	assert.Equal(t, 40, l.CurrentLimit("openai"))
}

func TestUnknownServicePassesThrough(t *testing.T) {
	l := New(nil)

	start := time.Now()
	require.NoError(t, l.Acquire(context.Background(), "mystery", 1))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.True(t, l.TryAcquire("mystery", 1))
}

func TestSnapshots(t *testing.T) {
	l := New(map[string]ServiceConfig{
		"hunter": {PerMinute: 10, PerDay: 500},
	})
	require.NoError(t, l.Acquire(context.Background(), "hunter", 1))

	snaps := l.Snapshots()
	require.Contains(t, snaps, "hunter")
	s := snaps["hunter"]
	assert.Equal(t, 10, s.PerMinuteTarget)
	assert.Equal(t, int64(1), s.Granted)
	assert.Less(t, s.TokensMinute, 10.0)
	assert.Greater(t, s.TokensDay, 498.0)
}
