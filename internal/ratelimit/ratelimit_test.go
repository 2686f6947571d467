package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testLimiter returns a limiter with a controllable clock.
func testLimiter(def Limit, overrides map[string]Limit) (*Limiter, *time.Time) {
	l := New(def, overrides)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestSingleTokenBucketDeniesSecondCall(t *testing.T) {
	l, now := testLimiter(DefaultLimit, map[string]Limit{
		"mcp-tasks-summary": {Capacity: 1, RefillTokens: 1, RefillInterval: time.Minute},
	})

	d := l.TryConsume("mcp-tasks-summary")
	require.True(t, d.Allowed)
	require.Equal(t, 0, d.Remaining)

	d = l.TryConsume("mcp-tasks-summary")
	require.False(t, d.Allowed)
	require.Equal(t, 0, d.Remaining)
	require.Equal(t, int64(60), d.RetryAfterSeconds())

	// One minute later the refill makes the call succeed again.
	*now = now.Add(time.Minute)
	d = l.TryConsume("mcp-tasks-summary")
	require.True(t, d.Allowed)
}

func TestRetryAfterRoundsUp(t *testing.T) {
	require.Equal(t, int64(60), Decision{NanosToRefill: 60 * int64(time.Second)}.RetryAfterSeconds())
	require.Equal(t, int64(60), Decision{NanosToRefill: 59*int64(time.Second) + 1}.RetryAfterSeconds())
	require.Equal(t, int64(1), Decision{NanosToRefill: 1}.RetryAfterSeconds())
	require.Equal(t, int64(0), Decision{NanosToRefill: 0}.RetryAfterSeconds())
}

func TestRefillIsDiscreteAndCapped(t *testing.T) {
	l, now := testLimiter(DefaultLimit, map[string]Limit{
		"tool": {Capacity: 3, RefillTokens: 2, RefillInterval: time.Minute},
	})

	for i := 0; i < 3; i++ {
		require.True(t, l.TryConsume("tool").Allowed)
	}
	require.False(t, l.TryConsume("tool").Allowed)

	// Mid-interval nothing refills.
	*now = now.Add(30 * time.Second)
	require.False(t, l.TryConsume("tool").Allowed)

	// One full interval adds RefillTokens, not a fractional trickle.
	*now = now.Add(30 * time.Second)
	d := l.TryConsume("tool")
	require.True(t, d.Allowed)
	require.Equal(t, 1, d.Remaining)

	// A long sleep refills to capacity, never beyond.
	*now = now.Add(10 * time.Minute)
	d = l.TryConsume("tool")
	require.True(t, d.Allowed)
	require.Equal(t, 2, d.Remaining)
}

func TestRefillClockAdvancesByWholeIntervals(t *testing.T) {
	l, now := testLimiter(DefaultLimit, map[string]Limit{
		"tool": {Capacity: 1, RefillTokens: 1, RefillInterval: time.Minute},
	})
	require.True(t, l.TryConsume("tool").Allowed)

	// 90s after bucket creation: one interval consumed, 30s left to the next.
	*now = now.Add(90 * time.Second)
	d := l.TryConsume("tool")
	require.True(t, d.Allowed)

	d = l.TryConsume("tool")
	require.False(t, d.Allowed)
	require.Equal(t, int64(30*time.Second), d.NanosToRefill)
	require.Equal(t, int64(30), d.RetryAfterSeconds())
}

func TestDefaultAndOverrideSelection(t *testing.T) {
	l, _ := testLimiter(Limit{Capacity: 5, RefillTokens: 5, RefillInterval: time.Minute}, map[string]Limit{
		"special": {Capacity: 1, RefillTokens: 1, RefillInterval: time.Second},
	})

	require.Equal(t, 1, l.LimitFor("special").Capacity)
	require.Equal(t, 5, l.LimitFor("anything-else").Capacity)

	// Buckets are independent per tool.
	require.True(t, l.TryConsume("special").Allowed)
	require.False(t, l.TryConsume("special").Allowed)
	require.True(t, l.TryConsume("anything-else").Allowed)
}

func TestZeroDefaultFallsBack(t *testing.T) {
	l := New(Limit{}, nil)
	require.Equal(t, DefaultLimit, l.LimitFor("tool"))
}

func TestConcurrentConsumeNeverOversells(t *testing.T) {
	l, _ := testLimiter(DefaultLimit, map[string]Limit{
		"tool": {Capacity: 50, RefillTokens: 50, RefillInterval: time.Hour},
	})

	var wg sync.WaitGroup
	allowed := make(chan bool, 200)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed <- l.TryConsume("tool").Allowed
		}()
	}
	wg.Wait()
	close(allowed)

	count := 0
	for a := range allowed {
		if a {
			count++
		}
	}
	require.Equal(t, 50, count)
}
