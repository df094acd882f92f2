package middleware

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, config RateLimiterConfig) (*SlidingWindowLimiter, *time.Time) {
	t.Helper()
	sl, err := NewSlidingWindowLimiter(config)
	require.NoError(t, err)
	clock := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	sl.now = func() time.Time { return clock }
	return sl, &clock
}

func TestNewSlidingWindowLimiterRejectsZeroCeilings(t *testing.T) {
	_, err := NewSlidingWindowLimiter(RateLimiterConfig{})
	require.Error(t, err)
}

func TestMinuteWindowBoundary(t *testing.T) {
	sl, clock := newTestLimiter(t, RateLimiterConfig{
		RequestsPerMinute: 5,
		RequestsPerHour:   1000,
		Burst:             100,
	})

	// Exactly the ceiling is allowed; one more is denied.
	for i := 0; i < 5; i++ {
		assert.True(t, sl.Allow("alice"), "request %d should be allowed", i+1)
	}
	assert.False(t, sl.Allow("alice"), "request over the minute ceiling must be denied")

	// Denied stays denied within the same window.
	assert.False(t, sl.Allow("alice"))

	// A new wall-clock minute resets the counter.
	*clock = clock.Add(time.Minute)
	assert.True(t, sl.Allow("alice"))
}

func TestHourWindowBoundary(t *testing.T) {
	sl, clock := newTestLimiter(t, RateLimiterConfig{
		RequestsPerMinute: 10,
		RequestsPerHour:   12,
		Burst:             100,
	})

	allowed := 0
	for i := 0; i < 20; i++ {
		if sl.Allow("bob") {
			allowed++
		}
		// Spread across minutes so only the hour ceiling binds.
		*clock = clock.Add(20 * time.Second)
	}
	assert.Equal(t, 12, allowed)

	// The hour rollover unblocks the client.
	*clock = clock.Truncate(time.Hour).Add(time.Hour)
	assert.True(t, sl.Allow("bob"))
}

func TestClientsAreIndependent(t *testing.T) {
	sl, _ := newTestLimiter(t, RateLimiterConfig{
		RequestsPerMinute: 2,
		RequestsPerHour:   1000,
		Burst:             100,
	})

	assert.True(t, sl.Allow("alice"))
	assert.True(t, sl.Allow("alice"))
	assert.False(t, sl.Allow("alice"))

	assert.True(t, sl.Allow("carol"), "one client's quota must not affect another")
	assert.Equal(t, 2, sl.ActiveClients())
}

func TestBurstGate(t *testing.T) {
	sl, _ := newTestLimiter(t, RateLimiterConfig{
		RequestsPerMinute: 1000,
		RequestsPerHour:   50000,
		Burst:             3,
	})

	// The token bucket caps back-to-back traffic below the window
	// ceiling.
	allowed := 0
	for i := 0; i < 10; i++ {
		if sl.Allow("dave") {
			allowed++
		}
	}
	assert.Equal(t, 3, allowed)
}

func TestConcurrentAllow(t *testing.T) {
	sl, _ := newTestLimiter(t, RateLimiterConfig{
		RequestsPerMinute: 100,
		RequestsPerHour:   10000,
		Burst:             200,
	})

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				if sl.Allow(fmt.Sprintf("client-%d", g%2)) {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}(g)
	}
	wg.Wait()

	// Two clients, 100 requests each against a 100/minute ceiling:
	// every request fits exactly within quota.
	assert.Equal(t, 200, allowed)
}
