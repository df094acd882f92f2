package middleware

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/qaforge/botshield/internal/ports"
)

var _ ports.RateLimiter = (*SlidingWindowLimiter)(nil)

// RateLimiterConfig controls per-client request quotas.
type RateLimiterConfig struct {
	// RequestsPerMinute is the per-client minute-window ceiling.
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute" validate:"min=1"`

	// RequestsPerHour is the per-client hour-window ceiling.
	RequestsPerHour int `yaml:"requests_per_hour" json:"requests_per_hour" validate:"min=1"`

	// Burst bounds how many requests a client may issue back-to-back
	// before the token bucket starts shaping, independent of the
	// window counters.
	Burst int `yaml:"burst" json:"burst" validate:"min=1"`
}

// DefaultRateLimiterConfig returns the production quota configuration.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerMinute: 1000,
		RequestsPerHour:   50000,
		Burst:             100,
	}
}

// clientWindow tracks one client's counters. The wall-clock minute and
// hour each window started determine rollover; once a counter crosses
// its ceiling the client stays denied until that window rolls over.
type clientWindow struct {
	minuteStart time.Time
	hourStart   time.Time
	minuteCount int
	hourCount   int
	bucket      *rate.Limiter
}

// SlidingWindowLimiter enforces per-client minute and hour quotas plus a
// short-term burst gate. All state lives in one mutex-protected map so
// the rollover check-and-reset is atomic with respect to concurrent
// requests for the same client.
type SlidingWindowLimiter struct {
	config RateLimiterConfig

	mu      sync.Mutex
	clients map[string]*clientWindow

	// now is replaceable in tests.
	now func() time.Time
}

// NewSlidingWindowLimiter creates a limiter with the given quotas.
func NewSlidingWindowLimiter(config RateLimiterConfig) (*SlidingWindowLimiter, error) {
	if config.RequestsPerMinute < 1 || config.RequestsPerHour < 1 || config.Burst < 1 {
		return nil, fmt.Errorf("rate limiter ceilings must be positive")
	}
	return &SlidingWindowLimiter{
		config:  config,
		clients: make(map[string]*clientWindow),
		now:     time.Now,
	}, nil
}

// Allow records one request attempt for the client and reports whether
// it is within quota.
func (sl *SlidingWindowLimiter) Allow(clientID string) bool {
	now := sl.now()
	minute := now.Truncate(time.Minute)
	hour := now.Truncate(time.Hour)

	sl.mu.Lock()
	defer sl.mu.Unlock()

	cw, ok := sl.clients[clientID]
	if !ok {
		cw = &clientWindow{
			minuteStart: minute,
			hourStart:   hour,
			bucket: rate.NewLimiter(
				rate.Limit(float64(sl.config.RequestsPerMinute)/60.0),
				sl.config.Burst,
			),
		}
		sl.clients[clientID] = cw
	}

	if !minute.Equal(cw.minuteStart) {
		cw.minuteStart = minute
		cw.minuteCount = 0
	}
	if !hour.Equal(cw.hourStart) {
		cw.hourStart = hour
		cw.hourCount = 0
	}

	cw.minuteCount++
	cw.hourCount++

	if cw.minuteCount > sl.config.RequestsPerMinute || cw.hourCount > sl.config.RequestsPerHour {
		return false
	}
	return cw.bucket.AllowN(now, 1)
}

// ActiveClients returns the number of clients with tracked windows.
func (sl *SlidingWindowLimiter) ActiveClients() int {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return len(sl.clients)
}
