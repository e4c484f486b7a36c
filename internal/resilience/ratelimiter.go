package resilience

import (
	"errors"
	"sync"
	"time"
)

var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// RateLimiterConfig holds rate limiter configuration
type RateLimiterConfig struct {
	Rate      int           `mapstructure:"rate"`   // requests per period
	Period    time.Duration `mapstructure:"period"` // time period
	BurstSize int           `mapstructure:"burst_size"`
}

// DefaultRateLimiterConfig allows a short burst of admin operations
func DefaultRateLimiterConfig() *RateLimiterConfig {
	return &RateLimiterConfig{
		Rate:      10,
		Period:    time.Minute,
		BurstSize: 5,
	}
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// KeyedLimiter is a token bucket per key, typically a client address.
// Buckets idle long enough to be full again are dropped on access.
type KeyedLimiter struct {
	maxTokens  float64
	refillRate float64 // tokens per nanosecond
	buckets    map[string]*bucket
	now        func() time.Time
	mutex      sync.Mutex
}

// NewKeyedLimiter creates a keyed token bucket limiter
func NewKeyedLimiter(config *RateLimiterConfig) *KeyedLimiter {
	if config == nil {
		config = DefaultRateLimiterConfig()
	}
	burst := max(config.BurstSize, 1)
	period := config.Period
	if period <= 0 {
		period = time.Second
	}
	return &KeyedLimiter{
		maxTokens:  float64(burst),
		refillRate: float64(max(config.Rate, 1)) / float64(period.Nanoseconds()),
		buckets:    make(map[string]*bucket),
		now:        time.Now,
	}
}

// Allow takes one token from key's bucket
func (l *KeyedLimiter) Allow(key string) bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.maxTokens, lastRefill: now}
		l.buckets[key] = b
	}

	b.tokens += float64(now.Sub(b.lastRefill).Nanoseconds()) * l.refillRate
	if b.tokens > l.maxTokens {
		b.tokens = l.maxTokens
	}
	b.lastRefill = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	l.evict(now)
	return true
}

// evict must be called with the mutex held
func (l *KeyedLimiter) evict(now time.Time) {
	if len(l.buckets) < 1024 {
		return
	}
	full := time.Duration(l.maxTokens / l.refillRate)
	for key, b := range l.buckets {
		if now.Sub(b.lastRefill) > full {
			delete(l.buckets, key)
		}
	}
}
