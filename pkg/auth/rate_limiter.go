package auth

import (
	"sync"
	"time"
)

// RateLimiter bounds request rates per key.
type RateLimiter struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	maxTokens  int
	refillRate time.Duration
}

type bucket struct {
	tokens     int
	lastRefill time.Time
}

// NewRateLimiter allows maxTokens requests per key, refilling one
// token per refillRate.
func NewRateLimiter(maxTokens int, refillRate time.Duration) *RateLimiter {
	l := &RateLimiter{
		buckets:    make(map[string]*bucket),
		maxTokens:  maxTokens,
		refillRate: refillRate,
	}
	go l.cleanup()
	return l
}

// NewIPRateLimiter allows requestsPerMinute requests per client IP.
func NewIPRateLimiter(requestsPerMinute int) *RateLimiter {
	return NewRateLimiter(requestsPerMinute, time.Minute/time.Duration(requestsPerMinute))
}

// Allow reports whether a request under key may proceed.
func (l *RateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[key]
	if !ok {
		l.buckets[key] = &bucket{tokens: l.maxTokens - 1, lastRefill: now}
		return true
	}

	refill := int(now.Sub(b.lastRefill) / l.refillRate)
	if refill > 0 {
		b.tokens += refill
		if b.tokens > l.maxTokens {
			b.tokens = l.maxTokens
		}
		b.lastRefill = now
	}
	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

// cleanup drops buckets idle long enough to be full again.
func (l *RateLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		idle := time.Duration(l.maxTokens) * l.refillRate
		l.mu.Lock()
		for key, b := range l.buckets {
			if time.Since(b.lastRefill) > idle {
				delete(l.buckets, key)
			}
		}
		l.mu.Unlock()
	}
}
