package ctlplane

import (
	"sync"
	"time"

	"github.com/rampart-fw/rampart/internal/clock"
)

// tokenBucket allows bursts up to capacity while holding an average
// rate. Tokens accrue at refillRate per second, measured against the
// package clock so tests can drive time.
type tokenBucket struct {
	capacity   float64
	tokens     float64
	refillRate float64
	lastRefill time.Time
}

func (b *tokenBucket) take(now time.Time) bool {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.refillRate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.lastRefill = now
	}
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// uidLimiter keeps one token bucket per peer UID. A zero refill rate
// disables limiting entirely.
type uidLimiter struct {
	mu      sync.Mutex
	buckets map[uint32]*tokenBucket
	rate    float64
	burst   float64
}

func newUIDLimiter(ratePerSecond float64, burst int) *uidLimiter {
	return &uidLimiter{
		buckets: make(map[uint32]*tokenBucket),
		rate:    ratePerSecond,
		burst:   float64(burst),
	}
}

// allow reports whether a request from uid may proceed.
func (l *uidLimiter) allow(uid uint32) bool {
	if l == nil || l.rate <= 0 {
		return true
	}
	now := clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[uid]
	if !ok {
		b = &tokenBucket{
			capacity:   l.burst,
			tokens:     l.burst,
			refillRate: l.rate,
			lastRefill: now,
		}
		l.buckets[uid] = b
	}
	return b.take(now)
}
