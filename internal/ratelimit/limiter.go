package ratelimit

import (
	"sync"
	"time"
)

// Limiter hands out stream admissions per caller id. Each caller gets an
// independent token bucket; buckets idle past the eviction window are dropped
// so the map does not grow with every caller ever seen.
type Limiter struct {
	perMinute int
	burst     int
	now       func() time.Time

	mu      sync.Mutex
	buckets map[int64]*tokenBucket
	lastGC  time.Time
}

// Config sizes a Limiter. PerMinute is the sustained admission rate; Burst is
// how many streams a caller may start back to back. Zero values disable
// limiting entirely.
type Config struct {
	PerMinute int
	Burst     int
	Clock     func() time.Time
}

const evictAfter = 30 * time.Minute

// New creates a Limiter. Returns nil when limiting is disabled, and a nil
// Limiter admits everything.
func New(cfg Config) *Limiter {
	if cfg.PerMinute <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.PerMinute
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		perMinute: cfg.PerMinute,
		burst:     burst,
		now:       now,
		buckets:   make(map[int64]*tokenBucket),
		lastGC:    now(),
	}
}

// Allow admits one stream for the caller. The returned duration is the
// suggested retry delay when admission is denied.
func (l *Limiter) Allow(callerID int64) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	now := l.now()
	b := l.bucket(callerID, now)
	if b.take(now) {
		return true, 0
	}
	return false, b.retryAfter(now)
}

func (l *Limiter) bucket(callerID int64, now time.Time) *tokenBucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.lastGC) > evictAfter {
		cutoff := now.Add(-evictAfter)
		for id, b := range l.buckets {
			if b.idleSince(cutoff) {
				delete(l.buckets, id)
			}
		}
		l.lastGC = now
	}
	b, ok := l.buckets[callerID]
	if !ok {
		b = newTokenBucket(float64(l.burst), float64(l.perMinute)/60, now)
		l.buckets[callerID] = b
	}
	return b
}
