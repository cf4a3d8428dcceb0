package ratelimit

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)}
}

func newTestLimiter(c *fakeClock, cfg Config) *Limiter {
	cfg.Clock = c.now
	return New(cfg)
}

func TestAllowBurstThenDeny(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock, Config{PerMinute: 60, Burst: 3})

	for i := 0; i < 3; i++ {
		if ok, _ := l.Allow(1); !ok {
			t.Fatalf("admission %d within burst must pass", i+1)
		}
	}
	ok, retry := l.Allow(1)
	if ok {
		t.Fatalf("fourth admission must be denied")
	}
	if retry <= 0 || retry > time.Second {
		t.Fatalf("retry delay at 1/sec refill should be within a second, got %v", retry)
	}
}

func TestAllowRefills(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock, Config{PerMinute: 60, Burst: 1})

	if ok, _ := l.Allow(1); !ok {
		t.Fatalf("first admission must pass")
	}
	if ok, _ := l.Allow(1); ok {
		t.Fatalf("bucket must be empty")
	}
	clock.advance(time.Second)
	if ok, _ := l.Allow(1); !ok {
		t.Fatalf("one token must have refilled after a second")
	}
}

func TestAllowIsPerCaller(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock, Config{PerMinute: 60, Burst: 1})

	if ok, _ := l.Allow(1); !ok {
		t.Fatalf("caller 1 must be admitted")
	}
	if ok, _ := l.Allow(2); !ok {
		t.Fatalf("caller 2 has an independent bucket")
	}
	if ok, _ := l.Allow(1); ok {
		t.Fatalf("caller 1 is out of tokens")
	}
}

func TestNilLimiterAdmitsEverything(t *testing.T) {
	var l *Limiter
	for i := 0; i < 100; i++ {
		if ok, retry := l.Allow(1); !ok || retry != 0 {
			t.Fatalf("nil limiter must admit everything")
		}
	}
	if New(Config{PerMinute: 0}) != nil {
		t.Fatalf("zero rate must disable limiting")
	}
}

func TestBurstDefaultsToRate(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock, Config{PerMinute: 5})

	admitted := 0
	for i := 0; i < 10; i++ {
		if ok, _ := l.Allow(1); ok {
			admitted++
		}
	}
	if admitted != 5 {
		t.Fatalf("default burst must equal the per-minute rate, admitted %d", admitted)
	}
}

func TestIdleBucketsEvicted(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock, Config{PerMinute: 60, Burst: 1})

	l.Allow(1)
	l.Allow(2)
	if len(l.buckets) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(l.buckets))
	}

	clock.advance(31 * time.Minute)
	// Caller 3's admission triggers the sweep; 1 and 2 are idle past the
	// window and go away.
	l.Allow(3)
	if len(l.buckets) != 1 {
		t.Fatalf("idle buckets must be evicted, got %d", len(l.buckets))
	}
}
