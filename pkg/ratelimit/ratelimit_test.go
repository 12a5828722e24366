package ratelimit

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestLimiter(limit int, window time.Duration) (*Limiter, *fakeClock) {
	l := New(limit, window)
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l.now = clock.now
	return l, clock
}

func TestAllowExhaustsAndRefills(t *testing.T) {
	l, clock := newTestLimiter(3, time.Minute)
	defer l.Stop()

	for i := 0; i < 3; i++ {
		if !l.Allow("1.2.3.4") {
			t.Fatalf("request %d rejected", i)
		}
	}
	if l.Allow("1.2.3.4") {
		t.Fatal("fourth request within window allowed")
	}
	if !l.Allow("5.6.7.8") {
		t.Fatal("other key should have its own bucket")
	}

	clock.t = clock.t.Add(20 * time.Second)
	if !l.Allow("1.2.3.4") {
		t.Fatal("token should refill after a third of the window")
	}
	if l.Allow("1.2.3.4") {
		t.Fatal("only one token should have refilled")
	}
}

func TestResetAndSweep(t *testing.T) {
	l, clock := newTestLimiter(1, time.Second)
	defer l.Stop()

	l.Allow("a")
	if l.Allow("a") {
		t.Fatal("expected rejection")
	}
	l.Reset("a")
	if !l.Allow("a") {
		t.Fatal("reset key should be allowed")
	}

	clock.t = clock.t.Add(time.Minute)
	l.sweep()
	l.mu.Lock()
	n := len(l.entries)
	l.mu.Unlock()
	if n != 0 {
		t.Errorf("stale entries kept: %d", n)
	}
}

func TestRetryAfter(t *testing.T) {
	l := New(120, time.Minute)
	defer l.Stop()
	if got := l.RetryAfter(); got != 500*time.Millisecond {
		t.Errorf("RetryAfter = %v", got)
	}
	l.Stop()
}
