package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestLimiter(t *testing.T, rate float64, burst int) (*MemoryLimiter, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	m := newMemoryLimiter(rate, burst, clock.Now)
	t.Cleanup(func() {
		if err := m.Close(); err != nil {
			t.Fatalf("Close error: %v", err)
		}
	})
	return m, clock
}

func TestMemoryLimiterDenyAfterBurst(t *testing.T) {
	m, _ := newTestLimiter(t, 10, 3)
	ctx := context.Background()

	for i := range 3 {
		ok, err := m.Allow(ctx, "oracle")
		if err != nil {
			t.Fatalf("Allow error: %v", err)
		}
		if !ok {
			t.Fatalf("expected Allow=true for call %d (within burst)", i)
		}
	}
	ok, err := m.Allow(ctx, "oracle")
	if err != nil {
		t.Fatalf("Allow error: %v", err)
	}
	if ok {
		t.Fatal("expected Allow=false after burst exhausted")
	}
}

func TestMemoryLimiterTokenRefill(t *testing.T) {
	m, clock := newTestLimiter(t, 2, 1) // one token every 500ms
	ctx := context.Background()

	if ok, _ := m.Allow(ctx, "oracle"); !ok {
		t.Fatal("first call should be allowed")
	}
	if ok, _ := m.Allow(ctx, "oracle"); ok {
		t.Fatal("second immediate call should be denied")
	}

	clock.Advance(499 * time.Millisecond)
	if ok, _ := m.Allow(ctx, "oracle"); ok {
		t.Fatal("call before a full token refilled should be denied")
	}

	clock.Advance(2 * time.Millisecond)
	if ok, _ := m.Allow(ctx, "oracle"); !ok {
		t.Fatal("expected Allow=true after refill period")
	}
}

func TestMemoryLimiterIndependentKeys(t *testing.T) {
	m, _ := newTestLimiter(t, 10, 1)
	ctx := context.Background()

	if ok, _ := m.Allow(ctx, "a"); !ok {
		t.Fatal("first call for 'a' should succeed")
	}
	if ok, _ := m.Allow(ctx, "a"); ok {
		t.Fatal("second call for 'a' should be denied")
	}
	if ok, _ := m.Allow(ctx, "b"); !ok {
		t.Fatal("first call for 'b' should succeed")
	}
}

func TestMemoryLimiterTokensCapAtBurst(t *testing.T) {
	m, clock := newTestLimiter(t, 1000, 3)
	ctx := context.Background()

	_, _ = m.Allow(ctx, "k1")
	clock.Advance(time.Hour)

	for i := range 3 {
		if ok, _ := m.Allow(ctx, "k1"); !ok {
			t.Fatalf("expected Allow=true for call %d after long idle", i)
		}
	}
	if ok, _ := m.Allow(ctx, "k1"); ok {
		t.Fatal("expected Allow=false after burst exhausted, even after long idle")
	}
}

func TestMemoryLimiterZeroBurstDenies(t *testing.T) {
	m, _ := newTestLimiter(t, 10, 0)
	if ok, _ := m.Allow(context.Background(), "k1"); ok {
		t.Fatal("zero burst should never allow")
	}
}

func TestMemoryLimiterSweepsStaleKeys(t *testing.T) {
	m, clock := newTestLimiter(t, 10, 5)
	ctx := context.Background()

	_, _ = m.Allow(ctx, "stale")
	clock.Advance(15 * time.Minute)
	_, _ = m.Allow(ctx, "fresh")

	if got := m.size(); got != 1 {
		t.Fatalf("expected only the fresh key to remain, got %d keys", got)
	}
}

func TestMemoryLimiterConcurrent(t *testing.T) {
	m, _ := newTestLimiter(t, 100, 50)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				ok, err := m.Allow(ctx, "shared")
				if err != nil {
					t.Errorf("Allow error: %v", err)
					return
				}
				if ok {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	// The clock never advances, so exactly the burst is allowed.
	if allowed != 50 {
		t.Fatalf("expected 50 allowed calls, got %d", allowed)
	}
}

func TestMemoryLimiterCloseIdempotent(t *testing.T) {
	m := NewMemoryLimiter(10, 5)
	if err := m.Close(); err != nil {
		t.Fatalf("first Close error: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
}

func TestNoopLimiterAlwaysAllows(t *testing.T) {
	var l NoopLimiter
	ctx := context.Background()
	for range 1000 {
		ok, err := l.Allow(ctx, "anything")
		if err != nil {
			t.Fatalf("NoopLimiter.Allow error: %v", err)
		}
		if !ok {
			t.Fatal("NoopLimiter should always return true")
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("NoopLimiter.Close error: %v", err)
	}
}
