package counter

import (
	"context"
	"sync"
	"testing"
	"time"
)

func newTestMemory(start time.Time) (*Memory, *time.Time) {
	m := NewMemory()
	now := start
	m.now = func() time.Time { return now }
	return m, &now
}

func TestBumpFreshWindow(t *testing.T) {
	m, _ := newTestMemory(time.Unix(1000, 0))
	ctx := context.Background()

	before, err := m.Bump(ctx, "k", 5, time.Minute)
	if err != nil {
		t.Fatalf("Bump: %v", err)
	}
	if before != 0 {
		t.Errorf("first bump: got %d, want 0", before)
	}

	count, err := m.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if count != 1 {
		t.Errorf("count after first bump: got %d, want 1", count)
	}
}

func TestBumpStopsAtLimit(t *testing.T) {
	m, _ := newTestMemory(time.Unix(1000, 0))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		before, err := m.Bump(ctx, "k", 3, time.Minute)
		if err != nil {
			t.Fatalf("Bump %d: %v", i, err)
		}
		if before != i {
			t.Errorf("bump %d: got before=%d, want %d", i, before, i)
		}
	}

	// At the limit the counter must not grow further.
	for i := 0; i < 4; i++ {
		before, err := m.Bump(ctx, "k", 3, time.Minute)
		if err != nil {
			t.Fatalf("Bump at limit: %v", err)
		}
		if before != 3 {
			t.Errorf("bump at limit: got before=%d, want 3", before)
		}
	}

	count, _ := m.Get(ctx, "k")
	if count != 3 {
		t.Errorf("count pinned at limit: got %d, want 3", count)
	}
}

func TestBumpWindowExpiry(t *testing.T) {
	m, now := newTestMemory(time.Unix(1000, 0))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		m.Bump(ctx, "k", 3, time.Minute)
	}

	// Advancing short of the window keeps the counter.
	*now = now.Add(59 * time.Second)
	if before, _ := m.Bump(ctx, "k", 3, time.Minute); before != 3 {
		t.Errorf("inside window: got before=%d, want 3", before)
	}

	// The window is anchored at creation, not at the last bump.
	*now = now.Add(2 * time.Second)
	before, err := m.Bump(ctx, "k", 3, time.Minute)
	if err != nil {
		t.Fatalf("Bump after expiry: %v", err)
	}
	if before != 0 {
		t.Errorf("after expiry: got before=%d, want 0", before)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	m, _ := newTestMemory(time.Unix(1000, 0))
	ctx := context.Background()

	m.Bump(ctx, "a", 5, time.Minute)
	m.Bump(ctx, "a", 5, time.Minute)
	m.Bump(ctx, "b", 5, time.Minute)

	if count, _ := m.Get(ctx, "a"); count != 2 {
		t.Errorf("key a: got %d, want 2", count)
	}
	if count, _ := m.Get(ctx, "b"); count != 1 {
		t.Errorf("key b: got %d, want 1", count)
	}
	if count, _ := m.Get(ctx, "missing"); count != 0 {
		t.Errorf("missing key: got %d, want 0", count)
	}
}

func TestSweepEvictsExpired(t *testing.T) {
	m, now := newTestMemory(time.Unix(1000, 0))
	ctx := context.Background()

	m.Bump(ctx, "old", 5, time.Minute)
	*now = now.Add(30 * time.Second)
	m.Bump(ctx, "fresh", 5, time.Minute)

	*now = now.Add(45 * time.Second)
	m.sweep()

	m.mu.Lock()
	_, oldThere := m.entries["old"]
	_, freshThere := m.entries["fresh"]
	m.mu.Unlock()

	if oldThere {
		t.Error("expired entry survived sweep")
	}
	if !freshThere {
		t.Error("live entry was swept")
	}
}

func TestBumpConcurrent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Bump(ctx, "k", 1000, time.Minute)
		}()
	}
	wg.Wait()

	count, err := m.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if count != 50 {
		t.Errorf("concurrent bumps: got %d, want 50", count)
	}
}
