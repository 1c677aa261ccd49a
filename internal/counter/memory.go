package counter

import (
	"context"
	"sync"
	"time"
)

const janitorInterval = 1 * time.Minute

// Memory is an in-process Store backed by a mutex-guarded map. Expired
// entries are dropped lazily on access and swept periodically by a janitor
// goroutine. Construct one per process and share it by reference.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type entry struct {
	count     int
	expiresAt time.Time
}

// NewMemory creates a new in-memory counter store. Call Start to enable the
// background sweep and Shutdown to stop it.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Bump implements Store. The whole check-and-increment runs under the store
// lock, so concurrent callers serialize and every increment is observed.
func (m *Memory) Bump(_ context.Context, key string, limit int, ttl time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e, ok := m.entries[key]
	if !ok || !now.Before(e.expiresAt) {
		// Absent or expired: this access opens a fresh window.
		m.entries[key] = &entry{count: 1, expiresAt: now.Add(ttl)}
		return 0, nil
	}

	before := e.count
	if before < limit {
		e.count++
	}
	return before, nil
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || !m.now().Before(e.expiresAt) {
		return 0, nil
	}
	return e.count, nil
}

// Start begins the background janitor that evicts expired counters.
// Non-blocking.
func (m *Memory) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(janitorInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.sweep()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Shutdown stops the janitor goroutine.
func (m *Memory) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *Memory) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, key)
		}
	}
}
