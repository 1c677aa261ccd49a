// Package counter provides the time-windowed counter store used by the rate
// limiter. Counters are ephemeral: they expire a fixed interval after first
// creation and are not required to survive process restarts.
package counter

import (
	"context"
	"time"
)

// Store is a key-value counter store with TTL support. Implementations must
// make Bump atomic: a check-and-increment under concurrent callers never
// loses an update.
type Store interface {
	// Bump reads the counter at key and, unless the observed value is
	// already at or above limit, increments it. The value observed before
	// the increment is returned either way. A counter expires ttl after it
	// was first created in the current window (fixed window).
	Bump(ctx context.Context, key string, limit int, ttl time.Duration) (int, error)

	// Get returns the current counter value, or 0 if the key is absent or
	// expired.
	Get(ctx context.Context, key string) (int, error)
}
