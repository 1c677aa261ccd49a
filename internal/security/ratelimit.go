package security

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mangadox/mangadox/internal/counter"
)

// Limiter throttles per-client actions against a shared counter store. The
// counter store is injected and shared by reference; there are no hidden
// globals. Windows are fixed, not sliding: a counter expires a full window
// after it was first created, so a burst straddling a window boundary can
// see up to twice the limit. That approximation is accepted.
type Limiter struct {
	counters counter.Store
	logger   *slog.Logger
}

// NewLimiter creates a Limiter over the given counter store.
func NewLimiter(counters counter.Store, logger *slog.Logger) *Limiter {
	return &Limiter{counters: counters, logger: logger}
}

// IsLimited reports whether the client identified by identifier has exhausted
// its budget for action. The check and the increment are one atomic counter
// operation: the call is limited when the counter before incrementing was
// already at the limit, otherwise the counter is incremented and the call is
// allowed. A counter-store failure is returned as an error; callers must
// fail closed.
func (l *Limiter) IsLimited(ctx context.Context, identifier, action string, limit int, window time.Duration) (bool, error) {
	key := fmt.Sprintf("rate_limit:%s:%s", action, identifier)

	before, err := l.counters.Bump(ctx, key, limit, window)
	if err != nil {
		return true, fmt.Errorf("rate limit check for %s: %w", action, err)
	}

	if before >= limit {
		l.logger.Warn("rate limit exceeded", "action", action, "client_id", identifier)
		return true, nil
	}
	return false, nil
}
