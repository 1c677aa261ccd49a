package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mangadox/mangadox/internal/model"
	"github.com/mangadox/mangadox/internal/store"
)

func newTestManager(t *testing.T, ttl time.Duration) (*Manager, *store.Store, int64) {
	t.Helper()
	st, err := store.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	user := &model.User{
		Username:     "reader1",
		Email:        "reader1@example.com",
		PasswordHash: "x",
		IsActive:     true,
	}
	if err := st.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	return NewManager(st, ttl), st, user.ID
}

func TestIssueAndResolve(t *testing.T) {
	m, _, userID := newTestManager(t, time.Hour)
	ctx := context.Background()

	token, err := m.Issue(ctx, userID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if len(token) != 64 {
		t.Errorf("token length: got %d, want 64 hex chars", len(token))
	}

	sess, err := m.Resolve(ctx, token)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if sess.UserID != userID {
		t.Errorf("UserID: got %d, want %d", sess.UserID, userID)
	}
	// The raw token must never be persisted.
	if sess.TokenHash == token {
		t.Error("raw token stored instead of its hash")
	}
	if sess.TokenHash != HashToken(token) {
		t.Error("stored hash does not match HashToken")
	}
}

func TestIssueTokensAreUnique(t *testing.T) {
	m, _, userID := newTestManager(t, time.Hour)
	ctx := context.Background()

	a, err := m.Issue(ctx, userID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	b, err := m.Issue(ctx, userID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if a == b {
		t.Error("two issued tokens are identical")
	}
}

func TestResolveUnknownToken(t *testing.T) {
	m, _, _ := newTestManager(t, time.Hour)

	if _, err := m.Resolve(context.Background(), "deadbeef"); !errors.Is(err, ErrNoSession) {
		t.Errorf("got %v, want ErrNoSession", err)
	}
	if _, err := m.Resolve(context.Background(), ""); !errors.Is(err, ErrNoSession) {
		t.Errorf("empty token: got %v, want ErrNoSession", err)
	}
}

func TestResolveExpiredSessionFlushes(t *testing.T) {
	m, st, userID := newTestManager(t, -time.Minute)
	ctx := context.Background()

	token, err := m.Issue(ctx, userID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := m.Resolve(ctx, token); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expired session: got %v, want ErrNoSession", err)
	}

	// The expired row is gone, not just hidden.
	if _, err := st.GetSessionByTokenHash(ctx, HashToken(token)); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expired session still stored: %v", err)
	}
}

func TestFlush(t *testing.T) {
	m, _, userID := newTestManager(t, time.Hour)
	ctx := context.Background()

	token, err := m.Issue(ctx, userID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if err := m.Flush(ctx, token); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if _, err := m.Resolve(ctx, token); !errors.Is(err, ErrNoSession) {
		t.Errorf("after flush: got %v, want ErrNoSession", err)
	}

	// Idempotent; unknown and empty tokens are no-ops.
	if err := m.Flush(ctx, token); err != nil {
		t.Errorf("second flush: %v", err)
	}
	if err := m.Flush(ctx, ""); err != nil {
		t.Errorf("empty flush: %v", err)
	}
}

func TestFlushUser(t *testing.T) {
	m, _, userID := newTestManager(t, time.Hour)
	ctx := context.Background()

	a, _ := m.Issue(ctx, userID)
	b, _ := m.Issue(ctx, userID)

	if err := m.FlushUser(ctx, userID); err != nil {
		t.Fatalf("FlushUser: %v", err)
	}
	if _, err := m.Resolve(ctx, a); !errors.Is(err, ErrNoSession) {
		t.Error("first session survived")
	}
	if _, err := m.Resolve(ctx, b); !errors.Is(err, ErrNoSession) {
		t.Error("second session survived")
	}
}

func TestSweep(t *testing.T) {
	m, st, userID := newTestManager(t, time.Hour)
	ctx := context.Background()

	// One live session via the manager, one stale row planted directly.
	live, _ := m.Issue(ctx, userID)
	stale := &model.Session{
		TokenHash: HashToken("stale-token"),
		UserID:    userID,
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
	}
	if err := st.CreateSession(ctx, stale); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	n, err := m.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("swept: got %d, want 1", n)
	}
	if _, err := m.Resolve(ctx, live); err != nil {
		t.Errorf("live session swept: %v", err)
	}
}

func TestDefaultTTLFallback(t *testing.T) {
	m := NewManager(nil, 0)
	if m.ttl != DefaultTTL {
		t.Errorf("ttl: got %v, want %v", m.ttl, DefaultTTL)
	}
}
