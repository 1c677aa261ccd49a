// Package session manages server-side login sessions. Tokens are opaque
// 256-bit random values; only their SHA-256 hashes are persisted, so a leaked
// sessions table cannot be replayed.
package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/mangadox/mangadox/internal/model"
	"github.com/mangadox/mangadox/internal/store"
)

// ErrNoSession is returned when a token does not resolve to a live session.
var ErrNoSession = errors.New("no such session")

// DefaultTTL is how long a session stays valid without an explicit logout.
const DefaultTTL = 7 * 24 * time.Hour

// Manager issues, resolves, and flushes sessions against the store.
type Manager struct {
	store *store.Store
	ttl   time.Duration
}

// NewManager creates a Manager. A non-positive ttl falls back to DefaultTTL.
func NewManager(st *store.Store, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{store: st, ttl: ttl}
}

// Issue creates a fresh session bound to userID and returns the raw token.
// The token is shown to the client exactly once.
func (m *Manager) Issue(ctx context.Context, userID int64) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	token := hex.EncodeToString(buf)

	sess := &model.Session{
		TokenHash: HashToken(token),
		UserID:    userID,
		ExpiresAt: time.Now().UTC().Add(m.ttl),
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return "", err
	}
	return token, nil
}

// Resolve returns the session for a raw token. Expired sessions are flushed
// on sight and reported as ErrNoSession.
func (m *Manager) Resolve(ctx context.Context, token string) (*model.Session, error) {
	if token == "" {
		return nil, ErrNoSession
	}

	hash := HashToken(token)
	sess, err := m.store.GetSessionByTokenHash(ctx, hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNoSession
		}
		return nil, err
	}

	if sess.Expired(time.Now().UTC()) {
		_ = m.store.DeleteSessionByTokenHash(ctx, hash)
		return nil, ErrNoSession
	}
	return sess, nil
}

// Flush invalidates a single session by raw token. Flushing an unknown or
// already-flushed token is a no-op.
func (m *Manager) Flush(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return m.store.DeleteSessionByTokenHash(ctx, HashToken(token))
}

// FlushUser invalidates every session belonging to a user. Used when an
// account is deactivated.
func (m *Manager) FlushUser(ctx context.Context, userID int64) error {
	return m.store.DeleteSessionsByUser(ctx, userID)
}

// Sweep removes expired sessions. Intended to be called periodically.
func (m *Manager) Sweep(ctx context.Context) (int64, error) {
	return m.store.DeleteExpiredSessions(ctx, time.Now().UTC())
}

// HashToken returns the hex-encoded SHA-256 hash of a raw session token.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
