package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mangadox/mangadox/internal/model"
)

// CreateSession inserts a new session row. The ID and CreatedAt fields are
// populated after insert. TokenHash must already be set by the caller.
func (s *Store) CreateSession(ctx context.Context, sess *model.Session) error {
	sess.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO sessions (token_hash, user_id, created_at, expires_at)
		VALUES (:token_hash, :user_id, :created_at, :expires_at)`

	result, err := s.db.NamedExecContext(ctx, q, sess)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get session id: %w", err)
	}
	sess.ID = id
	return nil
}

// GetSessionByTokenHash looks up a session by the hash of its token.
func (s *Store) GetSessionByTokenHash(ctx context.Context, hash string) (*model.Session, error) {
	var sess model.Session
	if err := s.db.GetContext(ctx, &sess, "SELECT * FROM sessions WHERE token_hash = ?", hash); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &sess, nil
}

// DeleteSessionByTokenHash removes a single session. Deleting a session that
// does not exist is not an error; flush must be idempotent.
func (s *Store) DeleteSessionByTokenHash(ctx context.Context, hash string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE token_hash = ?", hash); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteSessionsByUser removes every session belonging to a user.
func (s *Store) DeleteSessionsByUser(ctx context.Context, userID int64) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("delete user sessions: %w", err)
	}
	return nil
}

// DeleteExpiredSessions removes sessions past their expiry. Returns the
// number of rows removed.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at <= ?", now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions rows affected: %w", err)
	}
	return n, nil
}
